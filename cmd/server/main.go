package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "chatrelay/internal/adapters/http"
	"chatrelay/internal/adapters/memory"
	signalws "chatrelay/internal/adapters/signal"
	"chatrelay/internal/app"
	"chatrelay/internal/app/call"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	convStore := memory.NewConversationStore()
	blocks := memory.NewBlockService()
	push := memory.NewPushService()
	users := memory.NewUserDirectory()

	presence := app.NewPresence()
	membership := app.NewMembership(convStore)
	dispatcher := app.NewDispatcher(presence, membership, blocks)
	coord := call.NewCoordinator(dispatcher, presence, blocks, push, cfg.RingTimeout, cfg.DisconnectGrace)
	status := app.NewStatusNotifier(dispatcher, convStore, users)

	presence.Watch(coord.OnPresence)
	presence.Watch(func(uid domain.UserID, online bool) {
		go status.OnPresence(uid, online)
	})

	ctl := signalws.NewController(cfg, presence, dispatcher, coord, push)

	r := router.SetupRouter(ctx, &router.Deps{
		Cfg:        cfg,
		Presence:   presence,
		Membership: membership,
		Dispatcher: dispatcher,
		Store:      convStore,
		Blocks:     blocks,
		Users:      users,
		Signal:     ctl,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
