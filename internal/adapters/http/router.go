package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chatrelay/internal/adapters/memory"
	"chatrelay/internal/adapters/signal"
	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Deps is everything the router wires endpoints onto.
type Deps struct {
	Cfg        *config.Config
	Presence   *app.Presence
	Membership *app.Membership
	Dispatcher *app.Dispatcher
	Store      *memory.ConversationStore
	Blocks     *memory.BlockService
	Users      *memory.UserDirectory
	Signal     *signal.Controller
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable identity cookie on each client.
// Every connection carrying the same token is a device of the same user.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, d *Deps) *gin.Engine {
	if d.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(d.Cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	api.GET("/presence/:user", func(c *gin.Context) {
		uid := domain.UserID(c.Param("user"))
		c.JSON(http.StatusOK, gin.H{
			"user":   uid,
			"online": d.Presence.IsOnline(uid),
		})
	})

	api.POST("/users", func(c *gin.Context) {
		var req struct {
			DisplayName string `json:"display_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing display_name"})
			return
		}
		u, err := d.Users.Create(req.DisplayName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, u)
	})

	api.PUT("/users/:id", func(c *gin.Context) {
		var req struct {
			DisplayName string `json:"display_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing display_name"})
			return
		}
		err := d.Users.Rename(domain.UserID(c.Param("id")), req.DisplayName)
		switch {
		case errors.Is(err, domain.ErrUnknownUser):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		}
	})

	api.POST("/conversations", func(c *gin.Context) {
		var req struct {
			Direct  bool            `json:"direct"`
			Members []domain.UserID `json:"members"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Members) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid members"})
			return
		}
		if req.Direct && len(req.Members) != 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direct conversation needs exactly two members"})
			return
		}
		conv := d.Store.Create(req.Direct, req.Members)
		c.JSON(http.StatusOK, conv)
	})

	// Membership change hook from the conversation-management side:
	// mutate the store, invalidate the cache, relay the event.
	api.POST("/conversations/:id/members", func(c *gin.Context) {
		cid := domain.ConversationID(c.Param("id"))
		var req struct {
			Action string        `json:"action"`
			UserID domain.UserID `json:"user_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid user_id"})
			return
		}

		var evType domain.EventType
		var ok bool
		switch req.Action {
		case "add":
			ok = d.Store.AddMember(cid, req.UserID)
			evType = domain.EventParticipantAdded
		case "remove":
			ok = d.Store.RemoveMember(cid, req.UserID)
			evType = domain.EventParticipantRemoved
		case "leave":
			ok = d.Store.RemoveMember(cid, req.UserID)
			evType = domain.EventParticipantLeft
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
			return
		}

		d.Membership.Invalidate(cid)
		payload, _ := json.Marshal(domain.ParticipantPayload{UserID: req.UserID})
		ev := &domain.Event{Type: evType, Payload: payload}
		if _, err := d.Dispatcher.Broadcast(c.Request.Context(), cid, ev); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("conversation", string(cid)).Msg("participant fanout dropped")
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.POST("/blocks", func(c *gin.Context) {
		var req struct {
			Blocker domain.UserID `json:"blocker"`
			Blocked domain.UserID `json:"blocked"`
			Undo    bool          `json:"undo"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Blocker == "" || req.Blocked == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing blocker or blocked"})
			return
		}
		if req.Undo {
			d.Blocks.Unblock(req.Blocker, req.Blocked)
		} else {
			d.Blocks.Block(req.Blocker, req.Blocked)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
