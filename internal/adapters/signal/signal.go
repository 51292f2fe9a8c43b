package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"chatrelay/internal/app"
	"chatrelay/internal/app/call"
	"chatrelay/internal/config"
	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// Controller terminates websocket connections and maps wire messages onto
// the relay core. One readPump/writePump pair per connection; the write
// pump is the only writer, which is what keeps per-target delivery FIFO.
type Controller struct {
	cfg        *config.Config
	presence   *app.Presence
	dispatcher *app.Dispatcher
	coord      *call.Coordinator
	push       core.PushService
	limiter    *CallRateLimiter
}

func NewController(cfg *config.Config, presence *app.Presence, dispatcher *app.Dispatcher, coord *call.Coordinator, push core.PushService) *Controller {
	return &Controller{
		cfg:        cfg,
		presence:   presence,
		dispatcher: dispatcher,
		coord:      coord,
		push:       push,
		limiter:    NewCallRateLimiter(cfg.CallRateLimit, cfg.CallRateWindow),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection, registers the session with the
// presence registry and runs the pumps until disconnect.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	sess := core.NewSession(uid, conn)
	ctl.presence.Register(sess)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("user", string(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, sess, conn)
		ctl.presence.Unregister(sess.ID)
	}()
}
