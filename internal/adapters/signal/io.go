package signal

import (
	"context"
	"encoding/json"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *core.Session, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(ctx, sess, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, sess *core.Session, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(c)
	case "message":
		ctl.handleMessage(ctx, sess, c, data)
	case "typing":
		ctl.handleTyping(ctx, sess, c, data)
	case "status":
		ctl.handleStatus(ctx, sess, c, data)
	case "call_offer":
		ctl.handleCallOffer(ctx, sess, c, data)
	case "call_ring":
		ctl.handleCallRing(sess, c, data)
	case "call_answer":
		ctl.handleCallAnswer(sess, c, data)
	case "call_reject":
		ctl.handleCallReject(sess, c, data)
	case "call_hangup":
		ctl.handleCallHangup(sess, c, data)
	case "call_connected":
		ctl.handleCallConnected(sess, c, data)
	case "candidate":
		ctl.handleCandidate(sess, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, code string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": code,
	})
}

// sendErr maps a core error to its wire code. Errors always go back to
// the initiator of the action, never to the counterpart.
func (ctl *Controller) sendErr(c *wsConn, err error) {
	ctl.sendError(c, domain.ErrorCode(err))
}
