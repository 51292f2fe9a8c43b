package signal

import (
	"context"
	"encoding/json"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

type chatEnvelope struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	Payload        json.RawMessage       `json:"payload"`
}

func (ctl *Controller) decodeChat(c *wsConn, data []byte) (chatEnvelope, bool) {
	var env chatEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.ConversationID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendError(c, "bad_payload")
		return env, false
	}
	return env, true
}

// handleMessage relays a new chat message to every member's live
// sessions; members with no session become push targets.
func (ctl *Controller) handleMessage(ctx context.Context, sess *core.Session, c *wsConn, data []byte) {
	env, ok := ctl.decodeChat(c, data)
	if !ok {
		return
	}
	ev := &domain.Event{
		Type:     domain.EventNewMessage,
		SenderID: sess.UserID,
		Payload:  env.Payload,
	}
	res, err := ctl.dispatcher.Broadcast(ctx, env.ConversationID, ev)
	if err != nil {
		ctl.sendErr(c, err)
		return
	}
	for _, uid := range res.OfflineTargets {
		ctl.push.NotifyOffline(uid, "new message")
	}
}

// handleTyping relays a typing indicator to everyone but the typist.
// Typing is ephemeral: offline members are ignored, never pushed.
func (ctl *Controller) handleTyping(ctx context.Context, sess *core.Session, c *wsConn, data []byte) {
	env, ok := ctl.decodeChat(c, data)
	if !ok {
		return
	}
	ev := &domain.Event{
		Type:     domain.EventTyping,
		SenderID: sess.UserID,
		Payload:  env.Payload,
	}
	if _, err := ctl.dispatcher.Broadcast(ctx, env.ConversationID, ev, sess.UserID); err != nil {
		ctl.sendErr(c, err)
	}
}

// handleStatus relays delivered/read receipts to the full member set.
func (ctl *Controller) handleStatus(ctx context.Context, sess *core.Session, c *wsConn, data []byte) {
	env, ok := ctl.decodeChat(c, data)
	if !ok {
		return
	}
	ev := &domain.Event{
		Type:     domain.EventMessageStatus,
		SenderID: sess.UserID,
		Payload:  env.Payload,
	}
	if _, err := ctl.dispatcher.Broadcast(ctx, env.ConversationID, ev); err != nil {
		ctl.sendErr(c, err)
	}
}
