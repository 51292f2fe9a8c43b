package app

import (
	"context"
	"encoding/json"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

// StatusNotifier tells a user's contacts when they go online or offline
// by fanning a user_status event into every conversation the user is a
// member of. Best effort: status never generates offline pushes.
type StatusNotifier struct {
	dispatcher *Dispatcher
	store      core.ConversationStore
	users      core.UserDirectory
}

func NewStatusNotifier(dispatcher *Dispatcher, store core.ConversationStore, users core.UserDirectory) *StatusNotifier {
	return &StatusNotifier{dispatcher: dispatcher, store: store, users: users}
}

// OnPresence is registered as a presence watcher.
func (n *StatusNotifier) OnPresence(uid domain.UserID, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cids, err := n.store.ConversationsOf(ctx, uid)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.status").Str("user", string(uid)).Msg("contact lookup failed")
		return
	}
	var name string
	if u, err := n.users.GetUser(ctx, uid); err == nil {
		name = u.DisplayName
	}
	payload, _ := json.Marshal(domain.UserStatusPayload{
		UserID:      uid,
		DisplayName: name,
		Online:      online,
		LastSeen:    time.Now(),
	})
	for _, cid := range cids {
		ev := &domain.Event{Type: domain.EventUserStatus, SenderID: uid, Payload: payload}
		if _, err := n.dispatcher.Broadcast(ctx, cid, ev, uid); err != nil {
			log.Debug().Err(err).Str("module", "app.status").Str("conversation", string(cid)).Msg("status fanout dropped")
		}
	}
}
