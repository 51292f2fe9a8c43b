package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

// Delivery is the observable outcome of a fanout pass. OfflineTargets are
// the members with zero live sessions, computed in the same pass as the
// online deliveries so no member is double-counted.
type Delivery struct {
	Delivered      int
	OfflineTargets []domain.UserID
}

// Dispatcher fans conversation events out to the right live sessions and
// offers the point-to-point primitives call signaling rides on. Per-session
// delivery is a fire-and-forget enqueue; FIFO per source→target pair holds
// because each source submits synchronously and each target connection has
// a single write pump.
type Dispatcher struct {
	presence   *Presence
	membership *Membership
	blocks     core.BlockService

	seqMu sync.Mutex
	seq   map[domain.UserID]uint64
}

func NewDispatcher(presence *Presence, membership *Membership, blocks core.BlockService) *Dispatcher {
	return &Dispatcher{
		presence:   presence,
		membership: membership,
		blocks:     blocks,
		seq:        make(map[domain.UserID]uint64),
	}
}

// stamp assigns the per-source monotonic sequence number. Clients use it
// for duplicate suppression only.
func (d *Dispatcher) stamp(ev *domain.Event) {
	if ev.SenderID == "" {
		return
	}
	d.seqMu.Lock()
	d.seq[ev.SenderID]++
	ev.Seq = d.seq[ev.SenderID]
	d.seqMu.Unlock()
}

func encode(ev *domain.Event) (core.Frame, error) {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return core.Frame(b), nil
}

// Broadcast delivers ev to every live session of every member of the
// conversation, minus the excluded users (typically the originator).
// For 1:1 conversations delivery between a blocked pair is suppressed.
// Members with zero sessions come back as OfflineTargets for the caller
// to hand to the push collaborator.
func (d *Dispatcher) Broadcast(ctx context.Context, cid domain.ConversationID, ev *domain.Event, exclude ...domain.UserID) (Delivery, error) {
	conv, err := d.membership.Resolve(ctx, cid)
	if err != nil {
		return Delivery{}, err
	}

	if ev.SenderID != "" {
		if !conv.HasMember(ev.SenderID) {
			return Delivery{}, fmt.Errorf("sender %s in conversation %s: %w", ev.SenderID, cid, domain.ErrUnauthorized)
		}
		// 1:1 block suppression. The check reaches the block collaborator,
		// so it runs before any lock is taken.
		if conv.Direct {
			peer, ok := conv.Counterpart(ev.SenderID)
			if ok {
				blocked, err := d.blockedEither(ctx, ev.SenderID, peer)
				if err != nil {
					return Delivery{}, err
				}
				if blocked {
					log.Debug().Str("module", "app.dispatcher").Str("conversation", string(cid)).Msg("fanout suppressed for blocked pair")
					return Delivery{}, nil
				}
			}
		}
	}

	ev.ConversationID = cid
	d.stamp(ev)
	frame, err := encode(ev)
	if err != nil {
		return Delivery{}, err
	}

	skip := make(map[domain.UserID]bool, len(exclude))
	for _, uid := range exclude {
		skip[uid] = true
	}

	var res Delivery
	for _, member := range conv.Members {
		if skip[member] {
			continue
		}
		sessions := d.presence.SessionsFor(member)
		if len(sessions) == 0 {
			res.OfflineTargets = append(res.OfflineTargets, member)
			continue
		}
		for _, sess := range sessions {
			if err := sess.Conn.TrySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "app.dispatcher").Str("sid", string(sess.ID)).Msg("dropping frame for slow session")
				continue
			}
			res.Delivered++
		}
	}
	log.Debug().Str("module", "app.dispatcher").Str("conversation", string(cid)).Str("type", string(ev.Type)).Int("delivered", res.Delivered).Int("offline", len(res.OfflineTargets)).Msg("broadcast")
	return res, nil
}

func (d *Dispatcher) blockedEither(ctx context.Context, a, b domain.UserID) (bool, error) {
	blocked, err := d.blocks.IsBlocked(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("block check: %w", domain.ErrCollaboratorUnavailable)
	}
	if blocked {
		return true, nil
	}
	blocked, err = d.blocks.IsBlocked(ctx, b, a)
	if err != nil {
		return false, fmt.Errorf("block check: %w", domain.ErrCollaboratorUnavailable)
	}
	return blocked, nil
}

// SendToSession delivers to exactly one session.
func (d *Dispatcher) SendToSession(sid core.SessionID, ev *domain.Event) error {
	sess, ok := d.presence.Get(sid)
	if !ok {
		return fmt.Errorf("session %s: %w", sid, domain.ErrUnreachable)
	}
	d.stamp(ev)
	frame, err := encode(ev)
	if err != nil {
		return err
	}
	return sess.Conn.TrySend(frame)
}

// SendToUser delivers to every live session of the user (multi-device
// ring behavior) and reports how many sessions took the frame.
func (d *Dispatcher) SendToUser(uid domain.UserID, ev *domain.Event) int {
	sessions := d.presence.SessionsFor(uid)
	if len(sessions) == 0 {
		return 0
	}
	d.stamp(ev)
	frame, err := encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Msg("encode for user send")
		return 0
	}
	n := 0
	for _, sess := range sessions {
		if err := sess.Conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.dispatcher").Str("sid", string(sess.ID)).Msg("dropping frame for slow session")
			continue
		}
		n++
	}
	return n
}
