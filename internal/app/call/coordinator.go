// Package call owns the two-party call negotiation state machine. One
// record exists per call attempt; every transition on it is linearized
// behind the record's mutex, so racing actions resolve as exactly one
// winner and one illegal-transition loser.
package call

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

// Sender is the point-to-point slice of the fanout dispatcher: deliver to
// every live session of one user, report how many took it.
type Sender interface {
	SendToUser(uid domain.UserID, ev *domain.Event) int
}

// PresenceView answers reachability. The coordinator re-reads it inside
// presence callbacks instead of trusting callback ordering.
type PresenceView interface {
	IsOnline(uid domain.UserID) bool
}

type pairKey struct {
	caller domain.UserID
	callee domain.UserID
}

// callRecord pairs the CallSession with the relay-side bookkeeping the
// record's mutex also guards: candidate buffers, remote-description
// progress, and the two timers.
type callRecord struct {
	mu   sync.Mutex
	sess domain.CallSession

	// The relay cannot see setRemoteDescription happen on a client; it
	// uses the earliest provable proxy. The callee has the offer once it
	// sends ring or answer; the caller has the answer once the answer
	// relay is enqueued.
	callerHasRemote bool
	calleeHasRemote bool

	toCaller []domain.Candidate
	toCallee []domain.Candidate

	ringTimer  *time.Timer
	graceTimer *time.Timer
}

type Coordinator struct {
	sender   Sender
	presence PresenceView
	blocks   core.BlockService
	push     core.PushService

	ringTimeout     time.Duration
	disconnectGrace time.Duration

	mu     sync.RWMutex
	calls  map[domain.CallID]*callRecord
	byPair map[pairKey]domain.CallID
}

func NewCoordinator(sender Sender, presence PresenceView, blocks core.BlockService, push core.PushService, ringTimeout, disconnectGrace time.Duration) *Coordinator {
	return &Coordinator{
		sender:          sender,
		presence:        presence,
		blocks:          blocks,
		push:            push,
		ringTimeout:     ringTimeout,
		disconnectGrace: disconnectGrace,
		calls:           make(map[domain.CallID]*callRecord),
		byPair:          make(map[pairKey]domain.CallID),
	}
}

// Start admits a new call attempt. Rejections: Blocked if a block exists
// in either direction, Busy if an active call for the ordered pair is
// already pending, Unreachable if the callee has zero live sessions (the
// push collaborator gets a missed-call summary instead).
func (c *Coordinator) Start(ctx context.Context, callerID, calleeID domain.UserID, media domain.MediaKind, offer domain.SessionDescription) (domain.CallSession, error) {
	if callerID == calleeID || !media.Valid() {
		return domain.CallSession{}, fmt.Errorf("call admission: %w", domain.ErrIllegalTransition)
	}

	// Block lookups reach the collaborator; no lock is held yet.
	blocked, err := c.blockedEither(ctx, callerID, calleeID)
	if err != nil {
		return domain.CallSession{}, err
	}
	if blocked {
		return domain.CallSession{}, fmt.Errorf("call admission: %w", domain.ErrBlocked)
	}

	pair := pairKey{caller: callerID, callee: calleeID}
	rec := &callRecord{
		sess: domain.CallSession{
			ID:        domain.NewCallID(),
			CallerID:  callerID,
			CalleeID:  calleeID,
			Media:     media,
			State:     domain.CallCalling,
			Offer:     &offer,
			CreatedAt: time.Now(),
		},
	}

	c.mu.Lock()
	if _, busy := c.byPair[pair]; busy {
		c.mu.Unlock()
		return domain.CallSession{}, fmt.Errorf("pair already in call: %w", domain.ErrBusy)
	}
	c.calls[rec.sess.ID] = rec
	c.byPair[pair] = rec.sess.ID
	c.mu.Unlock()

	ev := c.event(domain.EventIncomingCall, rec.sess.ID, callerID, domain.IncomingCallPayload{
		CallerID: callerID,
		Media:    media,
		Offer:    offer,
	})
	if c.sender.SendToUser(calleeID, ev) == 0 {
		c.push.NotifyOffline(calleeID, fmt.Sprintf("missed %s call", media))
		rec.mu.Lock()
		c.finishLocked(rec, domain.CallFailed, domain.EndUnreachable, "")
		rec.mu.Unlock()
		c.remove(rec)
		return domain.CallSession{}, fmt.Errorf("callee offline: %w", domain.ErrUnreachable)
	}

	rec.mu.Lock()
	rec.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.onRingTimeout(rec.sess.ID) })
	snapshot := rec.sess
	rec.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(snapshot.ID)).Str("caller", string(callerID)).Str("callee", string(calleeID)).Str("media", string(media)).Msg("call started")
	return snapshot, nil
}

func (c *Coordinator) blockedEither(ctx context.Context, a, b domain.UserID) (bool, error) {
	blocked, err := c.blocks.IsBlocked(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("block check: %w", domain.ErrCollaboratorUnavailable)
	}
	if blocked {
		return true, nil
	}
	blocked, err = c.blocks.IsBlocked(ctx, b, a)
	if err != nil {
		return false, fmt.Errorf("block check: %w", domain.ErrCollaboratorUnavailable)
	}
	return blocked, nil
}

func (c *Coordinator) lookup(id domain.CallID) (*callRecord, error) {
	c.mu.RLock()
	rec, ok := c.calls[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %s: %w", id, domain.ErrUnknownCall)
	}
	return rec, nil
}

// Snapshot returns a copy of the call's current record.
func (c *Coordinator) Snapshot(id domain.CallID) (domain.CallSession, error) {
	rec, err := c.lookup(id)
	if err != nil {
		return domain.CallSession{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sess, nil
}

// finishLocked moves the record into a terminal state. Caller holds rec.mu.
func (c *Coordinator) finishLocked(rec *callRecord, state domain.CallState, reason domain.EndReason, by domain.UserID) {
	rec.sess.State = state
	rec.sess.EndReason = reason
	rec.sess.EndedBy = by
	rec.sess.EndedAt = time.Now()
	if rec.ringTimer != nil {
		rec.ringTimer.Stop()
		rec.ringTimer = nil
	}
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}
	rec.toCaller = nil
	rec.toCallee = nil
	log.Info().Str("module", "app.call").Str("call", string(rec.sess.ID)).Str("state", state.String()).Str("reason", string(reason)).Msg("call finished")
}

// terminalLinger keeps a finished record addressable for a while: an
// action racing the finish resolves as an illegal transition, and only a
// genuinely stale call id gets UnknownCall.
const terminalLinger = 30 * time.Second

// remove frees the pair for new attempts immediately and garbage-collects
// the terminal record after the linger window.
func (c *Coordinator) remove(rec *callRecord) {
	c.mu.Lock()
	delete(c.byPair, pairKey{caller: rec.sess.CallerID, callee: rec.sess.CalleeID})
	c.mu.Unlock()
	time.AfterFunc(terminalLinger, func() {
		c.mu.Lock()
		delete(c.calls, rec.sess.ID)
		c.mu.Unlock()
	})
}

func (c *Coordinator) event(t domain.EventType, id domain.CallID, from domain.UserID, payload any) *domain.Event {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.call").Msg("marshal call payload")
	}
	return &domain.Event{
		Type:     t,
		SenderID: from,
		CallID:   id,
		Payload:  b,
	}
}
