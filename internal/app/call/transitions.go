package call

import (
	"fmt"
	"time"

	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

// Ring is the callee acknowledging the offer: CALLING → RINGING. It also
// proves the callee holds the remote description, so candidates buffered
// for it drain here.
func (c *Coordinator) Ring(id domain.CallID, by domain.UserID) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if by != rec.sess.CalleeID {
		rec.mu.Unlock()
		return fmt.Errorf("ring by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State != domain.CallCalling {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("ring in %s: %w", state, domain.ErrIllegalTransition)
	}
	rec.sess.State = domain.CallRinging
	rec.calleeHasRemote = true
	drain := rec.takeLocked(rec.sess.CalleeID)
	caller := rec.sess.CallerID
	rec.mu.Unlock()

	c.sender.SendToUser(caller, c.event(domain.EventCallRinging, id, by, nil))
	c.relayCandidates(rec, rec.sess.CalleeID, caller, drain)
	return nil
}

// Answer stores the callee's SDP answer: CALLING/RINGING → CONNECTING.
// The answer is relayed to the caller, then candidates buffered by either
// side drain now that both remote descriptions are known. The answer
// relay precedes the drained candidates on the same goroutine, so the
// caller never sees a candidate ahead of the description it depends on.
func (c *Coordinator) Answer(id domain.CallID, by domain.UserID, answer domain.SessionDescription) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if by != rec.sess.CalleeID {
		rec.mu.Unlock()
		return fmt.Errorf("answer by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State != domain.CallCalling && rec.sess.State != domain.CallRinging {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("answer in %s: %w", state, domain.ErrIllegalTransition)
	}
	rec.sess.State = domain.CallConnecting
	rec.sess.Answer = &answer
	rec.calleeHasRemote = true
	if rec.ringTimer != nil {
		rec.ringTimer.Stop()
		rec.ringTimer = nil
	}
	toCallee := rec.takeLocked(rec.sess.CalleeID)
	caller, callee := rec.sess.CallerID, rec.sess.CalleeID
	rec.mu.Unlock()

	c.sender.SendToUser(caller, c.event(domain.EventCallAnswer, id, by, domain.CallAnswerPayload{Answer: answer}))

	// The caller holds the remote description only once the answer relay
	// is enqueued. A candidate racing in from another callee device keeps
	// buffering until then and drains here, behind the answer.
	rec.mu.Lock()
	rec.callerHasRemote = true
	toCaller := rec.takeLocked(rec.sess.CallerID)
	rec.mu.Unlock()

	c.relayCandidates(rec, caller, callee, toCaller)
	c.relayCandidates(rec, callee, caller, toCallee)
	return nil
}

// Connected marks media establishment reported by a participant:
// CONNECTING → CONNECTED.
func (c *Coordinator) Connected(id domain.CallID, by domain.UserID) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if !rec.sess.Participant(by) {
		rec.mu.Unlock()
		return fmt.Errorf("connected by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State != domain.CallConnecting {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("connected in %s: %w", state, domain.ErrIllegalTransition)
	}
	rec.sess.State = domain.CallConnected
	rec.sess.ConnectedAt = time.Now()
	peer := rec.sess.Peer(by)
	rec.mu.Unlock()

	c.sender.SendToUser(peer, c.event(domain.EventCallConnected, id, by, nil))
	return nil
}

// Candidate relays an ICE candidate to the counterpart, or buffers it in
// arrival order while the counterpart's remote description is still
// pending. Candidates never travel ahead of the description they depend
// on.
func (c *Coordinator) Candidate(id domain.CallID, by domain.UserID, cand domain.Candidate) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if !rec.sess.Participant(by) {
		rec.mu.Unlock()
		return fmt.Errorf("candidate by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State.Terminal() {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("candidate in %s: %w", state, domain.ErrIllegalTransition)
	}
	target := rec.sess.Peer(by)
	targetReady := rec.callerHasRemote
	if target == rec.sess.CalleeID {
		targetReady = rec.calleeHasRemote
	}
	if !targetReady {
		// Buffered only pre-CONNECTED by construction: both flags are set
		// no later than the CONNECTING transition.
		if target == rec.sess.CalleeID {
			rec.toCallee = append(rec.toCallee, cand)
		} else {
			rec.toCaller = append(rec.toCaller, cand)
		}
		rec.mu.Unlock()
		return nil
	}
	rec.mu.Unlock()

	c.sender.SendToUser(target, c.event(domain.EventIceCandidate, id, by, domain.CandidatePayload{Candidate: cand}))
	return nil
}

// takeLocked empties the buffer headed for uid. Caller holds rec.mu.
func (rec *callRecord) takeLocked(uid domain.UserID) []domain.Candidate {
	var out []domain.Candidate
	if uid == rec.sess.CalleeID {
		out, rec.toCallee = rec.toCallee, nil
	} else {
		out, rec.toCaller = rec.toCaller, nil
	}
	return out
}

func (c *Coordinator) relayCandidates(rec *callRecord, to, from domain.UserID, cands []domain.Candidate) {
	for _, cand := range cands {
		c.sender.SendToUser(to, c.event(domain.EventIceCandidate, rec.sess.ID, from, domain.CandidatePayload{Candidate: cand}))
	}
}

// Reject declines a pending call: CALLING/RINGING → REJECTED.
func (c *Coordinator) Reject(id domain.CallID, by domain.UserID, reason string) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if by != rec.sess.CalleeID {
		rec.mu.Unlock()
		return fmt.Errorf("reject by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State != domain.CallCalling && rec.sess.State != domain.CallRinging {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("reject in %s: %w", state, domain.ErrIllegalTransition)
	}
	c.finishLocked(rec, domain.CallRejected, domain.EndRejected, by)
	caller := rec.sess.CallerID
	rec.mu.Unlock()

	if reason == "" {
		reason = "rejected"
	}
	c.sender.SendToUser(caller, c.event(domain.EventCallRejected, id, by, domain.CallRejectedPayload{UserID: by, Reason: reason}))
	c.remove(rec)
	return nil
}

// HangUp ends the call from any non-terminal state. Termination is
// fire-and-forget toward the peer and always succeeds for the initiator:
// ending a call is never blockable by the peer's connectivity.
func (c *Coordinator) HangUp(id domain.CallID, by domain.UserID) error {
	rec, err := c.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if !rec.sess.Participant(by) {
		rec.mu.Unlock()
		return fmt.Errorf("hangup by %s: %w", by, domain.ErrUnauthorized)
	}
	if rec.sess.State.Terminal() {
		state := rec.sess.State
		rec.mu.Unlock()
		return fmt.Errorf("hangup in %s: %w", state, domain.ErrIllegalTransition)
	}
	c.finishLocked(rec, domain.CallEnded, domain.EndHangUp, by)
	peer := rec.sess.Peer(by)
	rec.mu.Unlock()

	c.sender.SendToUser(peer, c.event(domain.EventCallEnded, id, by, domain.CallEndedPayload{EndedBy: by}))
	c.remove(rec)
	return nil
}

// onRingTimeout fires the product-level "call not answered" window.
func (c *Coordinator) onRingTimeout(id domain.CallID) {
	rec, err := c.lookup(id)
	if err != nil {
		return
	}

	rec.mu.Lock()
	if rec.sess.State != domain.CallCalling && rec.sess.State != domain.CallRinging {
		rec.mu.Unlock()
		return
	}
	c.finishLocked(rec, domain.CallFailed, domain.EndNoAnswer, "")
	caller, callee := rec.sess.CallerID, rec.sess.CalleeID
	media := rec.sess.Media
	rec.mu.Unlock()

	ev := c.event(domain.EventCallFailed, id, "", domain.CallFailedPayload{Reason: domain.EndNoAnswer})
	c.sender.SendToUser(caller, ev)
	// The callee's ringing sessions get it too so their UI clears, and
	// the push collaborator records the missed call.
	c.sender.SendToUser(callee, ev)
	c.push.NotifyOffline(callee, fmt.Sprintf("missed %s call", media))
	c.remove(rec)
}

// OnPresence is wired to the presence registry's transition watcher. When
// every session of a participant drops while a call is CONNECTING or
// CONNECTED, a grace timer starts; a reappearing session cancels it, an
// expiry fails the call with PeerDisconnected.
func (c *Coordinator) OnPresence(uid domain.UserID, online bool) {
	c.mu.RLock()
	var involved []*callRecord
	for _, rec := range c.calls {
		if rec.sess.Participant(uid) {
			involved = append(involved, rec)
		}
	}
	c.mu.RUnlock()

	for _, rec := range involved {
		rec.mu.Lock()
		if rec.sess.State.Terminal() {
			rec.mu.Unlock()
			continue
		}
		if rec.sess.State != domain.CallConnecting && rec.sess.State != domain.CallConnected {
			rec.mu.Unlock()
			continue
		}
		// The callback may arrive out of order on a flap; the registry is
		// authoritative.
		callerOff := !c.presence.IsOnline(rec.sess.CallerID)
		calleeOff := !c.presence.IsOnline(rec.sess.CalleeID)
		switch {
		case !callerOff && !calleeOff:
			if rec.graceTimer != nil {
				rec.graceTimer.Stop()
				rec.graceTimer = nil
				log.Info().Str("module", "app.call").Str("call", string(rec.sess.ID)).Str("user", string(uid)).Msg("participant reappeared, grace cancelled")
			}
		default:
			if rec.graceTimer == nil {
				id := rec.sess.ID
				rec.graceTimer = time.AfterFunc(c.disconnectGrace, func() { c.onGraceExpired(id) })
				log.Info().Str("module", "app.call").Str("call", string(id)).Str("user", string(uid)).Msg("participant unreachable, grace started")
			}
		}
		rec.mu.Unlock()
	}
}

func (c *Coordinator) onGraceExpired(id domain.CallID) {
	rec, err := c.lookup(id)
	if err != nil {
		return
	}

	rec.mu.Lock()
	if rec.sess.State.Terminal() {
		rec.mu.Unlock()
		return
	}
	rec.graceTimer = nil
	if c.presence.IsOnline(rec.sess.CallerID) && c.presence.IsOnline(rec.sess.CalleeID) {
		rec.mu.Unlock()
		return
	}
	c.finishLocked(rec, domain.CallFailed, domain.EndPeerDisconnected, "")
	caller, callee := rec.sess.CallerID, rec.sess.CalleeID
	rec.mu.Unlock()

	ev := c.event(domain.EventCallFailed, id, "", domain.CallFailedPayload{Reason: domain.EndPeerDisconnected})
	c.sender.SendToUser(caller, ev)
	c.sender.SendToUser(callee, ev)
	c.remove(rec)
}
