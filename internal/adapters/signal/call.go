package signal

import (
	"context"
	"encoding/json"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// validSDP rejects syntactically broken session descriptions at the edge
// so the peer never receives garbage it cannot apply.
func validSDP(kind webrtc.SDPType, sdp string) bool {
	desc := webrtc.SessionDescription{Type: kind, SDP: sdp}
	_, err := desc.Unmarshal()
	return err == nil
}

func toDomainCandidate(ci webrtc.ICECandidateInit) domain.Candidate {
	out := domain.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		out.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		out.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return out
}

func (ctl *Controller) handleCallOffer(ctx context.Context, sess *core.Session, c *wsConn, data []byte) {
	type offerPayload struct {
		Type     string           `json:"type"`
		CalleeID domain.UserID    `json:"callee_id"`
		Media    domain.MediaKind `json:"media"`
		SDP      string           `json:"sdp"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CalleeID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !validSDP(webrtc.SDPTypeOffer, p.SDP) {
		ctl.sendError(c, "bad_sdp")
		return
	}
	if !ctl.limiter.Allow(sess.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(sess.UserID)).Msg("call rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}

	cs, err := ctl.coord.Start(ctx, sess.UserID, p.CalleeID, p.Media, domain.SessionDescription{Kind: "offer", SDP: p.SDP})
	if err != nil {
		ctl.sendErr(c, err)
		return
	}
	ctl.sendJSON(c, map[string]any{
		"type":    "call_started",
		"call_id": cs.ID,
	})
}

type callRef struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"call_id"`
	Reason string        `json:"reason,omitempty"`
	SDP    string        `json:"sdp,omitempty"`
}

func (ctl *Controller) decodeCallRef(c *wsConn, data []byte) (callRef, bool) {
	var p callRef
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad call payload")
		ctl.sendError(c, "bad_payload")
		return p, false
	}
	return p, true
}

func (ctl *Controller) handleCallRing(sess *core.Session, c *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(c, data)
	if !ok {
		return
	}
	if err := ctl.coord.Ring(p.CallID, sess.UserID); err != nil {
		ctl.sendErr(c, err)
	}
}

func (ctl *Controller) handleCallAnswer(sess *core.Session, c *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(c, data)
	if !ok {
		return
	}
	if !validSDP(webrtc.SDPTypeAnswer, p.SDP) {
		ctl.sendError(c, "bad_sdp")
		return
	}
	if err := ctl.coord.Answer(p.CallID, sess.UserID, domain.SessionDescription{Kind: "answer", SDP: p.SDP}); err != nil {
		ctl.sendErr(c, err)
	}
}

func (ctl *Controller) handleCallReject(sess *core.Session, c *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(c, data)
	if !ok {
		return
	}
	if err := ctl.coord.Reject(p.CallID, sess.UserID, p.Reason); err != nil {
		ctl.sendErr(c, err)
	}
}

func (ctl *Controller) handleCallHangup(sess *core.Session, c *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(c, data)
	if !ok {
		return
	}
	if err := ctl.coord.HangUp(p.CallID, sess.UserID); err != nil {
		ctl.sendErr(c, err)
		return
	}
	// Hanging up succeeds for the initiator regardless of whether the
	// peer was reachable.
	ctl.sendJSON(c, map[string]any{
		"type":    "call_ended",
		"call_id": p.CallID,
	})
}

func (ctl *Controller) handleCallConnected(sess *core.Session, c *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(c, data)
	if !ok {
		return
	}
	if err := ctl.coord.Connected(p.CallID, sess.UserID); err != nil {
		ctl.sendErr(c, err)
	}
}

func (ctl *Controller) handleCandidate(sess *core.Session, c *wsConn, data []byte) {
	type candidatePayload struct {
		Type          string        `json:"type"`
		CallID        domain.CallID `json:"call_id"`
		Candidate     string        `json:"candidate"`
		SDPMid        string        `json:"sdpMid"`
		SDPMLineIndex uint16        `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	ci := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		ci.SDPMid = &p.SDPMid
	}
	ci.SDPMLineIndex = &p.SDPMLineIndex

	if err := ctl.coord.Candidate(p.CallID, sess.UserID, toDomainCandidate(ci)); err != nil {
		ctl.sendErr(c, err)
	}
}
