package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

type sentEvent struct {
	to domain.UserID
	ev domain.Event
}

// fakeSender plays both the dispatcher and the presence registry: reach
// controls how many live sessions each user has.
type fakeSender struct {
	mu    sync.Mutex
	reach map[domain.UserID]int
	sent  []sentEvent
}

func newFakeSender() *fakeSender {
	return &fakeSender{reach: make(map[domain.UserID]int)}
}

func (f *fakeSender) SendToUser(uid domain.UserID, ev *domain.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.reach[uid]
	if n > 0 {
		f.sent = append(f.sent, sentEvent{to: uid, ev: *ev})
	}
	return n
}

func (f *fakeSender) IsOnline(uid domain.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reach[uid] > 0
}

func (f *fakeSender) setReach(uid domain.UserID, n int) {
	f.mu.Lock()
	f.reach[uid] = n
	f.mu.Unlock()
}

func (f *fakeSender) eventsTo(uid domain.UserID) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, s := range f.sent {
		if s.to == uid {
			out = append(out, s.ev)
		}
	}
	return out
}

type fakeBlocks struct {
	mu    sync.Mutex
	pairs map[[2]domain.UserID]bool
	down  bool
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{pairs: make(map[[2]domain.UserID]bool)}
}

func (b *fakeBlocks) block(blocker, blocked domain.UserID) {
	b.mu.Lock()
	b.pairs[[2]domain.UserID{blocker, blocked}] = true
	b.mu.Unlock()
}

func (b *fakeBlocks) IsBlocked(ctx context.Context, x, y domain.UserID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return false, errors.New("block service down")
	}
	return b.pairs[[2]domain.UserID{x, y}], nil
}

type fakePush struct {
	mu    sync.Mutex
	calls []domain.UserID
}

func (p *fakePush) NotifyOffline(uid domain.UserID, summary string) {
	p.mu.Lock()
	p.calls = append(p.calls, uid)
	p.mu.Unlock()
}

func (p *fakePush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type harness struct {
	sender *fakeSender
	blocks *fakeBlocks
	push   *fakePush
	coord  *Coordinator
}

func setupCoordinator(t *testing.T, ring, grace time.Duration) *harness {
	t.Helper()
	h := &harness{
		sender: newFakeSender(),
		blocks: newFakeBlocks(),
		push:   &fakePush{},
	}
	h.sender.setReach("alice", 1)
	h.sender.setReach("bob", 1)
	h.coord = NewCoordinator(h.sender, h.sender, h.blocks, h.push, ring, grace)
	return h
}

func testOffer() domain.SessionDescription {
	return domain.SessionDescription{Kind: "offer", SDP: "v=0\r\n"}
}

func testAnswer() domain.SessionDescription {
	return domain.SessionDescription{Kind: "answer", SDP: "v=0\r\n"}
}

func startCall(t *testing.T, h *harness) domain.CallSession {
	t.Helper()
	cs, err := h.coord.Start(context.Background(), "alice", "bob", domain.MediaAudio, testOffer())
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	return cs
}

func TestStartRelaysOfferToCallee(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)

	if cs.State != domain.CallCalling {
		t.Fatalf("expected calling state, got %s", cs.State)
	}
	evs := h.sender.eventsTo("bob")
	if len(evs) != 1 || evs[0].Type != domain.EventIncomingCall {
		t.Fatalf("expected one incoming-call event for bob, got %v", evs)
	}
	var p domain.IncomingCallPayload
	if err := json.Unmarshal(evs[0].Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.CallerID != "alice" || p.Media != domain.MediaAudio || p.Offer.SDP == "" {
		t.Fatalf("offer payload mangled: %+v", p)
	}
	if len(h.sender.eventsTo("alice")) != 0 {
		t.Fatal("originator must not receive its own offer")
	}
}

func TestStartBlocked(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	h.blocks.block("bob", "alice")

	_, err := h.coord.Start(context.Background(), "alice", "bob", domain.MediaVideo, testOffer())
	if !errors.Is(err, domain.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if len(h.sender.eventsTo("bob")) != 0 {
		t.Fatal("no event may reach the blocking callee")
	}
}

func TestStartBlockServiceDown(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	h.blocks.down = true

	_, err := h.coord.Start(context.Background(), "alice", "bob", domain.MediaAudio, testOffer())
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
	if len(h.sender.eventsTo("bob")) != 0 {
		t.Fatal("admission failure must not relay anything")
	}
}

func TestStartBusy(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	startCall(t, h)

	_, err := h.coord.Start(context.Background(), "alice", "bob", domain.MediaAudio, testOffer())
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := len(h.sender.eventsTo("bob")); got != 1 {
		t.Fatalf("busy attempt must not relay a second offer, bob saw %d events", got)
	}
}

func TestStartUnreachable(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	h.sender.setReach("bob", 0)

	_, err := h.coord.Start(context.Background(), "alice", "bob", domain.MediaAudio, testOffer())
	if !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if h.push.count() != 1 {
		t.Fatalf("expected one missed-call push, got %d", h.push.count())
	}

	// The failed attempt must not leave the pair busy.
	h.sender.setReach("bob", 1)
	startCall(t, h)
}

func TestAnswerFlow(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)

	if err := h.coord.Ring(cs.ID, "bob"); err != nil {
		t.Fatalf("ring: %v", err)
	}
	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := h.coord.Connected(cs.ID, "alice"); err != nil {
		t.Fatalf("connected: %v", err)
	}

	snap, err := h.coord.Snapshot(cs.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.CallConnected {
		t.Fatalf("expected connected, got %s", snap.State)
	}
	if snap.Answer == nil || snap.ConnectedAt.IsZero() {
		t.Fatalf("answer/connectedAt not recorded: %+v", snap)
	}

	var got []domain.EventType
	for _, ev := range h.sender.eventsTo("alice") {
		got = append(got, ev.Type)
	}
	want := []domain.EventType{domain.EventCallRinging, domain.EventCallAnswer}
	if len(got) != len(want) {
		t.Fatalf("caller events: expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("caller events: expected %v, got %v", want, got)
		}
	}
	bobEvents := h.sender.eventsTo("bob")
	if bobEvents[len(bobEvents)-1].Type != domain.EventCallConnected {
		t.Fatal("callee must see the connected transition")
	}
}

func TestCandidateBufferingPreservesOrder(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)

	// Neither side has the counterpart's description yet: everything
	// buffers.
	for i := 0; i < 3; i++ {
		cand := domain.Candidate{Candidate: fmt.Sprintf("caller-%d", i)}
		if err := h.coord.Candidate(cs.ID, "alice", cand); err != nil {
			t.Fatalf("caller candidate %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		cand := domain.Candidate{Candidate: fmt.Sprintf("callee-%d", i)}
		if err := h.coord.Candidate(cs.ID, "bob", cand); err != nil {
			t.Fatalf("callee candidate %d: %v", i, err)
		}
	}

	for _, ev := range h.sender.eventsTo("bob")[1:] {
		if ev.Type == domain.EventIceCandidate {
			t.Fatal("candidate relayed before the callee acknowledged the offer")
		}
	}

	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}

	// Caller side: the answer must precede the drained callee candidates.
	aliceEvents := h.sender.eventsTo("alice")
	if aliceEvents[0].Type != domain.EventCallAnswer {
		t.Fatalf("first caller event must be the answer, got %s", aliceEvents[0].Type)
	}
	var toAlice []string
	for _, ev := range aliceEvents[1:] {
		if ev.Type != domain.EventIceCandidate {
			t.Fatalf("unexpected caller event %s", ev.Type)
		}
		var p domain.CandidatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("bad candidate payload: %v", err)
		}
		toAlice = append(toAlice, p.Candidate.Candidate)
	}
	if len(toAlice) != 2 || toAlice[0] != "callee-0" || toAlice[1] != "callee-1" {
		t.Fatalf("callee candidates reordered or dropped: %v", toAlice)
	}

	// Callee side: offer first, then the buffered caller candidates in
	// arrival order.
	var toBob []string
	for _, ev := range h.sender.eventsTo("bob")[1:] {
		if ev.Type != domain.EventIceCandidate {
			continue
		}
		var p domain.CandidatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("bad candidate payload: %v", err)
		}
		toBob = append(toBob, p.Candidate.Candidate)
	}
	if len(toBob) != 3 {
		t.Fatalf("expected 3 drained caller candidates, got %v", toBob)
	}
	for i, c := range toBob {
		if c != fmt.Sprintf("caller-%d", i) {
			t.Fatalf("caller candidates reordered: %v", toBob)
		}
	}

	// With both descriptions known, candidates relay immediately.
	if err := h.coord.Candidate(cs.ID, "alice", domain.Candidate{Candidate: "late"}); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	bobEvents := h.sender.eventsTo("bob")
	last := bobEvents[len(bobEvents)-1]
	if last.Type != domain.EventIceCandidate {
		t.Fatal("late candidate must relay immediately")
	}
}

func TestCandidateRacingAnswerNeverPrecedesIt(t *testing.T) {
	// A candidate from a second callee device can arrive while the answer
	// relay is in flight; it must still land behind the answer.
	for i := 0; i < 25; i++ {
		h := setupCoordinator(t, time.Minute, time.Minute)
		cs := startCall(t, h)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
				t.Errorf("answer: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := h.coord.Candidate(cs.ID, "bob", domain.Candidate{Candidate: "racer"}); err != nil {
				t.Errorf("candidate: %v", err)
			}
		}()
		wg.Wait()

		seenAnswer := false
		for _, ev := range h.sender.eventsTo("alice") {
			switch ev.Type {
			case domain.EventCallAnswer:
				seenAnswer = true
			case domain.EventIceCandidate:
				if !seenAnswer {
					t.Fatal("candidate delivered to the caller ahead of the answer")
				}
			}
		}
		if !seenAnswer {
			t.Fatal("answer never relayed")
		}
	}
}

func TestConcurrentRejectAnswerSingleWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := setupCoordinator(t, time.Minute, time.Minute)
		cs := startCall(t, h)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = h.coord.Reject(cs.ID, "bob", "declined")
		}()
		go func() {
			defer wg.Done()
			errs[1] = h.coord.Answer(cs.ID, "bob", testAnswer())
		}()
		wg.Wait()

		var wins, illegal int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrIllegalTransition):
				illegal++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 || illegal != 1 {
			t.Fatalf("expected exactly one winner and one illegal transition, got %d/%d", wins, illegal)
		}
	}
}

func TestRejectOnlyFromPendingStates(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)

	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	err := h.coord.Reject(cs.ID, "bob", "late")
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestAnswerByCallerUnauthorized(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)

	err := h.coord.Answer(cs.ID, "alice", testAnswer())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUnknownCall(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	err := h.coord.HangUp(domain.CallID("never-existed"), "alice")
	if !errors.Is(err, domain.ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestHangUpNeverBlockedByPeer(t *testing.T) {
	h := setupCoordinator(t, time.Minute, time.Minute)
	cs := startCall(t, h)
	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}

	h.sender.setReach("bob", 0)
	if err := h.coord.HangUp(cs.ID, "alice"); err != nil {
		t.Fatalf("hangup must succeed regardless of peer connectivity: %v", err)
	}
	snap, err := h.coord.Snapshot(cs.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.CallEnded || snap.EndedBy != "alice" {
		t.Fatalf("expected ended by alice, got %+v", snap)
	}
}

func TestRingTimeoutNoAnswer(t *testing.T) {
	h := setupCoordinator(t, 30*time.Millisecond, time.Minute)
	cs := startCall(t, h)

	time.Sleep(120 * time.Millisecond)

	snap, err := h.coord.Snapshot(cs.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.CallFailed || snap.EndReason != domain.EndNoAnswer {
		t.Fatalf("expected no-answer failure, got %+v", snap)
	}
	aliceEvents := h.sender.eventsTo("alice")
	if len(aliceEvents) == 0 || aliceEvents[len(aliceEvents)-1].Type != domain.EventCallFailed {
		t.Fatal("caller must be told the call timed out")
	}
	if h.push.count() != 1 {
		t.Fatalf("callee should get a missed-call push, got %d", h.push.count())
	}

	// The pair frees up for a fresh attempt.
	startCall(t, h)
}

func TestDisconnectGraceReconnect(t *testing.T) {
	h := setupCoordinator(t, time.Minute, 80*time.Millisecond)
	cs := startCall(t, h)
	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := h.coord.Connected(cs.ID, "alice"); err != nil {
		t.Fatalf("connected: %v", err)
	}

	h.sender.setReach("alice", 0)
	h.coord.OnPresence("alice", false)
	time.Sleep(20 * time.Millisecond)
	h.sender.setReach("alice", 1)
	h.coord.OnPresence("alice", true)

	time.Sleep(150 * time.Millisecond)
	snap, err := h.coord.Snapshot(cs.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.CallConnected {
		t.Fatalf("call must survive a reconnect within grace, got %s", snap.State)
	}
}

func TestDisconnectGraceExpiry(t *testing.T) {
	h := setupCoordinator(t, time.Minute, 30*time.Millisecond)
	cs := startCall(t, h)
	if err := h.coord.Answer(cs.ID, "bob", testAnswer()); err != nil {
		t.Fatalf("answer: %v", err)
	}

	h.sender.setReach("bob", 0)
	h.coord.OnPresence("bob", false)
	time.Sleep(120 * time.Millisecond)

	snap, err := h.coord.Snapshot(cs.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.CallFailed || snap.EndReason != domain.EndPeerDisconnected {
		t.Fatalf("expected peer-disconnected failure, got %+v", snap)
	}
	aliceEvents := h.sender.eventsTo("alice")
	if len(aliceEvents) == 0 || aliceEvents[len(aliceEvents)-1].Type != domain.EventCallFailed {
		t.Fatal("remaining party must be told the call failed")
	}
}
