package call

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/findit/internal/call/calltest"
	"github.com/BioHazard786/findit/internal/store"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newPair(t *testing.T) (*store.Memory, *Negotiator, *calltest.FakeTransport, *Negotiator, *calltest.FakeTransport) {
	t.Helper()
	st := store.NewMemory()
	callerPC, calleePC := calltest.New("caller"), calltest.New("callee")
	caller := NewNegotiator(st, callerPC, calltest.Media(true))
	callee := NewNegotiator(st, calleePC, nil)
	t.Cleanup(func() {
		caller.Close()
		callee.Close()
		st.Close()
	})
	return st, caller, callerPC, callee, calleePC
}

func TestCreateSessionWritesOfferOnly(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, _, _ := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty call id")
	}
	if caller.Role() != RoleCaller || caller.CallID() != id {
		t.Fatalf("role %s id %q", caller.Role(), caller.CallID())
	}

	snap, err := st.Get(ctx, store.CallPath(id))
	if err != nil {
		t.Fatal(err)
	}
	var doc callDoc
	if err := snap.Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Offer == nil || doc.Offer.Type != "offer" || doc.Offer.SDP != "offer from caller" {
		t.Fatalf("offer = %+v", doc.Offer)
	}
	if doc.Answer != nil {
		t.Fatalf("unexpected answer %+v", doc.Answer)
	}
	if got := callerPC.SignalingState(); got != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("signaling state %s", got)
	}
}

func TestCreateSessionWithoutMedia(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	for _, media := range []LocalMedia{nil, calltest.Media(false)} {
		pc := calltest.New("caller")
		n := NewNegotiator(st, pc, media)
		_, err := n.CreateSession(context.Background())
		if !errors.Is(err, ErrNoLocalMedia) {
			t.Fatalf("err = %v, want ErrNoLocalMedia", err)
		}
		if pc.LocalDescription() != nil || n.CallID() != "" {
			t.Fatal("state changed without media")
		}
		n.Close()
	}
}

func TestJoinSessionUnknownID(t *testing.T) {
	_, _, _, callee, calleePC := newPair(t)

	err := callee.JoinSession(context.Background(), "no-such-call")
	if !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("err = %v, want ErrOfferNotFound", err)
	}
	if calleePC.RemoteDescription() != nil || calleePC.LocalDescription() != nil {
		t.Fatal("transport mutated for unknown call")
	}
	if callee.CallID() != "" {
		t.Fatal("call id set for unknown call")
	}
}

func TestJoinSessionMissingID(t *testing.T) {
	_, _, _, callee, _ := newPair(t)
	if err := callee.JoinSession(context.Background(), ""); !errors.Is(err, ErrMissingCallID) {
		t.Fatalf("err = %v, want ErrMissingCallID", err)
	}
}

func TestJoinSessionStuckSignaling(t *testing.T) {
	ctx := context.Background()
	st, caller, _, _, _ := newPair(t)
	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	pc := calltest.New("callee")
	pc.StuckSignaling = true
	callee := NewNegotiator(st, pc, nil)
	defer callee.Close()

	err = callee.JoinSession(ctx, id)
	if !errors.Is(err, ErrUnexpectedSignalingState) {
		t.Fatalf("err = %v, want ErrUnexpectedSignalingState", err)
	}
	var callErr *Error
	if !errors.As(err, &callErr) || callErr.CallID != id || callErr.Details != webrtc.SignalingStateStable.String() {
		t.Fatalf("error detail %#v", err)
	}

	snap, _ := st.Get(ctx, store.CallPath(id))
	if _, ok := snap.Fields["answer"]; ok {
		t.Fatal("answer written despite bad signaling state")
	}
}

func TestJoinSessionAnswersAndConnects(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, callee, calleePC := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if callee.Role() != RoleCallee {
		t.Fatalf("role %s", callee.Role())
	}

	snap, _ := st.Get(ctx, store.CallPath(id))
	var doc callDoc
	if err := snap.Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Offer == nil || doc.Offer.SDP != "offer from caller" {
		t.Fatalf("offer overwritten: %+v", doc.Offer)
	}
	if doc.Answer == nil || doc.Answer.SDP != "answer from callee" {
		t.Fatalf("answer = %+v", doc.Answer)
	}

	eventually(t, "answer applied on caller", func() bool {
		return callerPC.RemoteDescription() != nil
	})
	if got := callerPC.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("caller signaling state %s", got)
	}
	if got := calleePC.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("callee signaling state %s", got)
	}
}

func TestJoinSessionTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, callee, calleePC := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	first, _ := st.Get(ctx, store.CallPath(id))

	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatalf("second join: %v", err)
	}
	second, _ := st.Get(ctx, store.CallPath(id))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("call document changed on second join (-first +second):\n%s", diff)
	}
	if n := calleePC.RemoteDescriptionSets(); n != 1 {
		t.Errorf("callee applied %d remote descriptions", n)
	}
	eventually(t, "answer applied", func() bool { return callerPC.RemoteDescriptionSets() == 1 })
}

// gatedTransport holds SetRemoteDescription until release is closed.
type gatedTransport struct {
	*calltest.FakeTransport
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	close(g.entered)
	<-g.release
	return g.FakeTransport.SetRemoteDescription(desc)
}

func TestConcurrentJoinRejected(t *testing.T) {
	ctx := context.Background()
	st, caller, _, _, _ := newPair(t)
	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	pc := &gatedTransport{
		FakeTransport: calltest.New("callee"),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	callee := NewNegotiator(st, pc, calltest.Media(true))
	defer callee.Close()

	first := make(chan error, 1)
	go func() { first <- callee.JoinSession(ctx, id) }()
	<-pc.entered

	if err := callee.JoinSession(ctx, id); !errors.Is(err, ErrUnexpectedSignalingState) {
		t.Fatalf("concurrent join err = %v, want ErrUnexpectedSignalingState", err)
	}
	if _, err := callee.CreateSession(ctx); !errors.Is(err, ErrUnexpectedSignalingState) {
		t.Fatalf("create during join err = %v, want ErrUnexpectedSignalingState", err)
	}

	close(pc.release)
	if err := <-first; err != nil {
		t.Fatalf("first join: %v", err)
	}
	if n := pc.RemoteDescriptionSets(); n != 1 {
		t.Fatalf("applied %d remote descriptions", n)
	}
	if callee.Role() != RoleCallee || callee.CallID() != id {
		t.Fatalf("role %s id %q", callee.Role(), callee.CallID())
	}
}

func TestJoinRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	_, caller, _, callee, _ := newPair(t)

	if err := callee.JoinSession(ctx, "no-such-call"); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("err = %v", err)
	}
	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatalf("join after failed attempt: %v", err)
	}
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, callee, _ := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	eventually(t, "answer applied", func() bool { return callerPC.RemoteDescription() != nil })

	// A rewritten answer must not be applied a second time.
	err = st.Set(ctx, store.CallPath(id), store.Fields{"answer": store.Fields{"type": "answer", "sdp": "late"}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, store.CallPath(id), store.Fields{"marker": true}, true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := callerPC.RemoteDescriptionSets(); n != 1 {
		t.Fatalf("answer applied %d times", n)
	}
	if got := callerPC.RemoteDescription().SDP; got != "answer from callee" {
		t.Fatalf("remote description replaced with %q", got)
	}
}

func TestCandidateExchange(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, callee, calleePC := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	callerPC.EmitCandidate(5000)
	callerPC.EmitCandidate(5001)

	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	calleePC.EmitCandidate(6000)
	callerPC.EmitCandidate(5002)

	eventually(t, "offer candidates applied", func() bool { return len(calleePC.Candidates()) == 3 })
	eventually(t, "answer candidates applied", func() bool { return len(callerPC.Candidates()) == 1 })

	for _, c := range calleePC.Candidates() {
		if !strings.HasPrefix(c.Candidate, "candidate:") {
			t.Errorf("unexpected candidate %q", c.Candidate)
		}
	}

	// Applied ids follow the persisted order.
	ids := make(chan string, 8)
	sub, err := st.WatchCollection(ctx, store.CandidatesPath(id, store.OfferCandidates), func(s store.Snapshot) {
		ids <- s.ID
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	var persisted []string
	for range 3 {
		select {
		case cid := <-ids:
			persisted = append(persisted, cid)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading persisted candidates")
		}
	}
	if diff := cmp.Diff(persisted, callee.AppliedCandidates()); diff != "" {
		t.Errorf("applied candidates (-persisted +applied):\n%s", diff)
	}
}

func TestCandidatesQueuedUntilAnswer(t *testing.T) {
	ctx := context.Background()
	st, caller, callerPC, _, _ := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A candidate shows up before the answer.
	if _, err := st.Add(ctx, store.CandidatesPath(id, store.AnswerCandidates), store.Fields{
		"candidate": "candidate:1 1 udp 2130706431 192.0.2.2 6000 typ host", "sdpMid": "0", "sdpMLineIndex": 0,
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(callerPC.Candidates()) != 0 {
		t.Fatal("candidate applied before remote description")
	}

	if err := st.Set(ctx, store.CallPath(id), store.Fields{"answer": store.Fields{"type": "answer", "sdp": "v=0"}}, true); err != nil {
		t.Fatal(err)
	}
	eventually(t, "queued candidate flushed", func() bool { return len(callerPC.Candidates()) == 1 })

	got := callerPC.Candidates()[0]
	if got.SDPMid == nil || *got.SDPMid != "0" || got.SDPMLineIndex == nil || *got.SDPMLineIndex != 0 {
		t.Fatalf("candidate fields %+v", got)
	}
}

func TestCandidateWithoutFieldSkipped(t *testing.T) {
	ctx := context.Background()
	st, caller, _, callee, calleePC := newPair(t)

	id, err := caller.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	offers := store.CandidatesPath(id, store.OfferCandidates)
	if _, err := st.Add(ctx, offers, store.Fields{"sdpMid": "0"}); err != nil {
		t.Fatal(err)
	}
	goodID, err := st.Add(ctx, offers, store.Fields{"candidate": "candidate:2 1 udp 1 192.0.2.3 7000 typ host"})
	if err != nil {
		t.Fatal(err)
	}

	if err := callee.JoinSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	eventually(t, "good candidate applied", func() bool { return len(calleePC.Candidates()) == 1 })
	if diff := cmp.Diff([]string{goodID}, callee.AppliedCandidates()); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
}

func TestCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	_, caller, callerPC, _, _ := newPair(t)
	if _, err := caller.CreateSession(ctx); err != nil {
		t.Fatal(err)
	}
	if err := caller.Close(); err != nil {
		t.Fatal(err)
	}
	if err := caller.Close(); err != nil {
		t.Fatal(err)
	}
	if !callerPC.Closed() {
		t.Fatal("transport not closed")
	}
	if err := caller.JoinSession(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("join after close: %v", err)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := wrapError("join call", "otter-cozy", ErrUnexpectedSignalingState, "stable")
	want := "join call otter-cozy: unexpected signaling state (stable)"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrUnexpectedSignalingState) {
		t.Error("errors.Is failed")
	}
}

func TestVPNInterface(t *testing.T) {
	for name, want := range map[string]bool{"wg0": true, "tun0": true, "eth0": false, "CloudflareWARP": true, "en0": false} {
		if got := vpnInterface(name); got != want {
			t.Errorf("vpnInterface(%q) = %v", name, got)
		}
	}
}
