package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/ankith2004ahms/video-calling/internal/media"
	"github.com/ankith2004ahms/video-calling/internal/peer"
	"github.com/ankith2004ahms/video-calling/internal/signaling"
)

type fakeEngine struct {
	mu sync.Mutex

	gen         uint64
	offerErr    error
	offers      int
	answered    []webrtc.SessionDescription
	applied     []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	tracks      []webrtc.TrackLocal
	resets      int
	onCandidate func(webrtc.ICECandidateInit)
	onStream    func(*peer.RemoteStream)
	listeners   map[int]func()
	nextID      int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{listeners: make(map[int]func())}
}

func (f *fakeEngine) CreateOffer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	f.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeEngine) CreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, offer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeEngine) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, answer)
	return nil
}

func (f *fakeEngine) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, tracks...)
	return nil
}

func (f *fakeEngine) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeEngine) OnRemoteStream(fn func(*peer.RemoteStream)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStream = fn
}

func (f *fakeEngine) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeEngine) AddRenegotiationListener(fn func()) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[f.nextID] = fn
	return f.nextID
}

func (f *fakeEngine) RemoveRenegotiationListener(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

func (f *fakeEngine) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.gen++
	return nil
}

func (f *fakeEngine) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeEngine) bumpGeneration() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
}

func (f *fakeEngine) fireRenegotiation() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeEngine) localCandidateFn() func(webrtc.ICECandidateInit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onCandidate
}

type sentFrame struct {
	event   string
	payload any
}

type fakeRelay struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeRelay) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{event: event, payload: payload})
	return nil
}

func (f *fakeRelay) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		if fr.event == event {
			n++
		}
	}
	return n
}

func (f *fakeRelay) last(event string) (sentFrame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].event == event {
			return f.frames[i], true
		}
	}
	return sentFrame{}, false
}

type harness struct {
	coord  *Coordinator
	engine *fakeEngine
	relay  *fakeRelay
	events *signaling.Events
	ended  chan struct{}
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	engine := newFakeEngine()
	relay := &fakeRelay{}
	events := signaling.NewEvents()
	ended := make(chan struct{}, 4)

	coord := New(relay, events, engine, media.NewStaticSource(), Options{
		Identity:    "alice",
		Room:        "demo",
		OnCallEnded: func() { ended <- struct{}{} },
		Logger:      zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{coord: coord, engine: engine, relay: relay, events: events, ended: ended, cancel: cancel}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) joinWithPeer(t *testing.T, peerHandle string) {
	t.Helper()
	h.events.Joined <- &signaling.JoinedRoom{
		Identity:      "alice",
		Room:          "demo",
		Handle:        "h-self",
		ExistingUsers: []signaling.User{{Identity: "bob", Handle: peerHandle}},
	}
	waitFor(t, "joined handled", func() bool { return h.coord.RemoteHandle() == peerHandle })
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestStartCallWithoutPeer(t *testing.T) {
	h := newHarness(t)

	if err := h.coord.StartCall(); !errors.Is(err, ErrNoActivePeer) {
		t.Fatalf("StartCall with no peer: got %v, want ErrNoActivePeer", err)
	}
	if n := h.relay.count(signaling.EventCallUser); n != 0 {
		t.Fatalf("sent %d call-user frames, want 0", n)
	}
}

func TestStartCallSendsOfferToFirstOccupant(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	fr, ok := h.relay.last(signaling.EventCallUser)
	if !ok {
		t.Fatal("no call-user frame sent")
	}
	if call := fr.payload.(signaling.CallUser); call.To != "h-bob" {
		t.Fatalf("call-user addressed to %q, want h-bob", call.To)
	}
	if len(h.engine.tracks) == 0 {
		t.Fatal("no local tracks added before offering")
	}
	if err := h.coord.StartCall(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second StartCall: got %v, want ErrBusy", err)
	}
}

func TestJoinDoesNotAutoCall(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	time.Sleep(50 * time.Millisecond)
	if n := h.relay.count(signaling.EventCallUser); n != 0 {
		t.Fatalf("join triggered %d call-user frames, want 0", n)
	}
}

func TestIncomingCallIsAnswered(t *testing.T) {
	h := newHarness(t)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 incoming"}
	h.events.CallMade <- &signaling.CallMade{Offer: mustRaw(t, offer), From: "h-bob"}

	waitFor(t, "answer sent", func() bool { return h.relay.count(signaling.EventMakeAnswer) == 1 })

	fr, _ := h.relay.last(signaling.EventMakeAnswer)
	if ans := fr.payload.(signaling.MakeAnswer); ans.To != "h-bob" {
		t.Fatalf("answer addressed to %q, want h-bob", ans.To)
	}
	if len(h.engine.answered) != 1 || h.engine.answered[0].SDP != "v=0 incoming" {
		t.Fatalf("engine answered %v, want the incoming offer", h.engine.answered)
	}
	if got := h.coord.RemoteHandle(); got != "h-bob" {
		t.Fatalf("remote handle = %q, want caller's handle", got)
	}
}

func TestSimultaneousOffersResolveToAnswering(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	// The peer called at the same moment. The outgoing attempt must be
	// abandoned and the incoming offer answered.
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 colliding"}
	h.events.CallMade <- &signaling.CallMade{Offer: mustRaw(t, offer), From: "h-bob"}

	waitFor(t, "colliding call answered", func() bool {
		return h.relay.count(signaling.EventMakeAnswer) == 1
	})
	if h.engine.resets != 1 {
		t.Fatalf("engine reset %d times, want 1", h.engine.resets)
	}
	if len(h.engine.answered) != 1 || h.engine.answered[0].SDP != "v=0 colliding" {
		t.Fatalf("engine answered %v, want the colliding offer", h.engine.answered)
	}

	// The peer's answer to the abandoned offer arrives late; the reset's
	// generation bump must keep it from being applied.
	stale := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 stale"}
	h.events.AnswerMade <- &signaling.AnswerMade{Answer: mustRaw(t, stale), From: "h-bob"}

	waitFor(t, "negotiation released", func() bool {
		return !errors.Is(h.coord.StartCall(), ErrBusy)
	})
	if len(h.engine.applied) != 0 {
		t.Fatalf("stale answer was applied: %v", h.engine.applied)
	}
}

func TestAnswerForSupersededOfferIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	h.engine.bumpGeneration()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 stale"}
	h.events.AnswerMade <- &signaling.AnswerMade{Answer: mustRaw(t, answer), From: "h-bob"}

	// The stale answer must still release the in-flight guard.
	waitFor(t, "negotiation released", func() bool {
		return !errors.Is(h.coord.StartCall(), ErrBusy)
	})
	if len(h.engine.applied) != 0 {
		t.Fatalf("stale answer was applied: %v", h.engine.applied)
	}
}

func TestAnswerForCurrentOfferIsApplied(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fresh"}
	h.events.AnswerMade <- &signaling.AnswerMade{Answer: mustRaw(t, answer), From: "h-bob"}

	waitFor(t, "answer applied", func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return len(h.engine.applied) == 1
	})
	if h.engine.applied[0].SDP != "v=0 fresh" {
		t.Fatalf("applied %q, want the fresh answer", h.engine.applied[0].SDP)
	}
}

func TestRenegotiationOfferFromPeer(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 renegotiate"}
	h.events.OfferMade <- &signaling.OfferMade{Offer: mustRaw(t, offer), From: "h-bob"}

	waitFor(t, "renegotiation answered", func() bool {
		return h.relay.count(signaling.EventMakeAnswer) == 1
	})
	if len(h.engine.answered) != 1 || h.engine.answered[0].SDP != "v=0 renegotiate" {
		t.Fatalf("engine answered %v, want the renegotiation offer", h.engine.answered)
	}
}

func TestRenegotiationTriggerSkippedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	h.engine.fireRenegotiation()
	time.Sleep(50 * time.Millisecond)
	if n := h.relay.count(signaling.EventMakeOffer); n != 0 {
		t.Fatalf("sent %d make-offer frames during in-flight negotiation, want 0", n)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 done"}
	h.events.AnswerMade <- &signaling.AnswerMade{Answer: mustRaw(t, answer), From: "h-bob"}
	waitFor(t, "answer applied", func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return len(h.engine.applied) == 1
	})

	h.engine.fireRenegotiation()
	waitFor(t, "renegotiation offer", func() bool {
		return h.relay.count(signaling.EventMakeOffer) == 1
	})
	fr, _ := h.relay.last(signaling.EventMakeOffer)
	if offer := fr.payload.(signaling.MakeOffer); offer.To != "h-bob" {
		t.Fatalf("make-offer addressed to %q, want h-bob", offer.To)
	}
}

func TestRemoteCandidateReachesEngine(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	init := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122252543 127.0.0.1 9000 typ host"}
	h.events.Candidates <- &signaling.CandidateFromPeer{Candidate: mustRaw(t, init), From: "h-bob"}

	waitFor(t, "candidate added", func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return len(h.engine.candidates) == 1
	})
	if h.engine.candidates[0].Candidate != init.Candidate {
		t.Fatalf("engine got candidate %q", h.engine.candidates[0].Candidate)
	}
}

func TestLocalCandidateForwarding(t *testing.T) {
	h := newHarness(t)

	var fn func(webrtc.ICECandidateInit)
	waitFor(t, "candidate callback wired", func() bool {
		fn = h.engine.localCandidateFn()
		return fn != nil
	})

	init := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122252543 127.0.0.1 9001 typ host"}

	// No remote peer yet: the candidate has nowhere to go.
	fn(init)
	if n := h.relay.count(signaling.EventICECandidate); n != 0 {
		t.Fatalf("forwarded %d candidates with no peer, want 0", n)
	}

	h.joinWithPeer(t, "h-bob")
	fn(init)
	fr, ok := h.relay.last(signaling.EventICECandidate)
	if !ok {
		t.Fatal("candidate not forwarded after peer known")
	}
	if cand := fr.payload.(signaling.CandidateToPeer); cand.To != "h-bob" {
		t.Fatalf("candidate addressed to %q, want h-bob", cand.To)
	}
}

func TestPeerLeavingEndsCall(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	h.events.UserLeft <- &signaling.User{Identity: "bob", Handle: "h-bob"}

	select {
	case <-h.ended:
	case <-time.After(time.Second):
		t.Fatal("OnCallEnded never fired")
	}
	if h.coord.RemoteHandle() != "" {
		t.Fatal("remote handle not cleared after peer left")
	}
	if h.engine.resets != 1 {
		t.Fatalf("engine reset %d times, want 1", h.engine.resets)
	}
	if h.coord.LocalStream() != nil {
		t.Fatal("local stream not released after peer left")
	}
}

func TestUnrelatedDepartureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	h.events.UserLeft <- &signaling.User{Identity: "mallory", Handle: "h-other"}

	time.Sleep(50 * time.Millisecond)
	if h.coord.RemoteHandle() != "h-bob" {
		t.Fatal("unrelated departure cleared the call target")
	}
	if h.engine.resets != 0 {
		t.Fatalf("engine reset %d times, want 0", h.engine.resets)
	}
}

func TestHangUpNotifiesRoomAndResets(t *testing.T) {
	h := newHarness(t)
	h.joinWithPeer(t, "h-bob")

	if err := h.coord.StartCall(); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := h.coord.HangUp(); err != nil {
		t.Fatalf("HangUp: %v", err)
	}

	fr, ok := h.relay.last(signaling.EventHangUp)
	if !ok {
		t.Fatal("no hang-up frame sent")
	}
	if hang := fr.payload.(signaling.HangUp); hang.Room != "demo" {
		t.Fatalf("hang-up for room %q, want demo", hang.Room)
	}
	if h.coord.RemoteHandle() != "" {
		t.Fatal("remote handle not cleared after hang-up")
	}
	if h.engine.resets != 1 {
		t.Fatalf("engine reset %d times, want 1", h.engine.resets)
	}
}

func TestSendMessageRequiresPeer(t *testing.T) {
	h := newHarness(t)

	if err := h.coord.SendMessage("hello"); !errors.Is(err, ErrNoActivePeer) {
		t.Fatalf("SendMessage with no peer: got %v, want ErrNoActivePeer", err)
	}

	h.joinWithPeer(t, "h-bob")
	if err := h.coord.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	fr, _ := h.relay.last(signaling.EventSendMessage)
	if msg := fr.payload.(signaling.SendMessage); msg.To != "h-bob" || msg.Message != "hello" {
		t.Fatalf("sent %+v, want hello to h-bob", msg)
	}
}
