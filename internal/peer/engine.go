// Package peer owns the negotiation state machine around one WebRTC peer
// connection: offer/answer exchange, ICE candidate buffering, renegotiation
// events and recovery of a failed connection resource.
package peer

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/ankith2004ahms/video-calling/internal/config"
)

const defaultReinitDelay = time.Second

// Options configures an Engine.
type Options struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy

	// ReinitDelay is how long the engine waits after the connection reports
	// failed before replacing the resource.
	ReinitDelay time.Duration

	Logger zerolog.Logger
}

// OptionsFromConfig builds engine options from the client configuration,
// including TURN credentials and the force-relay policy.
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) Options {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return Options{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
		Logger:             log,
	}
}

// Engine drives exactly one underlying peer connection for one remote peer.
//
// Negotiation calls must be serialized by the caller; the engine's own lock
// protects its bookkeeping, not the offer/answer protocol. A connection that
// reports failed is replaced automatically after ReinitDelay; disconnected is
// treated as transient and never discards negotiation state. Every
// replacement bumps the generation counter, which callers compare to discard
// results of superseded negotiations.
type Engine struct {
	mu   sync.Mutex
	opts Options
	pc   *webrtc.PeerConnection

	generation    uint64
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	remoteStream  *RemoteStream
	closed        bool

	onRemoteStream   func(*RemoteStream)
	onLocalCandidate func(webrtc.ICECandidateInit)
	renegotiation    map[int]func()
	nextListener     int

	log zerolog.Logger
}

// New creates an engine and initializes its first connection resource.
func New(opts Options) (*Engine, error) {
	if opts.ReinitDelay == 0 {
		opts.ReinitDelay = defaultReinitDelay
	}
	e := &Engine{
		opts:          opts,
		renegotiation: make(map[int]func()),
		log:           opts.Logger,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.initLocked(); err != nil {
		return nil, err
	}
	return e, nil
}

// initLocked replaces the connection resource: closes the old one, releases
// the synthesized remote stream, clears the candidate queue and
// remoteDescSet, and bumps the generation.
func (e *Engine) initLocked() error {
	if e.pc != nil {
		_ = e.pc.Close()
		e.pc = nil
	}
	if e.remoteStream != nil {
		e.remoteStream.release()
		e.remoteStream = nil
	}
	e.remoteDescSet = false
	e.pending = nil

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         e.opts.ICEServers,
		ICETransportPolicy: e.opts.ICETransportPolicy,
	})
	if err != nil {
		return newError("create peer connection", err)
	}
	e.pc = pc
	e.generation++
	gen := e.generation

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			return
		}
		if e.remoteStream == nil {
			e.remoteStream = &RemoteStream{}
		}
		stream := e.remoteStream
		cb := e.onRemoteStream
		e.mu.Unlock()

		stream.add(track)
		if cb != nil {
			cb(stream)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.mu.Lock()
		cb := e.onLocalCandidate
		current := gen == e.generation
		e.mu.Unlock()
		if cb != nil && current {
			cb(c.ToJSON())
		}
	})

	pc.OnNegotiationNeeded(func() {
		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			return
		}
		listeners := make([]func(), 0, len(e.renegotiation))
		for _, fn := range e.renegotiation {
			listeners = append(listeners, fn)
		}
		e.mu.Unlock()
		for _, fn := range listeners {
			fn()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.log.Debug().Str("state", s.String()).Uint64("generation", gen).Msg("connection state changed")
		// Only failed triggers replacement. Disconnected may still recover
		// on its own and must not discard negotiation state.
		if s == webrtc.PeerConnectionStateFailed {
			e.log.Warn().Uint64("generation", gen).Msg("peer connection failed, scheduling reinit")
			time.AfterFunc(e.opts.ReinitDelay, func() {
				e.reinitIfCurrent(gen)
			})
		}
	})

	return nil
}

func (e *Engine) reinitIfCurrent(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.generation {
		return
	}
	if err := e.initLocked(); err != nil {
		e.log.Error().Err(err).Msg("reinit after failure")
	}
}

func (e *Engine) usableLocked() bool {
	if e.pc == nil {
		return false
	}
	switch e.pc.ConnectionState() {
	case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
		return false
	}
	return e.pc.SignalingState() != webrtc.SignalingStateClosed
}

// currentPC returns the live connection, or re-initializes and reports
// ErrInvalidState so the caller fails this one attempt and may retry.
func (e *Engine) currentPC(op string) (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, newError(op, ErrEngineClosed)
	}
	if !e.usableLocked() {
		if err := e.initLocked(); err != nil {
			return nil, err
		}
		return nil, newError(op, ErrInvalidState)
	}
	return e.pc, nil
}

// CreateOffer produces a local offer and applies it as the local
// description.
func (e *Engine) CreateOffer() (*webrtc.SessionDescription, error) {
	pc, err := e.currentPC("create offer")
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, newError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, newError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// CreateAnswer applies the remote offer (draining any buffered candidates)
// and produces a local answer.
func (e *Engine) CreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := e.applyRemote("create answer", offer)
	if err != nil {
		return nil, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, newError("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, newError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// ApplyRemoteAnswer applies the peer's answer to our outstanding offer.
func (e *Engine) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	_, err := e.applyRemote("apply remote answer", answer)
	return err
}

// ApplyRemoteOffer applies a renegotiation offer the local side did not
// initiate.
func (e *Engine) ApplyRemoteOffer(offer webrtc.SessionDescription) error {
	_, err := e.applyRemote("apply remote offer", offer)
	return err
}

// applyRemote sets the remote description and atomically drains the pending
// candidate queue. Each buffered candidate is applied exactly once, in
// arrival order; a candidate that the transport rejects is logged and
// skipped.
func (e *Engine) applyRemote(op string, desc webrtc.SessionDescription) (*webrtc.PeerConnection, error) {
	pc, err := e.currentPC(op)
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(desc); err != nil {
		return nil, newError(op, err)
	}

	e.mu.Lock()
	if e.pc != pc {
		// Reset superseded this negotiation mid-flight.
		e.mu.Unlock()
		return nil, newError(op, ErrInvalidState)
	}
	e.remoteDescSet = true
	drain := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, c := range drain {
		if err := pc.AddICECandidate(c); err != nil {
			e.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	return pc, nil
}

// AddRemoteCandidate applies a remote ICE candidate, or buffers it FIFO
// until the remote description is set.
func (e *Engine) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return newError("add remote candidate", ErrEngineClosed)
	}
	if !e.remoteDescSet || e.pc == nil {
		e.pending = append(e.pending, c)
		e.mu.Unlock()
		return nil
	}
	pc := e.pc
	e.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		return newError("add remote candidate", err)
	}
	return nil
}

// AddLocalTracks attaches local tracks to the connection. Re-adding a track
// that is already attached (matched by track ID) is a no-op.
func (e *Engine) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	pc, err := e.currentPC("add local tracks")
	if err != nil {
		return err
	}

	attached := make(map[string]bool)
	for _, sender := range pc.GetSenders() {
		if t := sender.Track(); t != nil {
			attached[t.ID()] = true
		}
	}

	for _, track := range tracks {
		if attached[track.ID()] {
			continue
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return newError("add track", err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP consumes feedback packets so interceptors keep running; it exits
// when the sender's transport closes.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// OnRemoteStream registers the observer notified as inbound tracks arrive,
// aggregated into one remote-stream handle. Replaces any previous observer;
// exactly one coordinator owns an engine.
func (e *Engine) OnRemoteStream(fn func(*RemoteStream)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteStream = fn
}

// OnLocalCandidate registers the observer for locally discovered ICE
// candidates, which the caller forwards to the peer. Replaces any previous
// observer.
func (e *Engine) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocalCandidate = fn
}

// AddRenegotiationListener subscribes to the transport's renegotiation-needed
// signal. The engine only forwards the event; the listener decides whether
// to send a fresh offer. Returns an id for removal.
func (e *Engine) AddRenegotiationListener(fn func()) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextListener++
	e.renegotiation[e.nextListener] = fn
	return e.nextListener
}

// RemoveRenegotiationListener unsubscribes a listener.
func (e *Engine) RemoveRenegotiationListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.renegotiation, id)
}

// Reset tears down the connection resource and creates a fresh one, clearing
// the candidate queue and remote-description flag. Safe to call repeatedly,
// including when the resource is already closed.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return newError("reset", ErrEngineClosed)
	}
	return e.initLocked()
}

// Close shuts the engine down for good.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.remoteStream != nil {
		e.remoteStream.release()
		e.remoteStream = nil
	}
	if e.pc != nil {
		err := e.pc.Close()
		e.pc = nil
		if err != nil {
			return newError("close", err)
		}
	}
	return nil
}

// Generation identifies the current connection resource. Callers snapshot it
// before an asynchronous negotiation and discard the result if it changed.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// RemoteDescriptionSet reports whether a remote description was applied to
// the current resource.
func (e *Engine) RemoteDescriptionSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteDescSet
}

// PendingCandidateCount reports the depth of the buffered candidate queue.
func (e *Engine) PendingCandidateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// SignalingState exposes the underlying signaling state.
func (e *Engine) SignalingState() webrtc.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return webrtc.SignalingStateClosed
	}
	return e.pc.SignalingState()
}

// RemoteStreamHandle returns the aggregated remote stream for the current
// resource, if any tracks have arrived.
func (e *Engine) RemoteStreamHandle() *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteStream
}
