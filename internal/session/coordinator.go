// Package session binds relay events to negotiation engine calls. The
// coordinator is the only caller of the engine, which gives the offer/answer
// protocol the serialization it requires.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/ankith2004ahms/video-calling/internal/media"
	"github.com/ankith2004ahms/video-calling/internal/peer"
	"github.com/ankith2004ahms/video-calling/internal/signaling"
)

var (
	// ErrNoActivePeer means no remote peer is known to call.
	ErrNoActivePeer = errors.New("no active peer")

	// ErrBusy means a negotiation is already in flight; the new attempt is
	// ignored to avoid glare.
	ErrBusy = errors.New("negotiation already in flight")
)

// Engine is the slice of the negotiation engine the coordinator drives.
// *peer.Engine implements it; tests substitute fakes.
type Engine interface {
	CreateOffer() (*webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	AddLocalTracks(tracks []webrtc.TrackLocal) error
	AddRemoteCandidate(c webrtc.ICECandidateInit) error
	OnRemoteStream(fn func(*peer.RemoteStream))
	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	AddRenegotiationListener(fn func()) int
	RemoveRenegotiationListener(id int)
	Reset() error
	Generation() uint64
}

// Relay is the outbound half of the signaling connection.
type Relay interface {
	Send(event string, payload any) error
}

// Options configures a coordinator.
type Options struct {
	Identity string
	Room     string

	// OnRemoteStream is the rendering sink for the aggregated remote stream.
	OnRemoteStream func(*peer.RemoteStream)

	// OnMessage receives relayed chat lines.
	OnMessage func(*signaling.ReceiveMessage)

	// OnCallEnded fires when the active call ends for any reason: local
	// hang-up, remote hang-up or remote departure.
	OnCallEnded func()

	Logger zerolog.Logger
}

// Coordinator subscribes to relay events and drives the engine's state
// transitions for a single two-party call.
type Coordinator struct {
	mu sync.Mutex

	relay  Relay
	events *signaling.Events
	engine Engine
	source media.Source
	opts   Options

	ctx          context.Context
	selfHandle   string
	remoteHandle string
	localStream  *media.Stream

	// negotiating serializes offer/answer attempts; offerGen is the engine
	// generation snapshotted when the in-flight offer was created, used to
	// discard answers to superseded negotiations.
	negotiating bool
	offerGen    uint64

	renegotiate chan struct{}

	log zerolog.Logger
}

// New wires a coordinator. Call Join to register presence and Run to start
// consuming events.
func New(relay Relay, events *signaling.Events, engine Engine, source media.Source, opts Options) *Coordinator {
	return &Coordinator{
		relay:       relay,
		events:      events,
		engine:      engine,
		source:      source,
		opts:        opts,
		renegotiate: make(chan struct{}, 1),
		log:         opts.Logger,
	}
}

// Join registers presence in the room.
func (c *Coordinator) Join() error {
	return c.relay.Send(signaling.EventJoinRoom, signaling.JoinRoom{
		Identity: c.opts.Identity,
		Room:     c.opts.Room,
	})
}

// Run consumes relay events until the context is cancelled or the event
// channels close. It must be running before Join's reply can be handled.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.engine.OnLocalCandidate(c.forwardLocalCandidate)
	c.engine.OnRemoteStream(func(stream *peer.RemoteStream) {
		if c.opts.OnRemoteStream != nil {
			c.opts.OnRemoteStream(stream)
		}
	})

	// The transport signals renegotiation need from its own goroutine; the
	// channel hop brings the decision back into this loop so engine calls
	// stay serialized.
	id := c.engine.AddRenegotiationListener(func() {
		select {
		case c.renegotiate <- struct{}{}:
		default:
		}
	})
	defer c.engine.RemoveRenegotiationListener(id)

	for {
		select {
		case <-ctx.Done():
			return

		case joined, ok := <-c.events.Joined:
			if !ok {
				return
			}
			c.handleJoined(joined)

		case user, ok := <-c.events.UserJoined:
			if !ok {
				return
			}
			c.handleUserJoined(user)

		case user, ok := <-c.events.UserLeft:
			if !ok {
				return
			}
			c.handlePeerGone(user, "peer left room")

		case user, ok := <-c.events.UserHungUp:
			if !ok {
				return
			}
			c.handlePeerGone(user, "peer hung up")

		case call, ok := <-c.events.CallMade:
			if !ok {
				return
			}
			c.handleCallMade(call)

		case answer, ok := <-c.events.AnswerMade:
			if !ok {
				return
			}
			c.handleAnswerMade(answer)

		case offer, ok := <-c.events.OfferMade:
			if !ok {
				return
			}
			c.handleOfferMade(offer)

		case cand, ok := <-c.events.Candidates:
			if !ok {
				return
			}
			c.handleCandidate(cand)

		case msg, ok := <-c.events.Messages:
			if !ok {
				return
			}
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(msg)
			}

		case <-c.renegotiate:
			c.handleRenegotiationNeeded()
		}
	}
}

// StartCall acquires local media and sends the initial offer to the known
// remote peer. Calls are never started automatically on join.
func (c *Coordinator) StartCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remoteHandle == "" {
		return ErrNoActivePeer
	}
	if c.negotiating {
		return ErrBusy
	}
	if err := c.ensureLocalMediaLocked(); err != nil {
		return err
	}

	c.negotiating = true
	c.offerGen = c.engine.Generation()

	offer, err := c.engine.CreateOffer()
	if err != nil {
		// Fail-soft: the engine already recovered the resource; this
		// attempt simply produced no offer.
		c.negotiating = false
		c.log.Warn().Err(err).Msg("no offer produced for this attempt")
		return nil
	}

	return c.sendDescription(signaling.EventCallUser, offer, c.remoteHandle)
}

// HangUp ends the active call: notifies the relay, stops local media and
// resets the engine for the next call.
func (c *Coordinator) HangUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.relay.Send(signaling.EventHangUp, signaling.HangUp{Room: c.opts.Room})
	c.endCallLocked("local hang-up")
	return err
}

// SendMessage relays a chat line to the active peer.
func (c *Coordinator) SendMessage(text string) error {
	c.mu.Lock()
	to := c.remoteHandle
	c.mu.Unlock()

	if to == "" {
		return ErrNoActivePeer
	}
	return c.relay.Send(signaling.EventSendMessage, signaling.SendMessage{Message: text, To: to})
}

// RemoteHandle returns the current call target, if any.
func (c *Coordinator) RemoteHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteHandle
}

// SelfHandle returns the handle the relay assigned to this connection.
func (c *Coordinator) SelfHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfHandle
}

// LocalStream returns the acquired local media stream, if any.
func (c *Coordinator) LocalStream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localStream
}

func (c *Coordinator) handleJoined(joined *signaling.JoinedRoom) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selfHandle = joined.Handle
	if len(joined.ExistingUsers) > 0 && c.remoteHandle == "" {
		// First occupant becomes the call target. No auto-call.
		c.remoteHandle = joined.ExistingUsers[0].Handle
	}
	c.log.Info().
		Str("room", joined.Room).
		Str("handle", joined.Handle).
		Int("occupants", len(joined.ExistingUsers)).
		Msg("joined room")
}

func (c *Coordinator) handleUserJoined(user *signaling.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteHandle = user.Handle
	c.log.Info().Str("identity", user.Identity).Str("handle", user.Handle).Msg("peer joined")
}

func (c *Coordinator) handleCallMade(call *signaling.CallMade) {
	offer, ok := decodeDescription(call.Offer, c.log)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.negotiating {
		// Glare: both sides offered at once. Abandon the local attempt and
		// take the answerer role; the generation bump makes the peer's
		// answer to the abandoned offer discard itself.
		c.log.Info().Str("from", call.From).Msg("incoming call during outgoing attempt, answering instead")
		if err := c.engine.Reset(); err != nil {
			c.log.Warn().Err(err).Msg("engine reset failed")
		}
		c.negotiating = false
	}

	c.remoteHandle = call.From
	if err := c.ensureLocalMediaLocked(); err != nil {
		c.log.Error().Err(err).Msg("cannot answer call without local media")
		return
	}

	answer, err := c.engine.CreateAnswer(offer)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to answer incoming call")
		return
	}
	if err := c.sendDescription(signaling.EventMakeAnswer, answer, call.From); err != nil {
		c.log.Warn().Err(err).Msg("failed to send answer")
	}
}

func (c *Coordinator) handleAnswerMade(answer *signaling.AnswerMade) {
	desc, ok := decodeDescription(answer.Answer, c.log)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.negotiating = false
	if c.engine.Generation() != c.offerGen {
		// The offer this answers was superseded by a reset.
		c.log.Debug().Msg("discarding answer for superseded negotiation")
		return
	}
	if err := c.engine.ApplyRemoteAnswer(desc); err != nil {
		c.log.Warn().Err(err).Msg("failed to apply remote answer")
	}
}

func (c *Coordinator) handleOfferMade(offer *signaling.OfferMade) {
	desc, ok := decodeDescription(offer.Offer, c.log)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Renegotiation: apply the remote offer and answer it.
	answer, err := c.engine.CreateAnswer(desc)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to answer renegotiation offer")
		return
	}
	if err := c.sendDescription(signaling.EventMakeAnswer, answer, offer.From); err != nil {
		c.log.Warn().Err(err).Msg("failed to send renegotiation answer")
	}
}

func (c *Coordinator) handleCandidate(cand *signaling.CandidateFromPeer) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand.Candidate, &init); err != nil {
		c.log.Warn().Err(err).Msg("malformed remote candidate")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.AddRemoteCandidate(init); err != nil {
		c.log.Warn().Err(err).Msg("failed to add remote candidate")
	}
}

func (c *Coordinator) handleRenegotiationNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remoteHandle == "" {
		return
	}
	if c.negotiating {
		// Glare guard: ignore the trigger while a negotiation is in flight.
		c.log.Debug().Msg("ignoring renegotiation trigger, negotiation in flight")
		return
	}

	c.negotiating = true
	c.offerGen = c.engine.Generation()

	offer, err := c.engine.CreateOffer()
	if err != nil {
		c.negotiating = false
		c.log.Warn().Err(err).Msg("no renegotiation offer produced")
		return
	}
	if err := c.sendDescription(signaling.EventMakeOffer, offer, c.remoteHandle); err != nil {
		c.log.Warn().Err(err).Msg("failed to send renegotiation offer")
	}
}

func (c *Coordinator) handlePeerGone(user *signaling.User, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user.Handle != c.remoteHandle {
		return
	}
	c.log.Info().Str("identity", user.Identity).Msg(reason)
	c.endCallLocked(reason)
}

// endCallLocked stops local media, resets the engine and clears the target.
func (c *Coordinator) endCallLocked(reason string) {
	if c.localStream != nil {
		c.localStream.Stop()
		c.localStream = nil
	}
	if err := c.engine.Reset(); err != nil {
		c.log.Warn().Err(err).Msg("engine reset failed")
	}
	c.remoteHandle = ""
	c.negotiating = false

	if c.opts.OnCallEnded != nil {
		c.opts.OnCallEnded()
	}
}

func (c *Coordinator) ensureLocalMediaLocked() error {
	if c.localStream == nil {
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		stream, err := c.source.Acquire(ctx)
		if err != nil {
			// PermissionDenied / DeviceUnavailable surface to the UI; the
			// core takes no recovery action.
			return err
		}
		c.localStream = stream
	}
	// Attaching is idempotent, and after an engine reset it re-attaches the
	// existing stream to the fresh connection.
	return c.engine.AddLocalTracks(c.localStream.Tracks())
}

// forwardLocalCandidate runs on the transport's goroutine; it only reads the
// target under lock and hands the candidate to the relay.
func (c *Coordinator) forwardLocalCandidate(init webrtc.ICECandidateInit) {
	c.mu.Lock()
	to := c.remoteHandle
	c.mu.Unlock()

	if to == "" {
		c.log.Debug().Msg("dropping local candidate, no remote peer yet")
		return
	}
	raw, err := json.Marshal(init)
	if err != nil {
		c.log.Error().Err(err).Msg("encode local candidate")
		return
	}
	if err := c.relay.Send(signaling.EventICECandidate, signaling.CandidateToPeer{Candidate: raw, To: to}); err != nil {
		c.log.Warn().Err(err).Msg("failed to forward local candidate")
	}
}

func (c *Coordinator) sendDescription(event string, desc *webrtc.SessionDescription, to string) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	switch event {
	case signaling.EventCallUser:
		return c.relay.Send(event, signaling.CallUser{Offer: raw, To: to})
	case signaling.EventMakeOffer:
		return c.relay.Send(event, signaling.MakeOffer{Offer: raw, To: to})
	default:
		return c.relay.Send(event, signaling.MakeAnswer{Answer: raw, To: to})
	}
}

func decodeDescription(raw json.RawMessage, log zerolog.Logger) (webrtc.SessionDescription, bool) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		log.Warn().Err(err).Msg("malformed session description")
		return desc, false
	}
	return desc, true
}
