// Package relay implements the signaling server: a websocket hub that
// registers participants in a directory and forwards negotiation messages
// between peers. The relay has no media-plane visibility; every payload it
// forwards is opaque.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ankith2004ahms/video-calling/internal/directory"
	"github.com/ankith2004ahms/video-calling/internal/signaling"
)

// inbound pairs a decoded frame with the connection it arrived on.
type inbound struct {
	from *client
	msg  *signaling.Message
}

// Hub is the relay's event loop. A single goroutine (Run) owns the directory
// and the handle-to-client table, so each inbound message is handled to
// completion before the next; no cross-handle locking is needed.
//
// Forwarding is fire and forget: no retry, no buffering beyond each client's
// send queue, no ordering guarantee beyond the websocket's per-connection
// frame order. Lookups that miss drop the message silently.
type Hub struct {
	dir     *directory.Directory
	clients map[string]*client

	register   chan *client
	unregister chan *client
	inbound    chan inbound
	quit       chan struct{}
	stopOnce   sync.Once

	log zerolog.Logger
}

// NewHub creates a hub around an injected directory instance.
func NewHub(dir *directory.Directory, log zerolog.Logger) *Hub {
	return &Hub{
		dir:        dir,
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for handle, c := range h.clients {
				close(c.send)
				delete(h.clients, handle)
			}
			return

		case c := <-h.register:
			h.clients[c.handle] = c
			h.log.Info().Str("handle", c.handle).Msg("client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c.handle]; !ok {
				continue
			}
			delete(h.clients, c.handle)
			h.handleDisconnect(c)
			close(c.send)

		case in := <-h.inbound:
			h.dispatch(in.from, in.msg)
		}
	}
}

// Stop terminates the event loop and releases all clients. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// release hands a departing client back to the event loop. After Stop there
// is no receiver, so the quit case keeps connection goroutines from
// blocking forever during shutdown.
func (h *Hub) release(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) dispatch(c *client, msg *signaling.Message) {
	switch msg.Event {
	case signaling.EventJoinRoom:
		h.handleJoin(c, msg.Payload)
	case signaling.EventCallUser:
		h.forwardOffer(c, msg.Payload, signaling.EventCallMade)
	case signaling.EventMakeOffer:
		h.forwardOffer(c, msg.Payload, signaling.EventOfferMade)
	case signaling.EventMakeAnswer:
		h.handleAnswer(c, msg.Payload)
	case signaling.EventICECandidate:
		h.handleCandidate(c, msg.Payload)
	case signaling.EventHangUp:
		h.handleHangUp(c, msg.Payload)
	case signaling.EventSendMessage:
		h.handleChat(c, msg.Payload)
	default:
		h.log.Debug().Str("event", msg.Event).Str("handle", c.handle).Msg("unknown event")
	}
}

func (h *Hub) handleJoin(c *client, payload json.RawMessage) {
	var join signaling.JoinRoom
	if err := json.Unmarshal(payload, &join); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed join-room")
		return
	}

	existing := h.dir.Register(join.Identity, c.handle, join.Room)

	users := make([]signaling.User, 0, len(existing))
	for _, m := range existing {
		users = append(users, signaling.User{Identity: m.Identity, Handle: m.Handle})
	}

	h.send(c.handle, signaling.EventJoinedRoom, signaling.JoinedRoom{
		Identity:      join.Identity,
		Room:          join.Room,
		Handle:        c.handle,
		ExistingUsers: users,
	})

	h.broadcast(join.Room, c.handle, signaling.EventUserJoined, signaling.User{
		Identity: join.Identity,
		Handle:   c.handle,
	})

	h.log.Info().
		Str("handle", c.handle).
		Str("identity", join.Identity).
		Str("room", join.Room).
		Int("occupants", len(existing)+1).
		Msg("joined room")
}

// forwardOffer relays call-user and make-offer frames; both carry
// {offer, to} and differ only in the outbound event name.
func (h *Hub) forwardOffer(c *client, payload json.RawMessage, outEvent string) {
	if !h.senderKnown(c) {
		return
	}
	var req signaling.CallUser
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed offer frame")
		return
	}
	h.send(req.To, outEvent, signaling.CallMade{Offer: req.Offer, From: c.handle})
}

func (h *Hub) handleAnswer(c *client, payload json.RawMessage) {
	if !h.senderKnown(c) {
		return
	}
	var req signaling.MakeAnswer
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed make-answer")
		return
	}
	h.send(req.To, signaling.EventAnswerMade, signaling.AnswerMade{Answer: req.Answer, From: c.handle})
}

func (h *Hub) handleCandidate(c *client, payload json.RawMessage) {
	if !h.senderKnown(c) {
		return
	}
	var req signaling.CandidateToPeer
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed ice-candidate")
		return
	}
	h.send(req.To, signaling.EventICECandidate, signaling.CandidateFromPeer{Candidate: req.Candidate, From: c.handle})
}

// handleHangUp notifies the rest of the room without touching directory
// state; the participant stays registered and may start a new call.
func (h *Hub) handleHangUp(c *client, payload json.RawMessage) {
	identity, ok := h.dir.ResolveIdentity(c.handle)
	if !ok {
		return
	}
	var req signaling.HangUp
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed hang-up")
		return
	}
	h.broadcast(req.Room, c.handle, signaling.EventUserHungUp, signaling.User{
		Identity: identity,
		Handle:   c.handle,
	})
}

func (h *Hub) handleChat(c *client, payload json.RawMessage) {
	if !h.senderKnown(c) {
		return
	}
	var req signaling.SendMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn().Err(err).Str("handle", c.handle).Msg("malformed send-message")
		return
	}
	h.send(req.To, signaling.EventReceiveMessage, signaling.ReceiveMessage{Message: req.Message, From: c.handle})
}

func (h *Hub) handleDisconnect(c *client) {
	identity, room, ok := h.dir.Unregister(c.handle)
	if !ok {
		h.log.Info().Str("handle", c.handle).Msg("client disconnected")
		return
	}

	h.broadcast(room, c.handle, signaling.EventUserLeft, signaling.User{
		Identity: identity,
		Handle:   c.handle,
	})
	h.log.Info().
		Str("handle", c.handle).
		Str("identity", identity).
		Str("room", room).
		Msg("client left")
}

// senderKnown reports whether the sender has joined. Frames from handles the
// directory cannot resolve are dropped, never error-surfaced.
func (h *Hub) senderKnown(c *client) bool {
	if _, ok := h.dir.ResolveIdentity(c.handle); !ok {
		h.log.Debug().Str("handle", c.handle).Msg("dropping frame from unregistered sender")
		return false
	}
	return true
}

// send delivers a single event to one handle. Unknown or departed handles
// are dropped silently, as is a recipient whose send queue is full.
func (h *Hub) send(handle, event string, payload any) {
	target, ok := h.clients[handle]
	if !ok {
		h.log.Debug().Str("to", handle).Str("event", event).Msg("dropping frame to unknown handle")
		return
	}
	msg, err := signaling.NewMessage(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode outbound frame")
		return
	}
	select {
	case target.send <- msg:
	default:
		h.log.Warn().Str("to", handle).Str("event", event).Msg("send queue full, dropping frame")
	}
}

// broadcast delivers an event to every room occupant except the sender.
func (h *Hub) broadcast(room, exceptHandle, event string, payload any) {
	for _, m := range h.dir.Occupants(room) {
		if m.Handle == exceptHandle {
			continue
		}
		h.send(m.Handle, event, payload)
	}
}
