package signaling

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Events routes incoming relay messages into typed channels, one per event
// kind, so a consumer can select over exactly the events it cares about.
type Events struct {
	Joined     chan *JoinedRoom
	UserJoined chan *User
	UserLeft   chan *User
	UserHungUp chan *User
	CallMade   chan *CallMade
	AnswerMade chan *AnswerMade
	OfferMade  chan *OfferMade
	Candidates chan *CandidateFromPeer
	Messages   chan *ReceiveMessage

	closed bool
}

// NewEvents creates the channel set. Candidate traffic is the chatty one and
// gets the deeper buffer.
func NewEvents() *Events {
	return &Events{
		Joined:     make(chan *JoinedRoom, 1),
		UserJoined: make(chan *User, 4),
		UserLeft:   make(chan *User, 4),
		UserHungUp: make(chan *User, 4),
		CallMade:   make(chan *CallMade, 1),
		AnswerMade: make(chan *AnswerMade, 1),
		OfferMade:  make(chan *OfferMade, 4),
		Candidates: make(chan *CandidateFromPeer, 32),
		Messages:   make(chan *ReceiveMessage, 16),
	}
}

// Run consumes the message source until it is closed, decoding payloads and
// fanning them out. Malformed payloads are logged and dropped, matching the
// fire-and-forget nature of the signaling plane.
func (e *Events) Run(incoming <-chan *Message) {
	for msg := range incoming {
		switch msg.Event {
		case EventJoinedRoom:
			routeTo(e.Joined, msg)
		case EventUserJoined:
			routeTo(e.UserJoined, msg)
		case EventUserLeft:
			routeTo(e.UserLeft, msg)
		case EventUserHungUp:
			routeTo(e.UserHungUp, msg)
		case EventCallMade:
			routeTo(e.CallMade, msg)
		case EventAnswerMade:
			routeTo(e.AnswerMade, msg)
		case EventOfferMade:
			routeTo(e.OfferMade, msg)
		case EventICECandidate:
			routeTo(e.Candidates, msg)
		case EventReceiveMessage:
			routeTo(e.Messages, msg)
		default:
			log.Debug().Str("event", msg.Event).Msg("ignoring unknown relay event")
		}
	}
}

// Close closes every event channel. Call after Run has returned.
func (e *Events) Close() {
	if e.closed {
		return
	}
	e.closed = true

	close(e.Joined)
	close(e.UserJoined)
	close(e.UserLeft)
	close(e.UserHungUp)
	close(e.CallMade)
	close(e.AnswerMade)
	close(e.OfferMade)
	close(e.Candidates)
	close(e.Messages)
}

func routeTo[T any](ch chan *T, msg *Message) {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Warn().Err(err).Str("event", msg.Event).Msg("dropping malformed relay payload")
		return
	}
	ch <- &payload
}
