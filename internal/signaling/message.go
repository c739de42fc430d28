package signaling

import "encoding/json"

// Message is the envelope for every frame exchanged with the relay,
// in both directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event name constants.
const (
	EventJoinRoom   = "join-room"
	EventJoinedRoom = "joined-room"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"

	EventCallUser     = "call-user"
	EventCallMade     = "call-made"
	EventMakeAnswer   = "make-answer"
	EventAnswerMade   = "answer-made"
	EventMakeOffer    = "make-offer"
	EventOfferMade    = "offer-made"
	EventICECandidate = "ice-candidate"

	EventHangUp     = "hang-up"
	EventUserHungUp = "user-hung-up"

	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"
)

// User identifies a participant: the relay-assigned connection handle plus
// the user-supplied identity label.
type User struct {
	Identity string `json:"identity"`
	Handle   string `json:"handle"`
}

// JoinRoom is sent by a client to register presence in a room.
type JoinRoom struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

// JoinedRoom confirms a join. Handle is the joiner's own connection handle;
// ExistingUsers lists the room occupants prior to the join.
type JoinedRoom struct {
	Identity      string `json:"identity"`
	Room          string `json:"room"`
	Handle        string `json:"handle"`
	ExistingUsers []User `json:"existingUsers"`
}

// Session descriptions and ICE candidates travel as opaque JSON. The relay
// never inspects them and the client parses them with its own WebRTC types.

// CallUser carries the initial offer to a peer.
type CallUser struct {
	Offer json.RawMessage `json:"offer"`
	To    string          `json:"to"`
}

// CallMade delivers an initial offer. From is the caller's handle.
type CallMade struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

// MakeAnswer carries an answer back to the offering peer.
type MakeAnswer struct {
	Answer json.RawMessage `json:"answer"`
	To     string          `json:"to"`
}

// AnswerMade delivers an answer.
type AnswerMade struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

// MakeOffer carries a renegotiation offer on an established call.
type MakeOffer struct {
	Offer json.RawMessage `json:"offer"`
	To    string          `json:"to"`
}

// OfferMade delivers a renegotiation offer.
type OfferMade struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

// CandidateToPeer carries a local ICE candidate to a peer.
type CandidateToPeer struct {
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to"`
}

// CandidateFromPeer delivers a remote ICE candidate.
type CandidateFromPeer struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// HangUp asks the relay to notify the room that the sender ended the call.
// Directory state is left intact; the sender stays in the room.
type HangUp struct {
	Room string `json:"room"`
}

// SendMessage carries a chat line to a peer.
type SendMessage struct {
	Message string `json:"message"`
	To      string `json:"to"`
}

// ReceiveMessage delivers a chat line.
type ReceiveMessage struct {
	Message string `json:"message"`
	From    string `json:"from"`
}

// NewMessage wraps a payload into an envelope for the given event.
func NewMessage(event string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Event: event, Payload: raw}, nil
}
