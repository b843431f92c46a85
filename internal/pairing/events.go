package pairing

import "encoding/json"

// EventType tags both server notifications and relayed signals.
type EventType string

const (
	EventWaiting     EventType = "waiting"
	EventMatched     EventType = "matched"
	EventPartnerLeft EventType = "partner-left"

	EventChatMessage   EventType = "chat-message"
	EventSessionOffer  EventType = "session-offer"
	EventSessionAnswer EventType = "session-answer"
	EventICECandidate  EventType = "ice-candidate"
)

// Relayable reports whether t is a signal kind that may be forwarded to a
// partner.
func (t EventType) Relayable() bool {
	switch t {
	case EventChatMessage, EventSessionOffer, EventSessionAnswer, EventICECandidate:
		return true
	default:
		return false
	}
}

// LeaveReason explains why a partner-left event was sent.
type LeaveReason string

const (
	ReasonLeft          LeaveReason = "left"
	ReasonDisconnected  LeaveReason = "disconnected"
	ReasonRequestedNext LeaveReason = "requested-next"
)

// Event is a notification or relayed signal addressed to one connection.
type Event struct {
	Type EventType

	// Initiator is set on matched events for the side expected to create the
	// session offer.
	Initiator bool

	// Reason is set on partner-left events.
	Reason LeaveReason

	// Sender is the partner's display name on chat-message events.
	Sender string
	Text   string

	// From is the partner's connection id on offer/answer/candidate events.
	From ConnID
	// Payload is the signaling blob exactly as the partner sent it.
	Payload json.RawMessage
}

// Signal is an inbound payload to relay to the sender's current partner.
type Signal struct {
	Kind    EventType
	Text    string
	Payload json.RawMessage
}
