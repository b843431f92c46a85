package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/lchangra/lchangra-signal/internal/pairing"
)

type messageType string

const (
	messageTypeJoin  messageType = "join"
	messageTypeNext  messageType = "next"
	messageTypeLeave messageType = "leave"
	messageTypeError messageType = "error"

	messageTypeChat      = messageType(pairing.EventChatMessage)
	messageTypeOffer     = messageType(pairing.EventSessionOffer)
	messageTypeAnswer    = messageType(pairing.EventSessionAnswer)
	messageTypeCandidate = messageType(pairing.EventICECandidate)
)

// Error codes sent in error frames.
const (
	errorCodeBadMessage  = "bad_message"
	errorCodeRateLimited = "rate_limited"
	errorCodeServerFull  = "server_full"
)

// clientMessage is a frame received from a browser.
type clientMessage struct {
	Type messageType `json:"type"`

	Name *string `json:"name,omitempty"`
	Text *string `json:"text,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, errors.New("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) hasPayload() bool {
	return m.Offer != nil || m.Answer != nil || m.Candidate != nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeJoin:
		if m.Text != nil || m.hasPayload() {
			return errors.New("join message has unexpected fields")
		}
	case messageTypeNext, messageTypeLeave:
		if m.Name != nil || m.Text != nil || m.hasPayload() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeChat:
		if m.Text == nil || strings.TrimSpace(*m.Text) == "" {
			return errors.New("chat message missing text")
		}
		if m.Name != nil || m.hasPayload() {
			return errors.New("chat message has unexpected fields")
		}
	case messageTypeOffer:
		if m.Name != nil || m.Text != nil || m.Answer != nil || m.Candidate != nil {
			return errors.New("offer message has unexpected fields")
		}
		return validateDescription(m.Offer, webrtc.SDPTypeOffer)
	case messageTypeAnswer:
		if m.Name != nil || m.Text != nil || m.Offer != nil || m.Candidate != nil {
			return errors.New("answer message has unexpected fields")
		}
		return validateDescription(m.Answer, webrtc.SDPTypeAnswer)
	case messageTypeCandidate:
		if m.Name != nil || m.Text != nil || m.Offer != nil || m.Answer != nil {
			return errors.New("candidate message has unexpected fields")
		}
		return validateCandidate(m.Candidate)
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func validateDescription(raw json.RawMessage, want webrtc.SDPType) error {
	if !isJSONObject(raw) {
		return fmt.Errorf("%s must be an object", want)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%s has sdp type %q", want, desc.Type)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%s missing sdp", want)
	}
	return nil
}

func validateCandidate(raw json.RawMessage) error {
	if !isJSONObject(raw) {
		return errors.New("candidate must be an object")
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return nil
}

// signal converts a relayable frame into the payload handed to the
// matchmaker. The raw JSON is passed through untouched.
func (m clientMessage) signal() pairing.Signal {
	sig := pairing.Signal{Kind: pairing.EventType(m.Type)}
	switch m.Type {
	case messageTypeChat:
		sig.Text = *m.Text
	case messageTypeOffer:
		sig.Payload = m.Offer
	case messageTypeAnswer:
		sig.Payload = m.Answer
	case messageTypeCandidate:
		sig.Payload = m.Candidate
	}
	return sig
}

// serverMessage is a frame sent to a browser.
type serverMessage struct {
	Type messageType `json:"type"`

	Initiator *bool  `json:"initiator,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Sender string  `json:"sender,omitempty"`
	Text   *string `json:"text,omitempty"`

	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func serverMessageFromEvent(ev pairing.Event) serverMessage {
	msg := serverMessage{Type: messageType(ev.Type)}
	switch ev.Type {
	case pairing.EventMatched:
		msg.Initiator = ptr(ev.Initiator)
	case pairing.EventPartnerLeft:
		msg.Reason = string(ev.Reason)
	case pairing.EventChatMessage:
		msg.Sender = ev.Sender
		msg.Text = ptr(ev.Text)
	case pairing.EventSessionOffer:
		msg.From = string(ev.From)
		msg.Offer = ev.Payload
	case pairing.EventSessionAnswer:
		msg.From = string(ev.From)
		msg.Answer = ev.Payload
	case pairing.EventICECandidate:
		msg.From = string(ev.From)
		msg.Candidate = ev.Payload
	}
	return msg
}

func errorMessage(code, message string) serverMessage {
	return serverMessage{Type: messageTypeError, Code: code, Message: message}
}

func ptr[T any](v T) *T { return &v }
