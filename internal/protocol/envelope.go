// Package protocol defines the JSON envelope exchanged with the view host.
//
// Every message on the wire has the shape
//
//	{"type": "<tag>", "seqno": <uint>, "payload": <any>}
//
// Outgoing messages get their seqno from the session's single sequence
// counter at send time; the counter is shared by every outgoing message so a
// reply's seqno identifies exactly one prior send. Incoming messages are
// parsed into a closed set of typed payloads (see Incoming) so handlers
// never re-check field presence.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Outgoing message types (bridge → view host).
const (
	TypeRenderingOptions = "renderingOptions"
	TypeScaling          = "scaling"
	TypeDocTheme         = "docTheme"
	TypeBackground       = "background"
	TypeScreenLock       = "screenLock"
	TypeHierarchy        = "hierarchy"
	TypeDirty            = "dirty"
	TypeEvent            = "event"
	TypeEventTerminate   = "eventTerminate"
	TypeError            = "error"
	TypeEnsureLayout     = "ensureLayout"
	TypeMeasure          = "measure"
	TypeBaseline         = "baseline"
)

// Message is an envelope under construction or in flight.
//
// A zero Seqno means "not yet assigned"; the session's counter starts at 1.
type Message struct {
	Type    string `json:"type"`
	Seqno   uint64 `json:"seqno,omitempty"`
	Payload any    `json:"payload"`
}

// New allocates a message with an empty object payload and no seqno.
func New(msgType string) *Message {
	return &Message{
		Type:    msgType,
		Payload: map[string]any{},
	}
}

// SetPayload attaches a JSON-serializable payload.
func (m *Message) SetPayload(v any) *Message {
	m.Payload = v
	return m
}

// SetSequenceNumber assigns the outgoing id. The sender calls it exactly
// once per message with a value above every earlier one in the session.
func (m *Message) SetSequenceNumber(n uint64) *Message {
	m.Seqno = n
	return m
}

// Marshal encodes the envelope. Only the type tag is validated.
func (m *Message) Marshal() ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	return json.Marshal(m)
}

// String renders the message for logs, falling back to the type tag.
func (m *Message) String() string {
	b, err := m.Marshal()
	if err != nil {
		return m.Type
	}
	return string(b)
}

// PeekSeqno extracts the seqno of a raw envelope without decoding the
// payload. ok is false when the envelope is malformed or has no seqno.
func PeekSeqno(raw []byte) (seqno uint64, ok bool) {
	var head struct {
		Seqno *uint64 `json:"seqno"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Seqno == nil {
		return 0, false
	}
	return *head.Seqno, true
}

// Reply is the decoded envelope of a blocking-send reply.
type Reply struct {
	Type    string          `json:"type"`
	Seqno   uint64          `json:"seqno"`
	Payload json.RawMessage `json:"payload"`
}

// ParseReply decodes a reply envelope; the payload must be present.
func ParseReply(raw []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &ParseError{Code: ErrCodeMalformed, Message: err.Error()}
	}
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil, &ParseError{Code: ErrCodeMissingField, Type: r.Type, Message: "reply has no payload"}
	}
	return &r, nil
}
