package testutil

import (
	"encoding/json"
	"sync"
	"time"
)

// SentMessage is one envelope the session delivered to the view host.
type SentMessage struct {
	Token   string          `json:"token"`
	Type    string          `json:"type"`
	Seqno   uint64          `json:"seqno"`
	Payload json.RawMessage `json:"payload"`
	Raw     []byte          `json:"-"`
}

// Callback is one host lifecycle callback.
type Callback struct {
	Name    string         `json:"name"`
	Token   string         `json:"token,omitempty"`
	OK      bool           `json:"ok,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Value   string         `json:"value,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RecordingHost is a session host that records every message and
// callback. It satisfies session.Host.
//
// Responder, if set, runs after each message is recorded, outside the
// lock, on the sending goroutine. Tests use it to play the view host, for
// example by answering measure requests through ShouldHandleMessage.
type RecordingHost struct {
	mu        sync.Mutex
	messages  []SentMessage
	callbacks []Callback
	active    map[string]int

	OpenURLResult bool
	Offset        time.Duration
	Responder     func(SentMessage)
}

// NewRecordingHost creates an empty recording host.
func NewRecordingHost() *RecordingHost {
	return &RecordingHost{active: make(map[string]int)}
}

// SendMessage records an envelope.
func (h *RecordingHost) SendMessage(token string, raw []byte) {
	var env struct {
		Type    string          `json:"type"`
		Seqno   uint64          `json:"seqno"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = json.Unmarshal(raw, &env)
	msg := SentMessage{Token: token, Type: env.Type, Seqno: env.Seqno, Payload: env.Payload, Raw: append([]byte(nil), raw...)}

	h.mu.Lock()
	h.messages = append(h.messages, msg)
	responder := h.Responder
	h.mu.Unlock()

	if responder != nil {
		responder(msg)
	}
}

func (h *RecordingHost) record(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// ResetViewhost records a reset.
func (h *RecordingHost) ResetViewhost(token string) {
	h.record(Callback{Name: "resetViewhost", Token: token})
}

// OnRenderDocumentComplete records render completion.
func (h *RecordingHost) OnRenderDocumentComplete(token string, ok bool, reason string) {
	h.record(Callback{Name: "renderDocumentComplete", Token: token, OK: ok, Reason: reason})
}

// OnCommandExecutionComplete records command completion.
func (h *RecordingHost) OnCommandExecutionComplete(token string, ok bool) {
	h.record(Callback{Name: "commandExecutionComplete", Token: token, OK: ok})
}

// OnActivityStarted records and counts an activity start.
func (h *RecordingHost) OnActivityStarted(name string) {
	h.mu.Lock()
	h.active[name]++
	h.mu.Unlock()
	h.record(Callback{Name: "activityStarted", Value: name})
}

// OnActivityEnded records and counts an activity end.
func (h *RecordingHost) OnActivityEnded(name string) {
	h.mu.Lock()
	h.active[name]--
	h.mu.Unlock()
	h.record(Callback{Name: "activityEnded", Value: name})
}

// OnSetDocumentIdleTimeout records the idle timeout.
func (h *RecordingHost) OnSetDocumentIdleTimeout(token string, timeout time.Duration) {
	h.record(Callback{Name: "setDocumentIdleTimeout", Token: token, Value: timeout.String()})
}

// OnSendEvent records a user event.
func (h *RecordingHost) OnSendEvent(token string, payload map[string]any) {
	h.record(Callback{Name: "sendEvent", Token: token, Payload: payload})
}

// OnFinish records a finish request.
func (h *RecordingHost) OnFinish(token string) {
	h.record(Callback{Name: "finish", Token: token})
}

// OnDataSourceFetchRequest records a fetch request.
func (h *RecordingHost) OnDataSourceFetchRequest(token string, sourceType string, payload map[string]any) {
	h.record(Callback{Name: "dataSourceFetchRequest", Token: token, Value: sourceType, Payload: payload})
}

// OnRuntimeErrorEvent records a runtime error.
func (h *RecordingHost) OnRuntimeErrorEvent(token string, payload map[string]any) {
	h.record(Callback{Name: "runtimeError", Token: token, Payload: payload})
}

// OnOpenURL records the request and returns OpenURLResult.
func (h *RecordingHost) OnOpenURL(token string, url string) bool {
	h.record(Callback{Name: "openURL", Token: token, Value: url})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.OpenURLResult
}

// TimezoneOffset returns Offset.
func (h *RecordingHost) TimezoneOffset() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Offset
}

// SetResponder installs a responder.
func (h *RecordingHost) SetResponder(fn func(SentMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Responder = fn
}

// Messages returns every recorded envelope.
func (h *RecordingHost) Messages() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SentMessage(nil), h.messages...)
}

// MessageTypes returns the type of every recorded envelope, in order.
func (h *RecordingHost) MessageTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, 0, len(h.messages))
	for _, m := range h.messages {
		types = append(types, m.Type)
	}
	return types
}

// MessagesOfType returns envelopes of one type.
func (h *RecordingHost) MessagesOfType(msgType string) []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []SentMessage
	for _, m := range h.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Callbacks returns every recorded callback.
func (h *RecordingHost) Callbacks() []Callback {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Callback(nil), h.callbacks...)
}

// CallbacksNamed returns callbacks with one name.
func (h *RecordingHost) CallbacksNamed(name string) []Callback {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Callback
	for _, cb := range h.callbacks {
		if cb.Name == name {
			out = append(out, cb)
		}
	}
	return out
}

// ActiveCount returns started minus ended for an activity.
func (h *RecordingHost) ActiveCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active[name]
}

// Clear forgets everything recorded so far.
func (h *RecordingHost) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.callbacks = nil
}
