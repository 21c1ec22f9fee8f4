package harness

// Trace event kinds.
const (
	KindSend     = "send"
	KindCallback = "callback"
)

// TraceEvent is one thing the bridge did towards the outside: a message to
// the view host or a callback to the host.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`

	// Type is the message type or the callback name.
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Seqno  uint64 `json:"seqno,omitempty"`
	OK     *bool  `json:"ok,omitempty"`
	Detail string `json:"detail,omitempty"`

	// Payload is the decoded message payload or callback payload.
	Payload any `json:"payload,omitempty"`
}

// FinalState is the session as the last step left it.
type FinalState struct {
	State     string   `json:"state"`
	Token     string   `json:"token"`
	Backstack []string `json:"backstack"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	State  FinalState   `json:"state"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
