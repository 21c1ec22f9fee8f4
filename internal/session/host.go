package session

import "time"

// Activity names reported through OnActivityStarted/OnActivityEnded.
const (
	ActivityCommandExecution = "COMMAND_EXECUTION"
	ActivityScreenLock       = "SCREEN_LOCK"
)

// Host is the surrounding application: it owns the transport to the view
// host and receives lifecycle callbacks. Callbacks are invoked on the
// session worker and must not block on it.
type Host interface {
	// SendMessage delivers a serialized envelope to the view host.
	SendMessage(token string, msg []byte)

	// ResetViewhost tells the view host a new document is coming.
	ResetViewhost(token string)

	// OnRenderDocumentComplete reports the outcome of a render. On failure
	// reason says why; on success it names the negotiated viewport, or is
	// empty when the surface was used unscaled.
	OnRenderDocumentComplete(token string, ok bool, reason string)
	OnCommandExecutionComplete(token string, ok bool)

	OnActivityStarted(name string)
	OnActivityEnded(name string)

	OnSetDocumentIdleTimeout(token string, timeout time.Duration)

	OnSendEvent(token string, payload map[string]any)
	OnFinish(token string)
	OnDataSourceFetchRequest(token string, sourceType string, payload map[string]any)
	OnRuntimeErrorEvent(token string, payload map[string]any)

	// OnOpenURL asks the host to open url; false fails the command.
	OnOpenURL(token string, url string) bool

	// TimezoneOffset is the local offset from UTC applied to engine time.
	TimezoneOffset() time.Duration
}

// Direction of a recorded envelope.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Recorder observes every envelope crossing the session boundary.
type Recorder interface {
	Record(direction string, token string, raw []byte)
}
