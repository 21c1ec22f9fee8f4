package core

// EventType distinguishes engine events the bridge handles itself from
// generic ones forwarded to the view host.
type EventType int

const (
	// EventGeneric is any event the view host executes (media, speech,
	// focus, scrolling). Forwarded as an "event" envelope.
	EventGeneric EventType = iota
	// EventFinish asks the host to close the document.
	EventFinish
	// EventSendEvent carries a user event for the skill/host.
	EventSendEvent
	// EventDataSourceFetchRequest asks the host for more data-source items.
	EventDataSourceFetchRequest
	// EventExtension is a document-issued extension command.
	EventExtension
	// EventOpenURL asks the host to open a URL.
	EventOpenURL
)

// Event property keys used by the typed event kinds.
const (
	PropertyName     = "name"
	PropertyType     = "type"
	PropertyURI      = "uri"
	PropertySource   = "source"
	PropertyParams   = "params"
	PropertyValue    = "value"
	PropertyArgument = "arguments"
)

// Event is one entry popped from the engine's event queue.
//
// Action is nil when the engine does not wait on the event; otherwise it is
// settled by whoever handles the event.
type Event struct {
	Type       EventType
	Properties map[string]any
	Action     *Future
}

// String returns a property as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Properties[key].(string)
	return s
}

// Serialize returns the view-host representation of the event.
func (e Event) Serialize() map[string]any {
	out := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		out[k] = v
	}
	return out
}

// HasPendingAction reports whether someone must settle the event's action.
func (e Event) HasPendingAction() bool {
	return e.Action != nil && e.Action.Pending()
}
