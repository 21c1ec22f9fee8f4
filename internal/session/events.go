package session

import (
	"log/slog"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/protocol"
)

// processEvent handles one engine event. Events the host owns are
// delivered as callbacks; extension commands go to the registry; every
// other event is forwarded to the view host and, if the engine waits on
// it, tracked until the view host responds.
func (m *Manager) processEvent(ev core.Event) {
	token := m.token
	switch ev.Type {
	case core.EventFinish:
		m.host.OnFinish(token)
		resolve(ev.Action)

	case core.EventSendEvent:
		m.host.OnSendEvent(token, ev.Serialize())
		resolve(ev.Action)

	case core.EventDataSourceFetchRequest:
		m.host.OnDataSourceFetchRequest(token, ev.String(core.PropertyType), ev.Serialize())
		resolve(ev.Action)

	case core.EventOpenURL:
		url := ev.String(core.PropertySource)
		if m.host.OnOpenURL(token, url) {
			resolve(ev.Action)
		} else if ev.Action != nil {
			ev.Action.Terminate()
		}

	case core.EventExtension:
		m.processExtensionEvent(ev)

	default:
		m.forwardEvent(ev)
	}
}

func resolve(f *core.Future) {
	if f != nil {
		f.Resolve()
	}
}

func (m *Manager) processExtensionEvent(ev core.Event) {
	if m.extensions == nil {
		slog.Warn("extension event without a registry", "uri", ev.String(core.PropertyURI))
		if ev.Action != nil {
			ev.Action.Terminate()
		}
		return
	}

	source, _ := ev.Properties[core.PropertySource].(map[string]any)
	params, _ := ev.Properties[core.PropertyParams].(map[string]any)
	id := m.seq.Next()
	action := ev.Action
	gen := m.generation.Load()

	m.extensions.OnExtensionEvent(ev.String(core.PropertyURI), ev.String(core.PropertyName), source, params, id,
		func(eventID uint64, ok bool) {
			if action == nil || m.generation.Load() != gen {
				return
			}
			if ok {
				action.Resolve()
			} else {
				action.Terminate()
			}
		})
}

// forwardEvent sends an event envelope. The token is drawn from the
// outgoing sequence counter and is what the view host echoes back in its
// response.
func (m *Manager) forwardEvent(ev core.Event) {
	token := m.seq.Next()
	payload := ev.Serialize()
	payload["token"] = token

	if ev.HasPendingAction() {
		m.pending[token] = ev.Action
		gen := m.generation.Load()
		ev.Action.Then(
			func(core.Resolution) {
				if m.generation.Load() == gen {
					delete(m.pending, token)
				}
			},
			func() {
				if m.generation.Load() != gen {
					return
				}
				delete(m.pending, token)
				m.send(protocol.New(protocol.TypeEventTerminate).SetPayload(map[string]any{"token": token}))
			})
	}

	m.send(protocol.New(protocol.TypeEvent).SetPayload(payload))
}

// handleResponse settles a pending event. The argument is a rectangle
// (converted to core units), an integer, or nothing, in that priority.
func (m *Manager) handleResponse(r protocol.Response) {
	if m.root == nil {
		m.stateError("response")
		return
	}
	action, ok := m.pending[r.Token]
	if !ok {
		slog.Warn("response for unknown event", "token", r.Token)
		return
	}
	delete(m.pending, r.Token)

	switch {
	case r.Rect != nil:
		action.ResolveRect(core.Rect{
			X:      m.adapter.ToCore(r.Rect.X),
			Y:      m.adapter.ToCore(r.Rect.Y),
			Width:  m.adapter.ToCore(r.Rect.Width),
			Height: m.adapter.ToCore(r.Rect.Height),
		})
	case r.Argument != nil:
		action.ResolveInt(*r.Argument)
	default:
		action.Resolve()
	}
}
