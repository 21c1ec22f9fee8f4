package session

import (
	"log/slog"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/protocol"
)

// ShouldHandleMessage is the first phase of incoming routing and may run
// on any goroutine. A reply to the outstanding BlockingSend is consumed
// here and false is returned; everything else returns true and should be
// posted to the worker for HandleMessage.
func (m *Manager) ShouldHandleMessage(raw []byte) bool {
	seqno, ok := protocol.PeekSeqno(raw)
	if !ok {
		return true
	}

	m.slotMu.Lock()
	slot := m.slot
	if slot == nil || slot.seqno != seqno {
		m.slotMu.Unlock()
		return true
	}
	m.slot = nil
	m.slotMu.Unlock()

	if m.recorder != nil {
		m.recorder.Record(DirectionIn, slot.token, raw)
	}
	slot.deliver(raw)
	return false
}

// HandleMessage parses and dispatches an incoming envelope. Malformed and
// unknown messages are logged and dropped.
func (m *Manager) HandleMessage(raw []byte) {
	if m.recorder != nil {
		m.recorder.Record(DirectionIn, m.token, raw)
	}

	msg, err := protocol.Parse(raw)
	if err != nil {
		slog.Error("dropping incoming message", "token", m.token, "error", err)
		return
	}

	switch v := msg.(type) {
	case protocol.Build:
		m.HandleBuild(v)
	case protocol.Response:
		m.handleResponse(v)
	case protocol.Update:
		m.handleUpdate(v)
	case protocol.UpdateMedia:
		m.handleUpdateMedia(v)
	case protocol.UpdateGraphic:
		m.handleUpdateGraphic(v)
	case protocol.EnsureLayout:
		m.handleEnsureLayout(v)
	case protocol.ScrollToRectInComponent:
		m.handleScrollToRect(v)
	case protocol.HandleKeyboard:
		m.handleKeyboard(v)
	case protocol.UpdateCursorPosition:
		m.handleCursor(v)
	}
}

// component looks up a component for a view-host message, reporting the
// missing root or component.
func (m *Manager) component(op, id string) (core.Component, bool) {
	if m.root == nil {
		m.stateError(op)
		return nil, false
	}
	c, ok := m.root.FindComponentByID(id)
	if !ok {
		slog.Warn("component not found", "op", op, "id", id, "token", m.token)
		return nil, false
	}
	return c, true
}

// handleUpdate forwards a component update. Scroll position is the only
// field in view-host pixels.
func (m *Manager) handleUpdate(u protocol.Update) {
	c, ok := m.component("update", u.ID)
	if !ok {
		return
	}
	value := u.Value
	if u.Type == core.UpdateScrollPosition {
		value = m.adapter.ToCore(value)
	}
	c.Update(u.Type, value)
}

func (m *Manager) handleUpdateMedia(u protocol.UpdateMedia) {
	c, ok := m.component("updateMedia", u.ID)
	if !ok {
		return
	}
	c.UpdateMediaState(u.State, u.FromEvent)
}

func (m *Manager) handleUpdateGraphic(u protocol.UpdateGraphic) {
	c, ok := m.component("updateGraphic", u.ID)
	if !ok {
		return
	}
	if !c.UpdateGraphic(u.AVG) {
		slog.Warn("graphic update rejected", "id", u.ID)
	}
}

// handleEnsureLayout lays out a component and echoes its id so the view
// host knows the layout is current.
func (m *Manager) handleEnsureLayout(e protocol.EnsureLayout) {
	c, ok := m.component("ensureLayout", e.ID)
	if !ok {
		return
	}
	c.EnsureLayout()
	m.send(protocol.New(protocol.TypeEnsureLayout).SetPayload(map[string]any{"id": e.ID}))
}

func (m *Manager) handleScrollToRect(s protocol.ScrollToRectInComponent) {
	c, ok := m.component("scrollToRectInComponent", s.ID)
	if !ok {
		return
	}
	m.root.ScrollToRectInComponent(c, core.Rect{
		X:      m.adapter.ToCore(s.Rect.X),
		Y:      m.adapter.ToCore(s.Rect.Y),
		Width:  m.adapter.ToCore(s.Rect.Width),
		Height: m.adapter.ToCore(s.Rect.Height),
	}, s.Align)
}

func (m *Manager) handleKeyboard(k protocol.HandleKeyboard) {
	if m.root == nil {
		m.stateError("handleKeyboard")
		return
	}
	if !m.root.HandleKeyboard(k.Type, k.Keyboard) {
		slog.Debug("key not consumed", "code", k.Keyboard.Code)
	}
}

func (m *Manager) handleCursor(u protocol.UpdateCursorPosition) {
	if m.root == nil {
		m.stateError("updateCursorPosition")
		return
	}
	m.root.UpdateCursorPosition(core.Point{
		X: m.adapter.ToCore(u.Point.X),
		Y: m.adapter.ToCore(u.Point.Y),
	})
}
