package session

import (
	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/protocol"
)

// OnUpdateTick advances the live document by one frame. It is a no-op
// until a document is inflated.
//
// Order matters: time is updated and pending work flushed before events
// are drained, every queued event is processed before dirty state is
// collected, and screen lock is reconciled last so it reflects the state
// after all of the tick's events.
func (m *Manager) OnUpdateTick() {
	if m.state != StateInflated || m.root == nil {
		return
	}
	root := m.root

	now := m.clock.Now()
	root.UpdateTime(now.Sub(m.startTime), now.UTC())
	root.SetLocalTimeAdjustment(m.host.TimezoneOffset())
	root.ClearPending()

	for root.HasEvent() {
		m.processEvent(root.PopEvent())
		if m.root != root {
			// An event replaced the document; the rest of this tick
			// belongs to the old root.
			return
		}
	}

	if root.IsDirty() {
		m.sendDirty(root)
	}

	m.reconcileScreenLock(root)
}

// sendDirty serializes every dirty component. An inserted child carries
// its full subtree under "component", since the view host cannot build it
// from a property diff.
func (m *Manager) sendDirty(root core.RootContext) {
	dirty := root.Dirty()
	out := make([]any, 0, len(dirty))
	for _, c := range dirty {
		props := c.SerializeDirty()
		if changes, ok := props[core.PropertyNotifyChildrenChanged].([]any); ok {
			props[core.PropertyNotifyChildrenChanged] = m.expandInserts(root, changes)
		}
		out = append(out, props)
	}
	root.ClearDirty()
	m.send(protocol.New(protocol.TypeDirty).SetPayload(out))
}

func (m *Manager) expandInserts(root core.RootContext, changes []any) []any {
	out := make([]any, 0, len(changes))
	for _, ch := range changes {
		change, ok := ch.(map[string]any)
		if !ok || change["action"] != "insert" {
			out = append(out, ch)
			continue
		}
		expanded := make(map[string]any, len(change)+1)
		for k, v := range change {
			expanded[k] = v
		}
		if uid, ok := change["uid"].(string); ok {
			if child, found := root.FindComponentByID(uid); found {
				expanded["component"] = child.Serialize()
			}
		}
		out = append(out, expanded)
	}
	return out
}

// reconcileScreenLock broadcasts the engine's screen-lock state when it
// differs from the last broadcast.
func (m *Manager) reconcileScreenLock(root core.RootContext) {
	locked := root.ScreenLock()
	if locked == m.screenLock {
		return
	}
	m.screenLock = locked
	if locked {
		m.host.OnActivityStarted(ActivityScreenLock)
	} else {
		m.host.OnActivityEnded(ActivityScreenLock)
	}
	m.send(protocol.New(protocol.TypeScreenLock).SetPayload(map[string]any{"screenLock": locked}))
}
