package session

import (
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/protocol"
)

// Fallbacks used when the view host does not answer a measurement.
const (
	fallbackMeasureSize = 10.0
	// nanSentinel replaces an unconstrained dimension on the wire.
	nanSentinel = math.MaxInt32
)

// rendezvous is the single slot a BlockingSend waits on. The channel is
// buffered so a reply can land before the sender starts waiting.
type rendezvous struct {
	seqno uint64
	token string
	reply chan []byte
}

func (r *rendezvous) deliver(raw []byte) {
	select {
	case r.reply <- raw:
	default:
	}
}

// BlockingSend sends msg and waits up to timeout for the view host's
// reply, which ShouldHandleMessage matches by sequence number. Only one
// BlockingSend is outstanding at a time. A timeout or malformed reply
// returns nil; a timeout is expected when the document is torn down under
// a caller, so it is only logged at debug level.
func (m *Manager) BlockingSend(msg *protocol.Message, timeout time.Duration) *protocol.Reply {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()

	slot := &rendezvous{reply: make(chan []byte, 1)}

	m.sendMu.Lock()
	slot.seqno = m.seq.Next()
	slot.token = m.token
	m.slotMu.Lock()
	m.slot = slot
	m.slotMu.Unlock()
	m.deliverLocked(msg.SetSequenceNumber(slot.seqno))
	m.sendMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw := <-slot.reply:
		reply, err := protocol.ParseReply(raw)
		if err != nil {
			slog.Warn("malformed blocking reply", "type", msg.Type, "seqno", slot.seqno, "error", err)
			return nil
		}
		return reply
	case <-timer.C:
		m.slotMu.Lock()
		if m.slot == slot {
			m.slot = nil
		}
		m.slotMu.Unlock()
		slog.Debug("blocking send timed out", "type", msg.Type, "seqno", slot.seqno, "timeout", timeout)
		return nil
	}
}

// toWire converts a core dimension for a measurement request, substituting
// the sentinel for an unconstrained (NaN) value.
func (m *Manager) toWire(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nanSentinel
	}
	return m.adapter.ToViewhost(v)
}

// Measure implements core.TextMeasure by asking the view host. Without an
// answer the component gets a small fixed size.
func (m *Manager) Measure(c core.Component, width float64, widthMode core.MeasureMode, height float64, heightMode core.MeasureMode) core.Size {
	msg := protocol.New(protocol.TypeMeasure).SetPayload(map[string]any{
		"component":  c.Serialize(),
		"width":      m.toWire(width),
		"widthMode":  int(widthMode),
		"height":     m.toWire(height),
		"heightMode": int(heightMode),
	})

	reply := m.BlockingSend(msg, m.cfg.BlockingSendTimeout)
	fallback := core.Size{Width: fallbackMeasureSize, Height: fallbackMeasureSize}
	if reply == nil {
		return fallback
	}
	var size core.Size
	if err := json.Unmarshal(reply.Payload, &size); err != nil {
		slog.Warn("malformed measure reply", "seqno", reply.Seqno, "error", err)
		return fallback
	}
	return core.Size{Width: m.adapter.ToCore(size.Width), Height: m.adapter.ToCore(size.Height)}
}

// Baseline implements core.TextMeasure. Without an answer the baseline is
// the bottom of the component.
func (m *Manager) Baseline(c core.Component, width, height float64) float64 {
	msg := protocol.New(protocol.TypeBaseline).SetPayload(map[string]any{
		"id":     c.UniqueID(),
		"width":  m.toWire(width),
		"height": m.toWire(height),
	})

	reply := m.BlockingSend(msg, m.cfg.BlockingSendTimeout)
	if reply == nil {
		return height
	}
	var baseline float64
	if err := json.Unmarshal(reply.Payload, &baseline); err != nil {
		slog.Warn("malformed baseline reply", "seqno", reply.Seqno, "error", err)
		return height
	}
	return m.adapter.ToCore(baseline)
}
