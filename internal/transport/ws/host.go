// Package ws carries the bridge over HTTP: the view host connects on a
// websocket, the embedding application drives the binding through small
// JSON endpoints.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/aplbridge/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
	maxEvents      = 512
)

// Event is a host lifecycle callback, kept for GET /events.
type Event struct {
	Seq     int            `json:"seq"`
	Name    string         `json:"name"`
	Token   string         `json:"token,omitempty"`
	OK      *bool          `json:"ok,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// HostOptions configures a Host.
type HostOptions struct {
	// AllowOpenURL answers OpenURL commands.
	AllowOpenURL bool
	// Location supplies the timezone offset. Nil means time.Local.
	Location *time.Location
}

// Host is a session.Host whose view host is a websocket peer. At most one
// view host is attached; a new connection replaces the old one.
type Host struct {
	opts HostOptions

	mu     sync.Mutex
	viewer *viewer

	eventsMu sync.Mutex
	events   []Event
	nextSeq  int
}

var _ session.Host = (*Host)(nil)

// NewHost creates a host with no view host attached.
func NewHost(opts HostOptions) *Host {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Host{opts: opts}
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// attach makes conn the view host and starts its write pump.
func (h *Host) attach(conn *websocket.Conn) *viewer {
	v := &viewer{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	old := h.viewer
	h.viewer = v
	h.mu.Unlock()
	if old != nil {
		slog.Info("view host replaced")
		old.close()
	}
	go h.writePump(v)
	return v
}

func (h *Host) detach(v *viewer) {
	h.mu.Lock()
	if h.viewer == v {
		h.viewer = nil
	}
	h.mu.Unlock()
	v.close()
}

// Attached reports whether a view host is connected.
func (h *Host) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewer != nil
}

func (h *Host) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.close()
		v.conn.Close()
	}()

	for {
		select {
		case data := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Error("view host write failed", "error", err)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-v.done:
			v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// SendMessage queues an envelope for the view host. With no view host, or
// a view host too slow to drain its buffer, the message is dropped.
func (h *Host) SendMessage(token string, msg []byte) {
	h.mu.Lock()
	v := h.viewer
	h.mu.Unlock()
	if v == nil {
		slog.Debug("no view host, dropping message", "token", token)
		return
	}
	select {
	case v.send <- msg:
	case <-v.done:
	default:
		slog.Warn("view host send buffer full, dropping message", "token", token)
	}
}

func (h *Host) record(e Event) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	h.nextSeq++
	e.Seq = h.nextSeq
	h.events = append(h.events, e)
	if len(h.events) > maxEvents {
		h.events = append([]Event(nil), h.events[len(h.events)-maxEvents:]...)
	}
}

// Events returns the retained callbacks with Seq above since.
func (h *Host) Events(since int) []Event {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	out := []Event{}
	for _, e := range h.events {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func (h *Host) ResetViewhost(token string) {
	slog.Info("reset view host", "token", token)
	h.record(Event{Name: "resetViewhost", Token: token})
}

func (h *Host) OnRenderDocumentComplete(token string, ok bool, reason string) {
	slog.Info("render complete", "token", token, "ok", ok, "reason", reason)
	h.record(Event{Name: "renderDocumentComplete", Token: token, OK: boolPtr(ok), Detail: reason})
}

func (h *Host) OnCommandExecutionComplete(token string, ok bool) {
	slog.Debug("command execution complete", "token", token, "ok", ok)
	h.record(Event{Name: "commandExecutionComplete", Token: token, OK: boolPtr(ok)})
}

func (h *Host) OnActivityStarted(name string) {
	h.record(Event{Name: "activityStarted", Detail: name})
}

func (h *Host) OnActivityEnded(name string) {
	h.record(Event{Name: "activityEnded", Detail: name})
}

func (h *Host) OnSetDocumentIdleTimeout(token string, timeout time.Duration) {
	h.record(Event{Name: "setDocumentIdleTimeout", Token: token, Detail: timeout.String()})
}

func (h *Host) OnSendEvent(token string, payload map[string]any) {
	h.record(Event{Name: "sendEvent", Token: token, Payload: payload})
}

func (h *Host) OnFinish(token string) {
	slog.Info("document finished", "token", token)
	h.record(Event{Name: "finish", Token: token})
}

func (h *Host) OnDataSourceFetchRequest(token string, sourceType string, payload map[string]any) {
	h.record(Event{Name: "dataSourceFetchRequest", Token: token, Detail: sourceType, Payload: payload})
}

func (h *Host) OnRuntimeErrorEvent(token string, payload map[string]any) {
	slog.Warn("runtime error", "token", token)
	h.record(Event{Name: "runtimeError", Token: token, Payload: payload})
}

func (h *Host) OnOpenURL(token string, url string) bool {
	h.record(Event{Name: "openURL", Token: token, OK: boolPtr(h.opts.AllowOpenURL), Detail: url})
	return h.opts.AllowOpenURL
}

func (h *Host) TimezoneOffset() time.Duration {
	_, offset := time.Now().In(h.opts.Location).Zone()
	return time.Duration(offset) * time.Second
}
