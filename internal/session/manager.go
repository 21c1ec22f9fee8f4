// Package session implements the document connection state machine.
//
// A Manager owns one rendering surface: the content being shown, the live
// root context, the scaling transform and the table of engine events that
// wait on the view host. It moves through three states:
//
//	Empty --SetContent--> Loading --HandleBuild--> Inflated
//	  ^                      |                        |
//	  +------ Reset / build failure / replacement -----+
//
// # Execution context
//
// The engine is not safe for concurrent use, so every Manager method
// except ShouldHandleMessage must run on the session Worker. The Worker is
// a single goroutine draining a task queue; the host binding posts every
// entry point onto it.
//
// ShouldHandleMessage runs on the transport's receive goroutine. It is the
// only place a BlockingSend reply is consumed, which is what lets a
// measurement callback block the worker without deadlocking.
//
// # Generations
//
// Every replacement or reset bumps a generation counter. Deferred
// callbacks (event terminations) capture the generation they were created
// in and do nothing once it is stale. Command completions capture the
// presentation token instead, so they still report to the host after the
// root context that produced them is gone.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/extension"
	"github.com/roach88/aplbridge/internal/metrics"
	"github.com/roach88/aplbridge/internal/protocol"
)

// Default tuning values.
const (
	DefaultBlockingSendTimeout = 2 * time.Second
	DefaultBiasConstant        = 10.0
)

// Config tunes a Manager.
type Config struct {
	BlockingSendTimeout time.Duration
	BiasConstant        float64
	ShapeOverridesCost  bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		BlockingSendTimeout: DefaultBlockingSendTimeout,
		BiasConstant:        DefaultBiasConstant,
		ShapeOverridesCost:  true,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the engine time source.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithExtensions attaches an extension registry.
func WithExtensions(r *extension.Registry) ManagerOption {
	return func(m *Manager) {
		m.extensions = r
	}
}

// WithDocumentCache attaches the history that captures replaced documents.
func WithDocumentCache(c DocumentCache) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithRecorder attaches an envelope recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithWorker runs the manager on an existing worker.
func WithWorker(w *Worker) ManagerOption {
	return func(m *Manager) {
		m.worker = w
	}
}

// Manager is the document session state machine.
type Manager struct {
	host       Host
	engine     core.Engine
	cfg        Config
	clock      Clock
	worker     *Worker
	extensions *extension.Registry
	cache      DocumentCache
	recorder   Recorder

	seq    seqClock
	sendMu sync.Mutex // held across seqno assignment and delivery

	blockMu sync.Mutex // one BlockingSend at a time
	slotMu  sync.Mutex
	slot    *rendezvous

	generation atomic.Uint64

	// Worker-owned.
	state      State
	token      string
	content    core.Content
	specs      []metrics.ViewportSpec
	surface    metrics.Metrics // last surface the view host built on
	root       core.RootContext
	adapter    *metrics.Adapter
	startTime  time.Time
	aplVersion string
	screenLock bool
	pending    map[uint64]*core.Future
}

// New creates a manager in the Empty state.
func New(host Host, engine core.Engine, cfg Config, opts ...ManagerOption) *Manager {
	if cfg.BlockingSendTimeout <= 0 {
		cfg.BlockingSendTimeout = DefaultBlockingSendTimeout
	}
	m := &Manager{
		host:    host,
		engine:  engine,
		cfg:     cfg,
		clock:   SystemClock{},
		pending: make(map[uint64]*core.Future),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.worker == nil {
		m.worker = NewWorker()
	}
	if m.extensions != nil {
		m.extensions.SetLiveDataSink(func(name string, value any) {
			m.worker.Post(func() {
				if m.root != nil {
					m.root.UpdateLiveData(name, value)
				}
			})
		})
	}
	return m
}

// Worker returns the manager's execution context.
func (m *Manager) Worker() *Worker {
	return m.worker
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// Token returns the presentation token of the current document.
func (m *Manager) Token() string {
	return m.token
}

// Root returns the live root context, or nil.
func (m *Manager) Root() core.RootContext {
	return m.root
}

// Adapter returns the active scaling transform, or nil before inflation.
func (m *Manager) Adapter() *metrics.Adapter {
	return m.adapter
}

// ScreenLocked returns the last broadcast screen-lock state.
func (m *Manager) ScreenLocked() bool {
	return m.screenLock
}

// PendingEvents counts engine events waiting on the view host.
func (m *Manager) PendingEvents() int {
	return len(m.pending)
}

// Generation returns the current document generation.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// SetContent stages resolved content for the next build. A live document
// is replaced: it is captured into the document cache if the cache asks
// for it, its command sequences are cancelled and its pending events are
// invalidated. The host is told to reset the view host for token.
func (m *Manager) SetContent(content core.Content, token string, supportedViewports []byte) {
	specs, err := metrics.ParseViewportSpecs(supportedViewports)
	if err != nil {
		slog.Warn("ignoring invalid supported viewports", "token", token, "error", err)
		specs = nil
	}

	if m.root != nil && m.cache != nil && m.cache.ShouldCacheActiveDocument() {
		slog.Debug("caching active document", "token", m.token)
		m.cache.AddDocumentStateToBackstack(m.captureState())
	}
	m.discard()

	m.content = content
	m.token = token
	m.specs = specs
	m.aplVersion = content.APLVersion()
	m.state = StateLoading
	slog.Info("content set", "token", token, "version", m.aplVersion, "viewports", len(specs))

	m.host.ResetViewhost(token)
}

// Reset returns to Empty, discarding content and root context. The host is
// not notified.
func (m *Manager) Reset() {
	m.discard()
	m.content = nil
	m.specs = nil
	m.aplVersion = ""
	m.token = ""
	m.state = StateEmpty
}

// discard invalidates the live document. The generation moves first so
// callbacks fired by the cancellation see themselves as stale.
func (m *Manager) discard() {
	m.generation.Add(1)
	if m.root != nil {
		m.root.CancelExecution()
	}
	m.root = nil
	m.adapter = nil
	m.pending = make(map[uint64]*core.Future)
	m.releaseScreenLock()
}

func (m *Manager) releaseScreenLock() {
	if m.screenLock {
		m.screenLock = false
		m.host.OnActivityEnded(ActivityScreenLock)
	}
}

func (m *Manager) captureState() *DocumentState {
	return &DocumentState{
		Token:      m.token,
		Content:    m.content,
		Root:       m.root,
		Adapter:    m.adapter,
		Specs:      m.specs,
		StartTime:  m.startTime,
		APLVersion: m.aplVersion,
	}
}

// RestoreDocumentState makes a captured document live again without
// re-inflating it. The active document is discarded, not cached. A pending
// surface change renegotiates scaling against the document's viewports
// and resizes the root before anything is sent.
func (m *Manager) RestoreDocumentState(state *DocumentState) {
	if state == nil || state.Root == nil {
		slog.Warn("restore of empty document state ignored")
		return
	}
	m.discard()

	m.content = state.Content
	m.token = state.Token
	m.specs = state.Specs
	m.root = state.Root
	m.adapter = state.Adapter
	m.startTime = state.StartTime
	m.aplVersion = state.APLVersion
	m.state = StateInflated

	if change := state.PendingChange; !change.IsEmpty() {
		if m.adapter != nil && (change.Width > 0 || change.Height > 0 || change.Mode != "") {
			surface := m.adapter.Metrics()
			if change.Width > 0 {
				surface.Width = change.Width
			}
			if change.Height > 0 {
				surface.Height = change.Height
			}
			if change.Mode != "" {
				surface.Mode = change.Mode
			}
			m.adapter, _ = m.negotiate(surface, m.specs)
			cm := m.adapter.CoreMetrics()
			change.Width = cm.Width
			change.Height = cm.Height
		}
		m.root.ConfigurationChange(change)
		state.PendingChange = core.ConfigurationChange{}
	}

	slog.Info("document restored", "token", m.token, "id", state.ID)
	m.host.ResetViewhost(m.token)
	m.sendRenderingOptions()
	m.sendScaling(m.adapter)
	m.sendDocumentInfo()
	m.host.OnRenderDocumentComplete(m.token, true, m.chosenViewport())
}

// send assigns the next sequence number and delivers msg.
func (m *Manager) send(msg *protocol.Message) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.deliverLocked(msg.SetSequenceNumber(m.seq.Next()))
}

func (m *Manager) deliverLocked(msg *protocol.Message) {
	raw, err := msg.Marshal()
	if err != nil {
		slog.Error("dropping unserializable message", "type", msg.Type, "error", err)
		return
	}
	if m.recorder != nil {
		m.recorder.Record(DirectionOut, m.token, raw)
	}
	m.host.SendMessage(m.token, raw)
}

func (m *Manager) sendError(message string) {
	m.send(protocol.New(protocol.TypeError).SetPayload(map[string]any{"message": message}))
}

// stateError logs an operation attempted without a root context and tells
// the view host.
func (m *Manager) stateError(op string) error {
	err := &StateError{Op: op, State: m.state}
	slog.Error("operation requires an inflated document", "op", op, "state", m.state.String(), "token", m.token)
	m.sendError(err.Error())
	return err
}
