package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/aplbridge/internal/binding"
	"github.com/roach88/aplbridge/internal/core/memcore"
	"github.com/roach88/aplbridge/internal/journal"
	"github.com/roach88/aplbridge/internal/protocol"
	"github.com/roach88/aplbridge/internal/session"
	"github.com/roach88/aplbridge/internal/testutil"
)

// measureTimeout bounds unanswered measure requests inside a scenario.
const measureTimeout = 20 * time.Millisecond

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	binding  *binding.Binding
	host     *traceHost
	clock    *testutil.ManualClock
	journal  *journal.Journal
}

// Run executes a scenario and evaluates its assertions.
//
// Each scenario gets a fresh in-memory journal and its own binding and
// worker. An error means the scenario could not be run; failed assertions
// are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	h := &Harness{
		scenario: scenario,
		host:     &traceHost{},
		clock:    testutil.NewManualClock(time.Time{}),
		journal:  j,
	}

	cfg := binding.DefaultConfig()
	cfg.Session.BlockingSendTimeout = measureTimeout
	h.binding = binding.New(h.host, memcore.New(), packageDownloader(scenario.Packages), cfg,
		binding.WithTokenGenerator(testutil.NewSequentialTokenGenerator("doc")),
		binding.WithSessionOptions(
			session.WithClock(h.clock),
			session.WithRecorder(j.Recorder(scenario.Name)),
		),
	)
	if scenario.Measure != nil {
		h.host.responder = h.answerMeasure
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.binding.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := h.barrier(ctx); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result := NewResult()
	result.Trace = h.host.events()
	err = h.binding.Inspect(ctx, func(m *session.Manager) {
		result.State = FinalState{
			State:     m.State().String(),
			Token:     m.Token(),
			Backstack: h.binding.Backstack().IDs(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}

	actx := &AssertionContext{Journal: j, Session: scenario.Name, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// barrier waits for loads in flight and for everything they queued.
// Restores are queued from inside tasks, so the worker is synced twice.
func (h *Harness) barrier(ctx context.Context) error {
	h.binding.Wait()
	for i := 0; i < 2; i++ {
		if err := h.binding.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	b := h.binding
	switch {
	case step.Render != nil:
		b.Render(ctx, binding.RenderRequest{
			Token:              step.Render.Token,
			Document:           h.scenario.Documents[step.Render.Document],
			Data:               step.Render.Data,
			SupportedViewports: []byte(step.Render.SupportedViewports),
		})
	case step.Build:
		vp := h.scenario.Viewport
		return h.deliver(map[string]any{
			"type": "build",
			"payload": map[string]any{
				"width":  vp.Width,
				"height": vp.Height,
				"dpi":    vp.DPI,
				"mode":   vp.Mode,
				"shape":  vp.Shape,
			},
		})
	case step.Message != nil:
		return h.deliver(step.Message)
	case step.Commands != nil:
		payload, err := json.Marshal(map[string]any{"commands": step.Commands})
		if err != nil {
			return fmt.Errorf("encode commands: %w", err)
		}
		b.ExecuteCommands(payload, "commands")
	case step.Tick > 0:
		h.clock.Advance(time.Duration(step.Tick) * time.Millisecond)
		b.Tick()
	case step.Interrupt:
		b.InterruptCommandSequence()
	case step.Back:
		if _, err := b.HandleBack(ctx); err != nil {
			return err
		}
	case step.Clear:
		b.Clear()
	case step.DataSource != nil:
		b.DataSourceUpdate(step.DataSource.Type, step.DataSource.Payload, "datasource")
	default:
		return errors.New("empty step")
	}
	return nil
}

func (h *Harness) deliver(msg map[string]any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	h.binding.OnMessage(raw)
	return nil
}

// answerMeasure plays the view host's side of the measurement exchange.
// The reply arrives on another goroutine, as it would from a transport.
func (h *Harness) answerMeasure(msgType string, seqno uint64) {
	m := h.scenario.Measure
	var payload any
	switch msgType {
	case protocol.TypeMeasure:
		payload = map[string]float64{"width": m.Width, "height": m.Height}
	case protocol.TypeBaseline:
		payload = m.Baseline
	default:
		return
	}
	raw, err := protocol.New("reply").SetPayload(payload).SetSequenceNumber(seqno).Marshal()
	if err != nil {
		return
	}
	go h.binding.OnMessage(raw)
}

// packageDownloader serves scenario packages by URL.
type packageDownloader map[string]string

func (d packageDownloader) DownloadResource(_ context.Context, url string) (string, error) {
	body, ok := d[url]
	if !ok {
		return "", fmt.Errorf("no package at %s", url)
	}
	return body, nil
}

// traceHost is the session host of a scenario. It records messages and
// callbacks in one ordered trace.
type traceHost struct {
	mu        sync.Mutex
	trace     []TraceEvent
	responder func(msgType string, seqno uint64)
}

var _ session.Host = (*traceHost)(nil)

func (h *traceHost) add(e TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.Seq = len(h.trace) + 1
	h.trace = append(h.trace, e)
}

func (h *traceHost) events() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent{}, h.trace...)
}

func (h *traceHost) callback(name, token string, ok *bool, detail string, payload map[string]any) {
	e := TraceEvent{Kind: KindCallback, Type: name, Token: token, OK: ok, Detail: detail}
	if payload != nil {
		e.Payload = payload
	}
	h.add(e)
}

func (h *traceHost) SendMessage(token string, msg []byte) {
	var env struct {
		Type    string `json:"type"`
		Seqno   uint64 `json:"seqno"`
		Payload any    `json:"payload"`
	}
	_ = json.Unmarshal(msg, &env)
	h.add(TraceEvent{Kind: KindSend, Type: env.Type, Token: token, Seqno: env.Seqno, Payload: env.Payload})

	if h.responder != nil {
		h.responder(env.Type, env.Seqno)
	}
}

func boolPtr(b bool) *bool { return &b }

func (h *traceHost) ResetViewhost(token string) {
	h.callback("resetViewhost", token, nil, "", nil)
}

func (h *traceHost) OnRenderDocumentComplete(token string, ok bool, reason string) {
	h.callback("renderDocumentComplete", token, boolPtr(ok), reason, nil)
}

func (h *traceHost) OnCommandExecutionComplete(token string, ok bool) {
	h.callback("commandExecutionComplete", token, boolPtr(ok), "", nil)
}

func (h *traceHost) OnActivityStarted(name string) {
	h.callback("activityStarted", "", nil, name, nil)
}

func (h *traceHost) OnActivityEnded(name string) {
	h.callback("activityEnded", "", nil, name, nil)
}

func (h *traceHost) OnSetDocumentIdleTimeout(token string, timeout time.Duration) {
	h.callback("setDocumentIdleTimeout", token, nil, timeout.String(), nil)
}

func (h *traceHost) OnSendEvent(token string, payload map[string]any) {
	h.callback("sendEvent", token, nil, "", payload)
}

func (h *traceHost) OnFinish(token string) {
	h.callback("finish", token, nil, "", nil)
}

func (h *traceHost) OnDataSourceFetchRequest(token string, sourceType string, payload map[string]any) {
	h.callback("dataSourceFetchRequest", token, nil, sourceType, payload)
}

func (h *traceHost) OnRuntimeErrorEvent(token string, payload map[string]any) {
	h.callback("runtimeError", token, nil, "", payload)
}

func (h *traceHost) OnOpenURL(token string, url string) bool {
	h.callback("openURL", token, boolPtr(false), url, nil)
	return false
}

func (h *traceHost) TimezoneOffset() time.Duration {
	return 0
}
