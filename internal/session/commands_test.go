package session

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/core/memcore"
	"github.com/roach88/aplbridge/internal/extension"
	"github.com/roach88/aplbridge/internal/protocol"
)

func inflated(t *testing.T, f *fixture, dpi float64) {
	t.Helper()
	f.load(t, basicDoc, "t1", "")
	f.build(dpi)
	require.Equal(t, StateInflated, f.m.State())
	f.host.Clear()
}

func eventToken(t *testing.T, f *fixture) uint64 {
	t.Helper()
	events := f.host.MessagesOfType(protocol.TypeEvent)
	require.NotEmpty(t, events)
	var p struct {
		Token uint64 `json:"token"`
	}
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &p))
	return p.Token
}

func response(token uint64, extra string) []byte {
	return []byte(fmt.Sprintf(`{"type":"response","payload":{"token":%d%s}}`, token, extra))
}

func TestExecuteCommands_Completes(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	require.True(t, f.m.ExecuteCommands([]byte(`{"commands":[{"type":"SendEvent","arguments":["a"]}]}`), "cmd-1"))
	assert.Equal(t, 1, f.host.ActiveCount(ActivityCommandExecution))

	f.tick(16 * time.Millisecond)

	sent := f.host.CallbacksNamed("sendEvent")
	require.Len(t, sent, 1)
	assert.Equal(t, []any{"a"}, sent[0].Payload[core.PropertyArgument])

	done := f.host.CallbacksNamed("commandExecutionComplete")
	require.Len(t, done, 1)
	assert.Equal(t, "cmd-1", done[0].Token)
	assert.True(t, done[0].OK)
	assert.Equal(t, 0, f.host.ActiveCount(ActivityCommandExecution))
}

func TestExecuteCommands_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed", `{"commands":`},
		{"missing commands", `{}`},
		{"commands not an array", `{"commands":{"type":"SendEvent"}}`},
		{"unknown command", `{"commands":[{"type":"Teleport"}]}`},
		{"undeclared extension", `{"commands":[{"type":"Nope:Do"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			inflated(t, f, 160)

			assert.False(t, f.m.ExecuteCommands([]byte(tt.payload), "c"))
			done := f.host.CallbacksNamed("commandExecutionComplete")
			require.Len(t, done, 1)
			assert.False(t, done[0].OK)
			assert.Empty(t, f.host.CallbacksNamed("activityStarted"))
		})
	}
}

func TestExecuteCommands_WithoutDocument(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.m.ExecuteCommands([]byte(`{"commands":[]}`), "c"))
	assert.Equal(t, []string{protocol.TypeError}, f.host.MessageTypes())
	require.Len(t, f.host.CallbacksNamed("commandExecutionComplete"), 1)
}

func TestInterrupt_TerminatesOnceAndSendsEventTerminate(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	require.True(t, f.m.ExecuteCommands([]byte(`{"commands":[{"type":"PlayMedia","componentId":"frame"}]}`), "cmd"))
	f.tick(16 * time.Millisecond)
	token := eventToken(t, f)
	assert.Equal(t, 1, f.m.PendingEvents())

	f.m.InterruptCommandSequence()
	f.m.InterruptCommandSequence()

	done := f.host.CallbacksNamed("commandExecutionComplete")
	require.Len(t, done, 1, "exactly one completion")
	assert.False(t, done[0].OK)
	assert.Equal(t, 0, f.host.ActiveCount(ActivityCommandExecution))
	assert.Len(t, f.host.CallbacksNamed("activityEnded"), 1)

	terminate := f.host.MessagesOfType(protocol.TypeEventTerminate)
	require.Len(t, terminate, 1)
	assert.Equal(t, map[string]any{"token": float64(token)}, payloadOf(t, terminate[0]))
	assert.Equal(t, 0, f.m.PendingEvents())
}

func TestReplacement_SuppressesEventTerminate(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	require.True(t, f.m.ExecuteCommands([]byte(`{"commands":[{"type":"SpeakItem","componentId":"frame"}]}`), "cmd"))
	f.tick(16 * time.Millisecond)
	require.Equal(t, 1, f.m.PendingEvents())
	gen := f.m.Generation()

	f.load(t, basicDoc, "t2", "")

	assert.Greater(t, f.m.Generation(), gen)
	assert.Equal(t, 0, f.m.PendingEvents())
	assert.Empty(t, f.host.MessagesOfType(protocol.TypeEventTerminate), "stale events terminate silently")

	done := f.host.CallbacksNamed("commandExecutionComplete")
	require.Len(t, done, 1)
	assert.Equal(t, "cmd", done[0].Token)
	assert.False(t, done[0].OK)
}

func TestResponse_ArgumentPriority(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		check func(t *testing.T, res core.Resolution)
	}{
		{
			name:  "rect converted to core units",
			extra: `,"rectArgument":{"x":20,"y":40,"width":200,"height":100},"argument":7`,
			check: func(t *testing.T, res core.Resolution) {
				require.NotNil(t, res.Rect)
				assert.Equal(t, core.Rect{X: 10, Y: 20, Width: 100, Height: 50}, *res.Rect)
				assert.Nil(t, res.Int)
			},
		},
		{
			name:  "integer argument",
			extra: `,"argument":7`,
			check: func(t *testing.T, res core.Resolution) {
				require.NotNil(t, res.Int)
				assert.Equal(t, 7, *res.Int)
			},
		},
		{
			name: "no argument",
			check: func(t *testing.T, res core.Resolution) {
				assert.Nil(t, res.Rect)
				assert.Nil(t, res.Int)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			inflated(t, f, 320)

			action := core.NewFuture()
			f.root().PushEvent(core.Event{Type: core.EventGeneric, Properties: map[string]any{"type": "ScrollToIndex"}, Action: action})
			f.tick(16 * time.Millisecond)
			token := eventToken(t, f)

			f.m.HandleMessage(response(token, tt.extra))

			res := action.Result()
			assert.Equal(t, core.OutcomeResolved, res.Outcome)
			tt.check(t, res)
			assert.Equal(t, 0, f.m.PendingEvents())
		})
	}
}

func TestResponse_UnknownTokenIgnored(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	f.m.HandleMessage(response(9999, ""))
	assert.Empty(t, f.host.Messages())
}

func TestEvent_WithoutActionNotTracked(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	f.root().PushEvent(core.Event{Type: core.EventGeneric, Properties: map[string]any{"type": "ClearFocus"}})
	f.tick(16 * time.Millisecond)

	require.Len(t, f.host.MessagesOfType(protocol.TypeEvent), 1)
	assert.Equal(t, 0, f.m.PendingEvents())
}

func TestOpenURL(t *testing.T) {
	for _, allowed := range []bool{true, false} {
		t.Run(fmt.Sprint(allowed), func(t *testing.T) {
			f := newFixture(t, nil)
			f.host.OpenURLResult = allowed
			inflated(t, f, 160)

			action := core.NewFuture()
			f.root().PushEvent(core.Event{Type: core.EventOpenURL, Properties: map[string]any{core.PropertySource: "https://example.com"}, Action: action})
			f.tick(16 * time.Millisecond)

			calls := f.host.CallbacksNamed("openURL")
			require.Len(t, calls, 1)
			assert.Equal(t, "https://example.com", calls[0].Value)
			want := core.OutcomeTerminated
			if allowed {
				want = core.OutcomeResolved
			}
			assert.Equal(t, want, action.Result().Outcome)
		})
	}
}

func TestDataSourceFetchRequest(t *testing.T) {
	f := newFixture(t, nil)
	inflated(t, f, 160)

	f.root().PushEvent(core.Event{Type: core.EventDataSourceFetchRequest, Properties: map[string]any{"type": "dynamicIndexList", "listId": "l1"}})
	f.tick(16 * time.Millisecond)

	calls := f.host.CallbacksNamed("dataSourceFetchRequest")
	require.Len(t, calls, 1)
	assert.Equal(t, "dynamicIndexList", calls[0].Value)
	assert.Equal(t, "l1", calls[0].Payload["listId"])
}

func TestDataSourceUpdate(t *testing.T) {
	ds := memcore.NewDataSource()
	f := newFixture(t, memcore.New(memcore.WithDataSource("dynamicIndexList", ds)))
	inflated(t, f, 160)

	assert.True(t, f.m.DataSourceUpdate("dynamicIndexList", `{"listId":"l1","listVersion":1,"items":[1]}`, "t1"))
	assert.Empty(t, f.host.CallbacksNamed("runtimeError"))

	assert.False(t, f.m.DataSourceUpdate("dynamicIndexList", `{"listId":"l1","listVersion":1,"items":[2]}`, "t1"))
	errs := f.host.CallbacksNamed("runtimeError")
	require.Len(t, errs, 1)
	assert.Len(t, errs[0].Payload["errors"], 1)

	assert.False(t, f.m.DataSourceUpdate("unknownType", `{}`, "t1"))
	assert.Len(t, f.host.CallbacksNamed("runtimeError"), 1)
}

func TestDataSourceUpdate_WithoutDocument(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.m.DataSourceUpdate("dynamicIndexList", `{}`, "t1"))
	assert.Equal(t, []string{protocol.TypeError}, f.host.MessageTypes())
}

type recordingExtension struct {
	uri      string
	settings map[string]any
	calls    []string
	params   []map[string]any
	ok       bool
}

func (e *recordingExtension) URI() string                    { return e.uri }
func (e *recordingExtension) ApplySettings(s map[string]any) { e.settings = s }
func (e *recordingExtension) LiveData() map[string]any       { return map[string]any{"counter": 3} }

func (e *recordingExtension) OnExtensionEvent(uri, name string, source, params map[string]any, eventID uint64, result extension.ResultFunc) {
	e.calls = append(e.calls, name)
	e.params = append(e.params, params)
	result(eventID, e.ok)
}

const extensionDoc = `{
  "type": "APL",
  "version": "1.4",
  "extensions": [{"name": "Rec", "uri": "aplext:recording:10"}],
  "settings": {"Rec": {"mode": "fast"}},
  "mainTemplate": {"items": {"type": "Frame", "id": "frame"}}
}`

func TestExtensionEvent_RoutedThroughRegistry(t *testing.T) {
	for _, ok := range []bool{true, false} {
		t.Run(fmt.Sprint(ok), func(t *testing.T) {
			ext := &recordingExtension{uri: "aplext:recording:10", ok: ok}
			reg := extension.NewRegistry()
			reg.Register(ext)

			f := newFixture(t, nil, WithExtensions(reg))
			f.load(t, extensionDoc, "t1", "")
			f.build(160)
			require.Equal(t, StateInflated, f.m.State())
			assert.Equal(t, map[string]any{"mode": "fast"}, ext.settings)
			live, found := f.root().LiveData("counter")
			require.True(t, found)
			assert.Equal(t, 3, live)

			require.True(t, f.m.ExecuteCommands([]byte(`{"commands":[{"type":"Rec:Ping","value":1}]}`), "cmd"))
			f.tick(16 * time.Millisecond)
			assert.Equal(t, []string{"Ping"}, ext.calls)
			assert.Equal(t, map[string]any{"value": 1.0}, ext.params[0])

			f.tick(16 * time.Millisecond)
			done := f.host.CallbacksNamed("commandExecutionComplete")
			require.Len(t, done, 1)
			assert.Equal(t, ok, done[0].OK)
		})
	}
}

func TestExtensionEvent_LiveDataPostedToWorker(t *testing.T) {
	ext := &liveExtension{recordingExtension: recordingExtension{uri: "aplext:recording:10"}}
	reg := extension.NewRegistry()
	reg.Register(ext)

	f := newFixture(t, nil, WithExtensions(reg))
	f.load(t, extensionDoc, "t1", "")
	f.build(160)

	ext.sink("counter", 4)
	v, _ := f.root().LiveData("counter")
	assert.Equal(t, 3, v, "not applied until the worker runs")

	f.m.Worker().Drain()
	v, _ = f.root().LiveData("counter")
	assert.Equal(t, 4, v)
}

type liveExtension struct {
	recordingExtension
	sink extension.LiveDataSink
}

func (e *liveExtension) SetLiveDataSink(sink extension.LiveDataSink) { e.sink = sink }
