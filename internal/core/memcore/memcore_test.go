package memcore

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/metrics"
)

const helloDoc = `{
  "type": "APL",
  "version": "1.4",
  "theme": "light",
  "background": "#112233",
  "settings": {"idleTimeout": 30000},
  "mainTemplate": {
    "parameters": ["payload"],
    "items": [{
      "type": "Container",
      "id": "root",
      "items": [
        {"type": "Text", "id": "title", "text": "Hello ${payload.name}"},
        {"type": "TouchWrapper", "id": "button", "onPress": [{"type": "SendEvent", "arguments": ["pressed"]}]}
      ]
    }]
  }
}`

type fakeMeasure struct {
	calls int
}

func (f *fakeMeasure) Measure(c core.Component, w float64, wm core.MeasureMode, h float64, hm core.MeasureMode) core.Size {
	f.calls++
	return core.Size{Width: 100, Height: 20}
}

func (f *fakeMeasure) Baseline(c core.Component, w, h float64) float64 {
	return 16
}

func inflate(t *testing.T, doc string, cfg core.RootConfig, opts ...Option) (*Engine, *Root) {
	t.Helper()
	e := New(opts...)
	content, err := e.CreateContent(doc)
	require.NoError(t, err)
	for _, p := range content.Parameters() {
		content.AddData(p, `{"name":"world"}`)
	}
	require.True(t, content.IsReady())

	rc, err := e.CreateRoot(metrics.CoreMetrics{Width: 1024, Height: 600, DPI: 160}, content, cfg)
	require.NoError(t, err)
	return e, rc.(*Root)
}

func TestContent_ParametersAndReadiness(t *testing.T) {
	c, err := newContent(helloDoc)
	require.NoError(t, err)

	assert.Equal(t, "1.4", c.APLVersion())
	assert.Equal(t, []string{"payload"}, c.Parameters())
	assert.False(t, c.IsReady(), "unbound parameter")

	c.AddData("payload", `{}`)
	assert.True(t, c.IsReady())
	assert.False(t, c.IsWaiting())
}

func TestContent_InvalidData(t *testing.T) {
	c, err := newContent(helloDoc)
	require.NoError(t, err)

	c.AddData("payload", `{oops`)
	assert.True(t, c.IsError())
	assert.False(t, c.IsReady())
}

func TestContent_Rejects(t *testing.T) {
	_, err := newContent(`not json`)
	assert.Error(t, err)

	_, err = newContent(`{"type":"Other","mainTemplate":{}}`)
	assert.Error(t, err)

	_, err = newContent(`{"type":"APL"}`)
	assert.Error(t, err)
}

func TestContent_Imports(t *testing.T) {
	doc := `{"type":"APL","version":"1.4",
		"import":[{"name":"a","version":"1.0"},{"name":"b","version":"2.0","source":"https://x/b.json"}],
		"mainTemplate":{"items":{"type":"Frame"}}}`
	c, err := newContent(doc)
	require.NoError(t, err)

	reqs := c.RequestedPackages()
	require.Len(t, reqs, 2)
	assert.Equal(t, "a", reqs[0].Name)
	assert.Equal(t, "https://x/b.json", reqs[1].Source)
	assert.True(t, c.IsWaiting())

	c.AddPackage(reqs[0], `{"type":"APL","import":[{"name":"c","version":"3.0"}],"layouts":{"Card":{"items":{"type":"Frame"}}}}`)
	reqs = c.RequestedPackages()
	require.Len(t, reqs, 2)
	assert.Equal(t, "b", reqs[0].Name)
	assert.Equal(t, "c", reqs[1].Name, "transitive import is requested")

	c.AddPackage(reqs[0], `{}`)
	c.AddPackage(reqs[1], `{}`)
	assert.False(t, c.IsWaiting())
	assert.True(t, c.IsReady())
}

func TestContent_MalformedPackage(t *testing.T) {
	c, err := newContent(`{"type":"APL","import":[{"name":"a","version":"1.0"}],"mainTemplate":{"items":{"type":"Frame"}}}`)
	require.NoError(t, err)

	c.AddPackage(c.RequestedPackages()[0], `{broken`)
	assert.True(t, c.IsError())
	assert.False(t, c.IsWaiting())
}

func TestContent_Extensions(t *testing.T) {
	doc := `{"type":"APL","mainTemplate":{"items":{"type":"Frame"}},
		"extensions":[{"name":"Back","uri":"aplext:backstack:10"}],
		"settings":{"Back":{"backstackId":"home"}}}`
	c, err := newContent(doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"aplext:backstack:10"}, c.ExtensionURIs())
	assert.Equal(t, map[string]any{"backstackId": "home"}, c.ExtensionSettings("aplext:backstack:10"))
	assert.Nil(t, c.ExtensionSettings("aplext:other"))
}

func TestRoot_InflateAndSerialize(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	assert.Equal(t, "light", r.Theme())
	assert.Equal(t, core.Background{Color: "#112233"}, r.Background())
	d, ok := r.IdleTimeout()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	top := r.Top().Serialize()
	assert.Equal(t, "Container", top["type"])
	assert.Equal(t, "root", top["__id"])
	children := top["children"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, "Hello world", children[0].(map[string]any)["text"])

	title, ok := r.FindComponentByID("title")
	require.True(t, ok)
	byUID, ok := r.FindComponentByID(title.UniqueID())
	require.True(t, ok)
	assert.Same(t, title, byUID)
}

func TestRoot_MeasuresText(t *testing.T) {
	m := &fakeMeasure{}
	_, r := inflate(t, helloDoc, core.RootConfig{Measure: m})

	assert.Equal(t, 1, m.calls)
	title, _ := r.FindComponentByID("title")
	size, baseline, ok := title.(*Component).Measured()
	require.True(t, ok)
	assert.Equal(t, core.Size{Width: 100, Height: 20}, size)
	assert.Equal(t, 16.0, baseline)
}

func TestRoot_DataSequence(t *testing.T) {
	doc := `{"type":"APL","mainTemplate":{"parameters":["payload"],"items":{
		"type":"Sequence","id":"list","data":"${payload.rows}",
		"items":{"type":"Text","text":"${index}:${data}"}}}}`
	e := New()
	content, err := e.CreateContent(doc)
	require.NoError(t, err)
	content.AddData("payload", `{"rows":["a","b"]}`)

	rc, err := e.CreateRoot(metrics.CoreMetrics{Width: 10, Height: 10}, content, core.RootConfig{})
	require.NoError(t, err)

	list, _ := rc.FindComponentByID("list")
	second, ok := list.ChildAt(1)
	require.True(t, ok)
	assert.Equal(t, "1:b", second.Serialize()["text"])
	_, ok = list.ChildAt(2)
	assert.False(t, ok)
}

func TestRoot_Layouts(t *testing.T) {
	doc := `{"type":"APL","layouts":{"Label":{"parameters":[{"name":"label","default":"none"}],
		"items":{"type":"Text","text":"${label}"}}},
		"mainTemplate":{"items":{"type":"Container","items":[{"type":"Label","id":"l1","label":"hi"},{"type":"Label"}]}}}`
	_, r := inflate(t, doc, core.RootConfig{})

	l1, ok := r.FindComponentByID("l1")
	require.True(t, ok)
	assert.Equal(t, "hi", l1.Serialize()["text"])

	second, _ := r.Top().ChildAt(1)
	assert.Equal(t, "none", second.Serialize()["text"])
}

func TestEngine_InflateFilter(t *testing.T) {
	e := New(WithInflateFilter(func(m metrics.CoreMetrics) error {
		if m.Width > 500 {
			return errors.New("too wide")
		}
		return nil
	}))
	content, err := e.CreateContent(`{"type":"APL","mainTemplate":{"items":{"type":"Frame"}}}`)
	require.NoError(t, err)

	_, err = e.CreateRoot(metrics.CoreMetrics{Width: 600, Height: 100}, content, core.RootConfig{})
	assert.Error(t, err)
	rc, err := e.CreateRoot(metrics.CoreMetrics{Width: 400, Height: 100}, content, core.RootConfig{})
	require.NoError(t, err)
	assert.Same(t, rc, e.LastRoot())
	assert.Len(t, e.Roots(), 1)
}

func TestRoot_Dirty(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})
	assert.False(t, r.IsDirty())

	require.True(t, r.SetProperty("title", "text", "Bye"))
	require.True(t, r.SetProperty("title", "color", "red"))
	require.True(t, r.SetProperty("root", "opacity", 0.5))
	assert.True(t, r.IsDirty())

	dirty := r.Dirty()
	require.Len(t, dirty, 2)
	title, _ := r.FindComponentByID("title")
	assert.Equal(t, map[string]any{"id": title.UniqueID(), "text": "Bye", "color": "red"}, dirty[0].SerializeDirty())

	r.ClearDirty()
	assert.False(t, r.IsDirty())
}

func TestRoot_InsertChild(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	require.True(t, r.InsertChild("root", 0, map[string]any{"type": "Image", "id": "img"}))
	img, ok := r.FindComponentByID("img")
	require.True(t, ok)

	dirty := r.Dirty()
	require.Len(t, dirty, 1)
	changes := dirty[0].SerializeDirty()[core.PropertyNotifyChildrenChanged].([]any)
	assert.Equal(t, []any{map[string]any{"uid": img.UniqueID(), "index": 0, "action": "insert"}}, changes)

	first, _ := r.Top().ChildAt(0)
	assert.Same(t, img, first)

	assert.False(t, r.InsertChild("missing", 0, map[string]any{"type": "Image"}))
}

func TestRoot_Events(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})
	assert.False(t, r.HasEvent())

	button, _ := r.FindComponentByID("button")
	button.Update(core.UpdatePressed, 1)

	require.True(t, r.HasEvent())
	ev := r.PopEvent()
	assert.Equal(t, core.EventSendEvent, ev.Type)
	assert.Equal(t, []any{"pressed"}, ev.Properties[core.PropertyArgument])
	assert.False(t, r.HasEvent())
	assert.Equal(t, core.Event{}, r.PopEvent())
}

func TestRoot_ExecuteCommands_Rejections(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	assert.Nil(t, r.ExecuteCommands(json.RawMessage(`nope`), false))
	assert.Nil(t, r.ExecuteCommands(json.RawMessage(`[{"type":"Teleport"}]`), false))
	assert.Nil(t, r.ExecuteCommands(json.RawMessage(`[{"type":"Unknown:Cmd"}]`), false))
	assert.Nil(t, r.ExecuteCommands(json.RawMessage(`[{"type":"SetValue"},{"value":1}]`), false))
	assert.Equal(t, 0, r.PendingSequences())
}

func TestRoot_ExecuteCommands_ResolvesAfterActions(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"SpeakItem","componentId":"title"},{"type":"SetValue","componentId":"title","property":"text","value":"x"}]`), false)
	require.NotNil(t, f)

	ev := r.PopEvent()
	assert.Equal(t, core.EventGeneric, ev.Type)
	assert.Equal(t, "SpeakItem", ev.String(core.PropertyType))
	require.True(t, ev.HasPendingAction())
	assert.True(t, r.IsDirty())

	r.ClearPending()
	assert.True(t, f.Pending(), "action still outstanding")

	ev.Action.Resolve()
	r.ClearPending()
	assert.Equal(t, core.OutcomeResolved, f.Result().Outcome)
	assert.Equal(t, 0, r.PendingSequences())
}

func TestRoot_ExecuteCommands_Idle(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"Idle","delay":100,"screenLock":true}]`), false)
	require.NotNil(t, f)
	assert.True(t, r.ScreenLock())

	r.UpdateTime(50*time.Millisecond, time.Time{})
	r.ClearPending()
	assert.True(t, f.Pending())

	r.UpdateTime(100*time.Millisecond, time.Time{})
	r.ClearPending()
	assert.False(t, f.Pending())
	assert.False(t, r.ScreenLock())
}

func TestRoot_ExecuteCommands_FastModeSkipsIdle(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"Idle","delay":100},{"type":"PlayMedia"}]`), true)
	require.NotNil(t, f)
	assert.False(t, r.HasEvent())
	r.ClearPending()
	assert.Equal(t, core.OutcomeResolved, f.Result().Outcome)
}

func TestRoot_CancelExecution(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"OpenURL","source":"https://example.com"}]`), false)
	require.NotNil(t, f)
	ev := r.PopEvent()
	assert.Equal(t, core.EventOpenURL, ev.Type)

	r.CancelExecution()
	assert.Equal(t, core.OutcomeTerminated, f.Result().Outcome)
	assert.Equal(t, core.OutcomeTerminated, ev.Action.Result().Outcome)
	assert.Equal(t, 1, r.Cancellations())
}

func TestRoot_TerminatedActionTerminatesSequence(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"PlayMedia"}]`), false)
	r.PopEvent().Action.Terminate()
	r.ClearPending()
	assert.Equal(t, core.OutcomeTerminated, f.Result().Outcome)
}

func TestRoot_ExtensionCommand(t *testing.T) {
	doc := `{"type":"APL","extensions":[{"name":"Back","uri":"aplext:backstack:10"}],
		"mainTemplate":{"items":{"type":"Frame"}}}`
	_, r := inflate(t, doc, core.RootConfig{})

	f := r.ExecuteCommands(json.RawMessage(`[{"type":"Back:GoBack","backType":"count","backValue":1}]`), false)
	require.NotNil(t, f)

	ev := r.PopEvent()
	assert.Equal(t, core.EventExtension, ev.Type)
	assert.Equal(t, "aplext:backstack:10", ev.String(core.PropertyURI))
	assert.Equal(t, "GoBack", ev.String(core.PropertyName))
	assert.Equal(t, map[string]any{"backType": "count", "backValue": 1.0}, ev.Properties[core.PropertyParams])
}

func TestRoot_HandleKeyboard(t *testing.T) {
	doc := `{"type":"APL","handleKeyDown":[{"code":"Enter","commands":[{"type":"SendEvent","arguments":["enter"]}]}],
		"mainTemplate":{"items":{"type":"Frame"}}}`
	_, r := inflate(t, doc, core.RootConfig{})

	assert.True(t, r.HandleKeyboard(core.KeyDown, core.Keyboard{Code: "Enter"}))
	assert.True(t, r.HasEvent())
	assert.False(t, r.HandleKeyboard(core.KeyDown, core.Keyboard{Code: "Escape"}))
	assert.False(t, r.HandleKeyboard(core.KeyUp, core.Keyboard{Code: "Enter"}))
}

func TestRoot_LiveDataAndConfiguration(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{LiveData: map[string]any{"Stack": []any{}}})

	assert.True(t, r.UpdateLiveData("Stack", []any{"a"}))
	assert.False(t, r.UpdateLiveData("Unknown", 1))
	v, _ := r.LiveData("Stack")
	assert.Equal(t, []any{"a"}, v)

	r.ConfigurationChange(core.ConfigurationChange{Theme: "dark", Width: 800})
	assert.Equal(t, "dark", r.Theme())
	assert.Equal(t, 800.0, r.Metrics().Width)
	assert.Equal(t, 600.0, r.Metrics().Height)
}

func TestRoot_ComponentUpdates(t *testing.T) {
	_, r := inflate(t, helloDoc, core.RootConfig{})
	title, _ := r.FindComponentByID("title")
	c := title.(*Component)

	c.Update(core.UpdateScrollPosition, 42)
	v, _ := c.Property("scrollPosition")
	assert.Equal(t, 42.0, v)

	c.UpdateMediaState(core.MediaState{TrackIndex: 2, Paused: true}, false)
	ms, ok := c.MediaState()
	require.True(t, ok)
	assert.Equal(t, 2, ms.TrackIndex)

	assert.False(t, c.UpdateGraphic(`not json`))
	assert.True(t, c.UpdateGraphic(`{"type":"AVG","version":"1.0"}`))
	assert.True(t, r.IsDirty())

	c.EnsureLayout()
	assert.True(t, c.LaidOut())
}

func TestDataSource(t *testing.T) {
	ds := NewDataSource()

	assert.True(t, ds.ProcessUpdate(`{"listId":"L","listVersion":1,"items":[1,2]}`))
	assert.False(t, ds.ProcessUpdate(`{"listId":"L","listVersion":1,"items":[3]}`))
	assert.False(t, ds.ProcessUpdate(`garbage`))
	assert.Equal(t, []any{1.0, 2.0}, ds.Items("L"))

	errs := ds.PendingErrors()
	assert.Len(t, errs, 2)
	assert.Empty(t, ds.PendingErrors(), "errors are cleared once read")

	e := New(WithDataSource("dynamicIndexList", ds))
	p, ok := e.DataSourceProvider("dynamicIndexList")
	require.True(t, ok)
	assert.Same(t, ds, p)
	assert.Equal(t, []string{"dynamicIndexList"}, e.DataSourceTypes())
}

func TestChooseScaling(t *testing.T) {
	e := New()
	hub := metrics.ViewportSpec{MinWidth: 960, MaxWidth: 1280, MinHeight: 480, MaxHeight: 800, Mode: metrics.ModeHub}
	small := metrics.ViewportSpec{MinWidth: 300, MaxWidth: 400, MinHeight: 300, MaxHeight: 400, Mode: metrics.ModeHub}

	s, ok := e.ChooseScaling(metrics.Metrics{Width: 1024, Height: 600, DPI: 160, Mode: metrics.ModeHub},
		metrics.ScalingOptions{Specs: []metrics.ViewportSpec{small, hub}, BiasConstant: 10})
	require.True(t, ok)
	assert.Equal(t, hub, s.Spec)
	assert.InDelta(t, 1.0, s.ScaleFactor, 1e-9)

	_, ok = e.ChooseScaling(metrics.Metrics{Width: 1024, Height: 600}, metrics.ScalingOptions{})
	assert.False(t, ok)
}
