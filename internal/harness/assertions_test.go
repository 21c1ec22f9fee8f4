package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPtr(b bool) *bool { return &b }

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Kind: KindCallback, Type: "resetViewhost", Token: "t"},
		{Seq: 2, Kind: KindSend, Type: "scaling", Seqno: 1, Payload: map[string]any{"scaleFactor": 1.0, "viewportWidth": 1024.0}},
		{Seq: 3, Kind: KindSend, Type: "hierarchy", Seqno: 2, Payload: map[string]any{"type": "Frame", "children": []any{}}},
		{Seq: 4, Kind: KindCallback, Type: "renderDocumentComplete", Token: "t", OK: okPtr(true)},
	}
}

func TestAssertMessageContains(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertMessageContains(trace, Assertion{Message: "scaling", Payload: map[string]any{"viewportWidth": 1024}}))
	assert.NoError(t, assertMessageContains(trace, Assertion{Message: "hierarchy"}))

	err := assertMessageContains(trace, Assertion{Message: "scaling", Payload: map[string]any{"viewportWidth": 900}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertMessageOrder(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertMessageOrder(trace, Assertion{Messages: []string{"scaling", "hierarchy"}}))

	err := assertMessageOrder(trace, Assertion{Messages: []string{"hierarchy", "scaling"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertMessageOrder(trace, Assertion{Messages: []string{"scaling", "dirty"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing message: dirty")
}

func TestAssertMessageCount(t *testing.T) {
	one, zero := 1, 0
	trace := sampleTrace()
	assert.NoError(t, assertMessageCount(trace, Assertion{Message: "hierarchy", Count: &one}))
	assert.NoError(t, assertMessageCount(trace, Assertion{Message: "dirty", Count: &zero}))
	assert.Error(t, assertMessageCount(trace, Assertion{Message: "scaling", Count: &zero}))
}

func TestAssertCallback(t *testing.T) {
	trace := sampleTrace()
	zero := 0
	assert.NoError(t, assertCallback(trace, Assertion{Name: "renderDocumentComplete", OK: okPtr(true)}))
	assert.Error(t, assertCallback(trace, Assertion{Name: "renderDocumentComplete", OK: okPtr(false)}))
	assert.NoError(t, assertCallback(trace, Assertion{Name: "finish", Count: &zero}))
	assert.Error(t, assertCallback(trace, Assertion{Name: "resetViewhost", Count: &zero}))
	assert.Error(t, assertCallback(trace, Assertion{Name: "scaling"}), "messages are not callbacks")
}

func TestAssertFinalState(t *testing.T) {
	state := FinalState{State: "Inflated", Token: "home", Backstack: []string{"a"}}
	assert.NoError(t, assertFinalState(state, Assertion{Expect: map[string]any{"state": "Inflated", "backstack": []any{"a"}}}))
	assert.Error(t, assertFinalState(state, Assertion{Expect: map[string]any{"token": "other"}}))
	assert.Error(t, assertFinalState(state, Assertion{Expect: map[string]any{"color": "red"}}))
}

func TestMatchPayload(t *testing.T) {
	actual := map[string]any{"a": 1.0, "nested": map[string]any{"b": "x", "c": true}}
	assert.True(t, matchPayload(actual, nil))
	assert.True(t, matchPayload(actual, map[string]any{"a": 1}))
	assert.True(t, matchPayload(actual, map[string]any{"nested": map[string]any{"b": "x"}}))
	assert.False(t, matchPayload(actual, map[string]any{"nested": map[string]any{"b": "y"}}))
	assert.False(t, matchPayload([]any{1.0}, map[string]any{"a": 1}))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}
