package backstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/session"
)

type restoreRecorder struct {
	restored []*session.DocumentState
}

func (r *restoreRecorder) RestoreDocumentState(s *session.DocumentState) {
	r.restored = append(r.restored, s)
}

// push stages and adds one state per id, oldest first.
func push(b *Backstack, ids ...string) []*session.DocumentState {
	var states []*session.DocumentState
	for _, id := range ids {
		s := &session.DocumentState{Token: "token-" + id}
		b.SetActiveDocumentID(id)
		b.AddDocumentStateToBackstack(s)
		states = append(states, s)
	}
	return states
}

func TestShouldCacheActiveDocument(t *testing.T) {
	b := New(true)
	assert.False(t, b.ShouldCacheActiveDocument())

	b.SetActiveDocumentID("home")
	assert.True(t, b.ShouldCacheActiveDocument())

	b.AddDocumentStateToBackstack(&session.DocumentState{})
	assert.False(t, b.ShouldCacheActiveDocument(), "staged id is single use")

	b.SetActiveDocumentID("next")
	b.Reset()
	assert.False(t, b.ShouldCacheActiveDocument())
	assert.Equal(t, 0, b.Len())
}

func TestAddAssignsStagedID(t *testing.T) {
	b := New(true)
	states := push(b, "A", "B")

	assert.Equal(t, "A", states[0].ID)
	assert.Equal(t, "B", states[1].ID)
	assert.Equal(t, []string{"A", "B"}, b.IDs())
}

func TestApplyConfigurationChange(t *testing.T) {
	b := New(true)
	states := push(b, "A", "B")
	states[0].PendingChange = core.ConfigurationChange{Theme: "light"}

	b.ApplyConfigurationChange(core.ConfigurationChange{Width: 1280, Height: 800})
	b.ApplyConfigurationChange(core.ConfigurationChange{Height: 720, Mode: "tv"})

	assert.Equal(t, core.ConfigurationChange{Width: 1280, Height: 720, Theme: "light", Mode: "tv"}, states[0].PendingChange)
	assert.Equal(t, core.ConfigurationChange{Width: 1280, Height: 720, Mode: "tv"}, states[1].PendingChange)

	b.Reset()
	b.ApplyConfigurationChange(core.ConfigurationChange{Width: 1})
	assert.Equal(t, 0, b.Len())
}

func TestPopDocumentsToID_MostRecentMatch(t *testing.T) {
	b := New(true)
	states := push(b, "A", "B", "B", "C")

	got := b.PopDocumentsToID("B")
	assert.Same(t, states[2], got)
	assert.Equal(t, []string{"A", "B"}, b.IDs())
	assert.Equal(t, 2, b.Len())

	assert.Nil(t, b.PopDocumentsToID("Z"))
	assert.Equal(t, 2, b.Len())
}

func TestPopDocuments_ByCount(t *testing.T) {
	b := New(true)
	states := push(b, "A", "B", "C")

	got := b.PopDocuments(2)
	assert.Same(t, states[1], got)
	assert.Equal(t, []string{"A"}, b.IDs())

	assert.Nil(t, b.PopDocuments(0))
	assert.Nil(t, b.PopDocuments(2))
	assert.Nil(t, b.PopDocuments(-1))
	assert.Equal(t, 1, b.Len())
}

func TestPopDocumentsAtIndex(t *testing.T) {
	for _, index := range []int{0, -3} {
		b := New(true)
		states := push(b, "A", "B", "C")

		got := b.PopDocumentsAtIndex(index)
		assert.Same(t, states[0], got, "index %d", index)
		assert.Equal(t, 0, b.Len())
		assert.Empty(t, b.IDs())
	}

	b := New(true)
	states := push(b, "A", "B", "C")
	assert.Same(t, states[2], b.PopDocumentsAtIndex(-1))
	assert.Nil(t, b.PopDocumentsAtIndex(5))
	assert.Nil(t, b.PopDocumentsAtIndex(-5))
	assert.Equal(t, []string{"A", "B"}, b.IDs())
}

func TestPopClearsStagedID(t *testing.T) {
	b := New(true)
	push(b, "A", "B")
	b.SetActiveDocumentID("current")

	require.NotNil(t, b.PopDocuments(1))
	assert.False(t, b.ShouldCacheActiveDocument())
}

func TestClearKeepsStagedID(t *testing.T) {
	b := New(true)
	push(b, "A")
	b.SetActiveDocumentID("current")

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.True(t, b.ShouldCacheActiveDocument())
}

func TestHandleBack(t *testing.T) {
	b := New(true)
	obs := &restoreRecorder{}
	b.SetObserver(obs)
	states := push(b, "A", "B")

	assert.True(t, b.HandleBack())
	require.Len(t, obs.restored, 1)
	assert.Same(t, states[1], obs.restored[0])

	assert.True(t, b.HandleBack())
	assert.False(t, b.HandleBack(), "empty history")
	assert.Len(t, obs.restored, 2)
}

func TestHandleBack_DocumentResponsible(t *testing.T) {
	b := New(false)
	obs := &restoreRecorder{}
	b.SetObserver(obs)
	push(b, "A")

	assert.False(t, b.HandleBack())
	assert.Empty(t, obs.restored)
	assert.Equal(t, 1, b.Len())
}

func TestParseBackType(t *testing.T) {
	assert.Equal(t, BackCount, ParseBackType("count"))
	assert.Equal(t, BackIndex, ParseBackType("index"))
	assert.Equal(t, BackID, ParseBackType("ID"))
	assert.Equal(t, BackCount, ParseBackType("sideways"))
	assert.Equal(t, BackCount, ParseBackType(""))
}

func TestOnExtensionEvent(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		params   map[string]any
		wantOK   bool
		wantID   string
		wantLeft []string
	}{
		{"go back default count", CommandGoBack, map[string]any{}, true, "C", []string{"A", "B"}},
		{"go back by count", CommandGoBack, map[string]any{"backType": "count", "backValue": 2.0}, true, "B", []string{"A"}},
		{"go back by index", CommandGoBack, map[string]any{"backType": "index", "backValue": 1.0}, true, "B", []string{"A"}},
		{"go back by id", CommandGoBack, map[string]any{"backType": "id", "backValue": "A"}, true, "A", []string{}},
		{"unknown type is count", CommandGoBack, map[string]any{"backType": "sideways", "backValue": 1.0}, true, "C", []string{"A", "B"}},
		{"missing id", CommandGoBack, map[string]any{"backType": "id", "backValue": "Z"}, false, "", []string{"A", "B", "C"}},
		{"fractional count", CommandGoBack, map[string]any{"backValue": 1.5}, false, "", []string{"A", "B", "C"}},
		{"clear", CommandClear, nil, true, "", []string{}},
		{"unknown command", "Forward", nil, false, "", []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(true)
			obs := &restoreRecorder{}
			b.SetObserver(obs)
			push(b, "A", "B", "C")

			var gotID uint64
			var gotOK bool
			calls := 0
			b.OnExtensionEvent(URI, tt.command, nil, tt.params, 42, func(id uint64, ok bool) {
				calls++
				gotID, gotOK = id, ok
			})

			assert.Equal(t, 1, calls)
			assert.Equal(t, uint64(42), gotID)
			assert.Equal(t, tt.wantOK, gotOK)
			assert.Equal(t, tt.wantLeft, b.IDs())
			if tt.wantID != "" {
				require.Len(t, obs.restored, 1)
				assert.Equal(t, tt.wantID, obs.restored[0].ID)
			} else {
				assert.Empty(t, obs.restored)
			}
		})
	}
}

func TestOnExtensionEvent_WithoutObserver(t *testing.T) {
	b := New(true)
	push(b, "A")

	ok := true
	b.OnExtensionEvent(URI, CommandClear, nil, nil, 1, func(_ uint64, r bool) { ok = r })
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())
}

func TestLiveDataPublished(t *testing.T) {
	b := New(true)
	var published [][]string
	b.SetLiveDataSink(func(name string, value any) {
		assert.Equal(t, LiveDataName, name)
		published = append(published, value.([]string))
	})

	push(b, "A", "B")
	b.PopDocuments(1)
	b.PopDocumentsToID("missing")
	b.Reset()

	assert.Equal(t, [][]string{{"A"}, {"A", "B"}, {"A"}, {}}, published)
	assert.Equal(t, map[string]any{LiveDataName: []string{}}, b.LiveData())
}

func TestApplySettings(t *testing.T) {
	b := New(true)
	b.ApplySettings(map[string]any{"backstackId": "home"})
	assert.True(t, b.ShouldCacheActiveDocument())

	b.ApplySettings(nil)
	assert.False(t, b.ShouldCacheActiveDocument())
}
