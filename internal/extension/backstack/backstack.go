// Package backstack is the navigation-history extension.
//
// A document opts into history by naming itself in its settings:
//
//	"settings": {"Back": {"backstackId": "home"}}
//
// where "Back" is the alias the document declared for URI. The id is staged
// when the document inflates. When that document is later replaced, the
// session asks ShouldCacheActiveDocument and, if true, hands over a
// captured DocumentState which is stored under the staged id.
//
// Navigation pops entries and hands the restored state to an Observer,
// normally the session manager.
package backstack

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/extension"
	"github.com/roach88/aplbridge/internal/session"
)

// URI identifies the extension.
const URI = "aplext:backstack:10"

// LiveDataName is the live data array of ids the document can bind to.
const LiveDataName = "backstack"

// Command names understood by OnExtensionEvent.
const (
	CommandGoBack = "GoBack"
	CommandClear  = "Clear"
)

// BackType selects how GoBack interprets its value.
type BackType int

const (
	BackCount BackType = iota
	BackIndex
	BackID
)

// ParseBackType maps a command's backType. Anything unrecognized is a
// count.
func ParseBackType(s string) BackType {
	switch strings.ToLower(s) {
	case "index":
		return BackIndex
	case "id":
		return BackID
	default:
		return BackCount
	}
}

// Observer receives the state to make live after a navigation.
type Observer interface {
	RestoreDocumentState(state *session.DocumentState)
}

// Backstack is an ordered history of captured documents, oldest first.
//
// Thread-safety: all methods are safe for concurrent use. The observer and
// the live data sink are called after the lock is released.
type Backstack struct {
	mu                 sync.Mutex
	stagedID           string
	states             []*session.DocumentState
	ids                []string
	responsibleForBack bool
	observer           Observer
	sink               extension.LiveDataSink
}

var (
	_ extension.Extension         = (*Backstack)(nil)
	_ extension.LiveDataPublisher = (*Backstack)(nil)
	_ session.DocumentCache       = (*Backstack)(nil)
)

// New creates an empty backstack. responsibleForBack says whether the
// extension answers the system back affordance; when false the document
// handles back itself and HandleBack always fails.
func New(responsibleForBack bool) *Backstack {
	return &Backstack{responsibleForBack: responsibleForBack}
}

// SetObserver installs the restore target.
func (b *Backstack) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// SetLiveDataSink implements extension.LiveDataPublisher.
func (b *Backstack) SetLiveDataSink(sink extension.LiveDataSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// URI implements extension.Extension.
func (b *Backstack) URI() string {
	return URI
}

// ApplySettings implements extension.Extension. The document's backstackId
// becomes the staged id; a document without one is not cached.
func (b *Backstack) ApplySettings(settings map[string]any) {
	id, _ := settings["backstackId"].(string)
	b.SetActiveDocumentID(id)
}

// LiveData implements extension.Extension.
func (b *Backstack) LiveData() map[string]any {
	return map[string]any{LiveDataName: b.IDs()}
}

// SetActiveDocumentID stages the id the next captured document is stored
// under. An empty id disables caching.
func (b *Backstack) SetActiveDocumentID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stagedID = id
}

// ShouldCacheActiveDocument implements session.DocumentCache.
func (b *Backstack) ShouldCacheActiveDocument() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stagedID != ""
}

// AddDocumentStateToBackstack implements session.DocumentCache. The staged
// id is consumed.
func (b *Backstack) AddDocumentStateToBackstack(state *session.DocumentState) {
	b.mu.Lock()
	state.ID = b.stagedID
	b.states = append(b.states, state)
	b.ids = append(b.ids, state.ID)
	b.stagedID = ""
	b.mu.Unlock()

	slog.Debug("document added to backstack", "id", state.ID, "token", state.Token)
	b.publish()
}

// ApplyConfigurationChange implements session.DocumentCache. The change is
// merged into every held state and applied when that state is restored.
func (b *Backstack) ApplyConfigurationChange(change core.ConfigurationChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.states {
		s.PendingChange = s.PendingChange.Merge(change)
	}
}

// Reset clears the staged id and the history.
func (b *Backstack) Reset() {
	b.mu.Lock()
	b.stagedID = ""
	b.states = nil
	b.ids = nil
	b.mu.Unlock()
	b.publish()
}

// Clear empties the history and keeps the staged id.
func (b *Backstack) Clear() {
	b.mu.Lock()
	b.states = nil
	b.ids = nil
	b.mu.Unlock()
	b.publish()
}

// IDs returns the history ids, oldest first.
func (b *Backstack) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.ids...)
}

// Len returns the number of stored documents.
func (b *Backstack) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

// PopDocuments removes the count most recent entries and returns the last
// one removed. It returns nil when count is zero, negative or larger than
// the history.
func (b *Backstack) PopDocuments(count int) *session.DocumentState {
	b.mu.Lock()
	state := b.popLocked(len(b.states) - count)
	b.mu.Unlock()
	return b.popped(state)
}

// PopDocumentsAtIndex removes the entry at index and every entry above it
// and returns the entry at index. A negative index counts from the end, so
// -len is the oldest entry.
func (b *Backstack) PopDocumentsAtIndex(index int) *session.DocumentState {
	b.mu.Lock()
	if index < 0 {
		index += len(b.states)
	}
	state := b.popLocked(index)
	b.mu.Unlock()
	return b.popped(state)
}

// PopDocumentsToID removes the most recent entry with id and every entry
// above it and returns that entry, or nil when no entry has id.
func (b *Backstack) PopDocumentsToID(id string) *session.DocumentState {
	b.mu.Lock()
	index := -1
	for i := len(b.ids) - 1; i >= 0; i-- {
		if b.ids[i] == id {
			index = i
			break
		}
	}
	state := b.popLocked(index)
	b.mu.Unlock()
	return b.popped(state)
}

// popLocked truncates the history at index. Out of range is a no-op. The
// staged id is cleared with the pop so the restored document is not cached
// again unless it re-stages.
func (b *Backstack) popLocked(index int) *session.DocumentState {
	if index < 0 || index >= len(b.states) {
		return nil
	}
	state := b.states[index]
	for i := index; i < len(b.states); i++ {
		b.states[i] = nil
	}
	b.states = b.states[:index]
	b.ids = b.ids[:index]
	b.stagedID = ""
	return state
}

func (b *Backstack) popped(state *session.DocumentState) *session.DocumentState {
	if state != nil {
		b.publish()
	}
	return state
}

// GoBack pops by the given type and restores the result through the
// observer. It reports whether a document was restored.
func (b *Backstack) GoBack(kind BackType, value any) bool {
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer == nil {
		slog.Warn("backstack navigation without an observer")
		return false
	}

	var state *session.DocumentState
	switch kind {
	case BackIndex:
		if n, ok := intValue(value); ok {
			state = b.PopDocumentsAtIndex(n)
		}
	case BackID:
		if id, ok := value.(string); ok {
			state = b.PopDocumentsToID(id)
		}
	default:
		if n, ok := intValue(value); ok {
			state = b.PopDocuments(n)
		}
	}
	if state == nil {
		slog.Debug("backstack navigation found nothing", "type", kind, "value", value)
		return false
	}

	slog.Info("restoring document from backstack", "id", state.ID, "token", state.Token)
	observer.RestoreDocumentState(state)
	return true
}

// HandleBack answers the system back affordance: one step back, unless the
// document is responsible for back.
func (b *Backstack) HandleBack() bool {
	if !b.responsibleForBack {
		return false
	}
	return b.GoBack(BackCount, 1)
}

// OnExtensionEvent implements extension.Extension.
func (b *Backstack) OnExtensionEvent(uri, name string, source, params map[string]any, eventID uint64, result extension.ResultFunc) {
	b.mu.Lock()
	hasObserver := b.observer != nil
	b.mu.Unlock()
	if !hasObserver {
		result(eventID, false)
		return
	}

	switch name {
	case CommandGoBack:
		kind, _ := params["backType"].(string)
		value, ok := params["backValue"]
		if !ok {
			value = 1.0
		}
		result(eventID, b.GoBack(ParseBackType(kind), value))
	case CommandClear:
		b.Clear()
		result(eventID, true)
	default:
		slog.Warn("unknown backstack command", "name", name)
		result(eventID, false)
	}
}

func (b *Backstack) publish() {
	b.mu.Lock()
	sink := b.sink
	ids := append([]string{}, b.ids...)
	b.mu.Unlock()
	if sink != nil {
		sink(LiveDataName, ids)
	}
}

// intValue accepts the integer forms a decoded JSON parameter can take.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
