package session

import (
	"time"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/metrics"
)

// State is the document lifecycle state.
type State int

const (
	// StateEmpty has no content.
	StateEmpty State = iota
	// StateLoading has content that is not inflated yet.
	StateLoading
	// StateInflated has a live root context and ticks.
	StateInflated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateLoading:
		return "Loading"
	case StateInflated:
		return "Inflated"
	}
	return "Unknown"
}

// DocumentState is a captured, previously active document. It is owned by
// whichever history holds it and is consumed by RestoreDocumentState.
type DocumentState struct {
	// ID is the history identifier, assigned by the extension that caches
	// the state.
	ID string

	Token      string
	Content    core.Content
	Root       core.RootContext
	Adapter    *metrics.Adapter
	Specs      []metrics.ViewportSpec
	StartTime  time.Time
	APLVersion string

	// PendingChange accumulates changes made while the document was not
	// live. Width and Height are view-host pixels; they are converted
	// through a freshly negotiated adapter on restore.
	PendingChange core.ConfigurationChange
}

// DocumentCache decides whether the active document is captured before it
// is replaced, and receives the capture. ApplyConfigurationChange is
// called when the view host rebuilds on a different surface, for every
// state the cache holds.
type DocumentCache interface {
	ShouldCacheActiveDocument() bool
	AddDocumentStateToBackstack(state *DocumentState)
	ApplyConfigurationChange(change core.ConfigurationChange)
}
