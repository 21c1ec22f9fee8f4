// Package core declares the rendering engine boundary.
//
// The engine owns document inflation, layout and the component tree. The
// bridge only drives it through the interfaces below and never assumes an
// implementation is safe for concurrent use: every call on a RootContext,
// Content or Component must come from the session's worker goroutine.
//
// internal/core/memcore provides an in-memory implementation used by the
// CLI and by tests.
package core

import (
	"encoding/json"
	"time"

	"github.com/roach88/aplbridge/internal/metrics"
)

// Engine creates content and root contexts.
type Engine interface {
	// CreateContent parses a document. A nil error means the content exists,
	// not that it is ready: imports and parameters may still be outstanding.
	CreateContent(document string) (Content, error)

	// ChooseScaling runs the engine's viewport cost function. ok is false
	// when there are no candidates.
	ChooseScaling(m metrics.Metrics, opts metrics.ScalingOptions) (s metrics.Scaling, ok bool)

	// CreateRoot inflates content for a surface. A nil RootContext means
	// inflation failed; err describes why.
	CreateRoot(m metrics.CoreMetrics, content Content, cfg RootConfig) (RootContext, error)

	// DataSourceProvider returns the provider registered for a source type.
	DataSourceProvider(sourceType string) (DataSourceProvider, bool)

	// DataSourceTypes lists registered provider types in a stable order.
	DataSourceTypes() []string
}

// Content is a document plus its bound parameters and imported packages.
type Content interface {
	APLVersion() string
	Parameters() []string
	AddData(name string, data string)

	IsWaiting() bool
	IsError() bool
	IsReady() bool

	RequestedPackages() []ImportRequest
	AddPackage(req ImportRequest, body string)

	// ExtensionURIs lists the extensions the document requests.
	ExtensionURIs() []string
	// ExtensionSettings returns the document's settings block for an extension.
	ExtensionSettings(uri string) map[string]any
}

// RootConfig carries per-inflate configuration.
type RootConfig struct {
	AgentName        string
	AgentVersion     string
	AllowOpenURL     bool
	DisallowVideo    bool
	AnimationQuality string

	// Measure is consulted for components whose size depends on the view
	// host's text renderer. May be nil.
	Measure TextMeasure

	// LiveData seeds named live data objects (extension-provided).
	LiveData map[string]any

	// Extensions lists the extension URIs the host supports.
	Extensions []string

	StartTime time.Time
}

// RootContext is a live, inflated document.
type RootContext interface {
	Theme() string
	Background() Background
	Top() Component
	IdleTimeout() (d time.Duration, ok bool)

	UpdateTime(elapsed time.Duration, utc time.Time)
	SetLocalTimeAdjustment(offset time.Duration)
	ClearPending()

	HasEvent() bool
	PopEvent() Event

	IsDirty() bool
	Dirty() []Component
	ClearDirty()

	ScreenLock() bool

	FindComponentByID(id string) (Component, bool)

	// ExecuteCommands runs a command array. A nil future means the engine
	// rejected the batch outright.
	ExecuteCommands(commands json.RawMessage, fastMode bool) *Future
	CancelExecution()

	ScrollToRectInComponent(c Component, r Rect, align string)
	HandleKeyboard(kind KeyHandlerType, k Keyboard) bool
	UpdateCursorPosition(p Point)

	ConfigurationChange(c ConfigurationChange)
	UpdateLiveData(name string, value any) bool
}

// Component is a node in the inflated component tree.
type Component interface {
	UniqueID() string
	// Serialize returns the full subtree.
	Serialize() map[string]any
	// SerializeDirty returns the unique id plus changed properties only.
	SerializeDirty() map[string]any
	ChildAt(index int) (Component, bool)

	Update(kind UpdateType, value float64)
	UpdateMediaState(state MediaState, fromEvent bool)
	UpdateGraphic(avg string) bool
	EnsureLayout()
}

// TextMeasure is the view-host measurement callback.
type TextMeasure interface {
	Measure(c Component, width float64, widthMode MeasureMode, height float64, heightMode MeasureMode) Size
	Baseline(c Component, width, height float64) float64
}

// DataSourceProvider applies incremental data updates.
type DataSourceProvider interface {
	ProcessUpdate(payload string) bool
	// PendingErrors returns and clears queued errors.
	PendingErrors() []any
}
