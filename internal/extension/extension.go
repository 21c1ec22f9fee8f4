// Package extension routes document extension commands to stateful
// add-ons keyed by URI.
//
// Extensions hook into the document lifecycle through a narrow surface:
// they receive the document's settings block when a document inflates,
// they may publish named live data into the root context, and they handle
// commands the document issues as "Alias:Command".
package extension

import (
	"log/slog"
	"sort"
	"sync"
)

// ResultFunc reports an extension command's outcome for an event id.
type ResultFunc func(eventID uint64, ok bool)

// LiveDataSink receives live data changes published by an extension.
type LiveDataSink func(name string, value any)

// Extension is a document extension.
type Extension interface {
	URI() string

	// ApplySettings receives the document's settings block for this
	// extension when a document inflates. settings may be nil.
	ApplySettings(settings map[string]any)

	// LiveData returns the named live data objects to seed a new root with.
	LiveData() map[string]any

	// OnExtensionEvent handles a document-issued command. Implementations
	// must call result exactly once.
	OnExtensionEvent(uri, name string, source, params map[string]any, eventID uint64, result ResultFunc)
}

// LiveDataPublisher is implemented by extensions whose live data changes
// after inflation.
type LiveDataPublisher interface {
	SetLiveDataSink(sink LiveDataSink)
}

// Registry holds the extensions a host supports.
type Registry struct {
	mu   sync.Mutex
	exts map[string]Extension
	sink LiveDataSink
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{exts: make(map[string]Extension)}
}

// Register adds an extension, replacing any previous one with the same URI.
func (r *Registry) Register(ext Extension) {
	r.mu.Lock()
	r.exts[ext.URI()] = ext
	r.mu.Unlock()

	if p, ok := ext.(LiveDataPublisher); ok {
		p.SetLiveDataSink(r.publish)
	}
}

// Get returns the extension for uri.
func (r *Registry) Get(uri string) (Extension, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext, ok := r.exts[uri]
	return ext, ok
}

// URIs lists registered extension URIs in sorted order.
func (r *Registry) URIs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uris := make([]string, 0, len(r.exts))
	for uri := range r.exts {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// SetLiveDataSink directs published live data changes to sink.
func (r *Registry) SetLiveDataSink(sink LiveDataSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *Registry) publish(name string, value any) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(name, value)
	}
}

// Settings supplies a document's per-extension settings.
type Settings interface {
	ExtensionURIs() []string
	ExtensionSettings(uri string) map[string]any
}

// Activate forwards a document's settings to every extension it requests
// and returns the live data to seed the root with. Requested extensions
// that are not registered are logged and skipped.
func (r *Registry) Activate(doc Settings) map[string]any {
	liveData := make(map[string]any)
	for _, uri := range doc.ExtensionURIs() {
		ext, ok := r.Get(uri)
		if !ok {
			slog.Warn("document requests unsupported extension", "uri", uri)
			continue
		}
		ext.ApplySettings(doc.ExtensionSettings(uri))
		for name, value := range ext.LiveData() {
			liveData[name] = value
		}
	}
	return liveData
}

// OnExtensionEvent routes a command to its extension. Unknown URIs fail.
func (r *Registry) OnExtensionEvent(uri, name string, source, params map[string]any, eventID uint64, result ResultFunc) {
	ext, ok := r.Get(uri)
	if !ok {
		slog.Warn("extension command for unknown extension", "uri", uri, "name", name)
		result(eventID, false)
		return
	}
	ext.OnExtensionEvent(uri, name, source, params, eventID, result)
}
