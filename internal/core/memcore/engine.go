// Package memcore is an in-memory rendering engine.
//
// It implements the core interfaces without doing layout: documents are
// parsed into a component tree, properties change through commands and
// view-host updates, and every change is tracked as dirty state. That is
// enough to drive the bridge end to end in tests and in `aplbridge serve`.
//
// The engine also exposes a few hooks (InflateFilter, PushEvent,
// SetProperty, InsertChild, screen locks) so tests can script engine-side
// behavior without a real APL runtime.
package memcore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/metrics"
)

// InflateFilter vetoes a root creation. Returning an error fails inflation.
type InflateFilter func(m metrics.CoreMetrics) error

// Engine is the in-memory core.Engine.
type Engine struct {
	mu          sync.Mutex
	filter      InflateFilter
	dataSources map[string]*DataSource
	roots       []*Root
}

// Option configures an Engine.
type Option func(*Engine)

// WithInflateFilter installs an inflation veto.
func WithInflateFilter(f InflateFilter) Option {
	return func(e *Engine) {
		e.filter = f
	}
}

// WithDataSource registers a data-source provider for a source type.
func WithDataSource(sourceType string, ds *DataSource) Option {
	return func(e *Engine) {
		e.dataSources[sourceType] = ds
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		dataSources: make(map[string]*DataSource),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ core.Engine = (*Engine)(nil)

// CreateContent implements core.Engine.
func (e *Engine) CreateContent(document string) (core.Content, error) {
	return newContent(document)
}

// CreateRoot implements core.Engine.
func (e *Engine) CreateRoot(m metrics.CoreMetrics, content core.Content, cfg core.RootConfig) (core.RootContext, error) {
	c, ok := content.(*Content)
	if !ok {
		return nil, fmt.Errorf("memcore: foreign content type %T", content)
	}
	if !c.IsReady() {
		return nil, fmt.Errorf("memcore: content is not ready")
	}

	e.mu.Lock()
	filter := e.filter
	e.mu.Unlock()
	if filter != nil {
		if err := filter(m); err != nil {
			return nil, err
		}
	}

	root, err := newRoot(m, c, cfg)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.roots = append(e.roots, root)
	e.mu.Unlock()
	return root, nil
}

// DataSourceProvider implements core.Engine.
func (e *Engine) DataSourceProvider(sourceType string) (core.DataSourceProvider, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.dataSources[sourceType]
	if !ok {
		return nil, false
	}
	return ds, true
}

// DataSourceTypes implements core.Engine.
func (e *Engine) DataSourceTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]string, 0, len(e.dataSources))
	for t := range e.dataSources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Roots returns every root this engine inflated, oldest first.
func (e *Engine) Roots() []*Root {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Root, len(e.roots))
	copy(out, e.roots)
	return out
}

// LastRoot returns the most recently inflated root, or nil.
func (e *Engine) LastRoot() *Root {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.roots) == 0 {
		return nil
	}
	return e.roots[len(e.roots)-1]
}
