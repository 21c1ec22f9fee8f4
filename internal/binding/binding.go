// Package binding is the façade the surrounding application drives.
//
// A Binding owns one session: its worker, its manager, the content loader
// and the backstack extension. Every entry point is safe to call from any
// goroutine. Work against the engine is posted to the session worker; the
// only synchronous path is OnMessage's first routing phase, which lets a
// blocking measurement reply bypass the worker queue.
package binding

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/extension"
	"github.com/roach88/aplbridge/internal/extension/backstack"
	"github.com/roach88/aplbridge/internal/loader"
	"github.com/roach88/aplbridge/internal/session"
)

// TokenGenerator creates presentation tokens for documents rendered
// without one.
type TokenGenerator interface {
	Generate() string
}

// UUIDTokens generates time-ordered UUIDv7 tokens.
type UUIDTokens struct{}

// Generate returns a new UUIDv7 string.
func (UUIDTokens) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Config configures a Binding.
type Config struct {
	Loader  loader.Config
	Session session.Config

	// ResponsibleForBack makes the backstack answer HandleBack.
	ResponsibleForBack bool
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Loader: loader.Config{
			MaxConcurrentDownloads: loader.DefaultMaxConcurrentDownloads,
			PackageURLTemplate:     loader.DefaultPackageURLTemplate,
		},
		Session:            session.DefaultConfig(),
		ResponsibleForBack: true,
	}
}

// Option configures a Binding.
type Option func(*options)

type options struct {
	tokens     TokenGenerator
	extensions []extension.Extension
	session    []session.ManagerOption
}

// WithTokenGenerator replaces the UUIDv7 token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) {
		o.tokens = g
	}
}

// WithExtension registers an extension next to the backstack.
func WithExtension(ext extension.Extension) Option {
	return func(o *options) {
		o.extensions = append(o.extensions, ext)
	}
}

// WithSessionOptions passes options through to the session manager.
func WithSessionOptions(opts ...session.ManagerOption) Option {
	return func(o *options) {
		o.session = append(o.session, opts...)
	}
}

// RenderRequest is a document to resolve and show.
type RenderRequest struct {
	// Token identifies the document to the host. Empty means generate one.
	Token              string
	Document           string
	Data               string
	Parameters         map[string]string
	SupportedViewports []byte
}

// Binding is one rendering surface.
type Binding struct {
	host      session.Host
	manager   *session.Manager
	worker    *session.Worker
	loader    *loader.Loader
	registry  *extension.Registry
	backstack *backstack.Backstack
	tokens    TokenGenerator

	// loadGen moves on every Render and Clear so a load that finishes
	// late never stages stale content.
	loadGen atomic.Uint64
	loads   sync.WaitGroup
}

// New wires a binding. The caller runs it with Run.
func New(host session.Host, engine core.Engine, downloader loader.Downloader, cfg Config, opts ...Option) *Binding {
	o := options{tokens: UUIDTokens{}}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Binding{
		host:      host,
		worker:    session.NewWorker(),
		loader:    loader.New(engine, downloader, cfg.Loader),
		registry:  extension.NewRegistry(),
		backstack: backstack.New(cfg.ResponsibleForBack),
		tokens:    o.tokens,
	}
	b.registry.Register(b.backstack)
	for _, ext := range o.extensions {
		b.registry.Register(ext)
	}

	managerOpts := append([]session.ManagerOption{
		session.WithWorker(b.worker),
		session.WithExtensions(b.registry),
		session.WithDocumentCache(b.backstack),
	}, o.session...)
	b.manager = session.New(host, engine, cfg.Session, managerOpts...)
	b.backstack.SetObserver(restorer{b})
	return b
}

// restorer hands backstack restores to the worker. Navigation may run on
// the worker already, in the middle of a tick, so the restore is always
// queued behind the current task.
type restorer struct {
	b *Binding
}

func (r restorer) RestoreDocumentState(state *session.DocumentState) {
	r.b.worker.Post(func() {
		r.b.manager.RestoreDocumentState(state)
	})
}

// Manager returns the session manager. Call its methods only from the
// worker.
func (b *Binding) Manager() *session.Manager {
	return b.manager
}

// Backstack returns the navigation history.
func (b *Binding) Backstack() *backstack.Backstack {
	return b.backstack
}

// Loader returns the content loader.
func (b *Binding) Loader() *loader.Loader {
	return b.loader
}

// Run drains the session worker until ctx ends or Stop is called.
func (b *Binding) Run(ctx context.Context) error {
	return b.worker.Run(ctx)
}

// Stop stops the worker.
func (b *Binding) Stop() {
	b.worker.Stop()
}

// Sync waits until every task posted before it has run.
func (b *Binding) Sync(ctx context.Context) error {
	return b.worker.Do(ctx, func() {})
}

// Inspect runs fn on the worker with the manager and waits for it.
func (b *Binding) Inspect(ctx context.Context, fn func(m *session.Manager)) error {
	return b.worker.Do(ctx, func() {
		fn(b.manager)
	})
}

// Wait blocks until every in-flight load has posted its result.
func (b *Binding) Wait() {
	b.loads.Wait()
}

// Render resolves a document in the background and stages it on the
// session. The returned token identifies the document in every host
// callback. A load failure is reported through OnRenderDocumentComplete.
func (b *Binding) Render(ctx context.Context, req RenderRequest) string {
	token := req.Token
	if token == "" {
		token = b.tokens.Generate()
	}
	gen := b.loadGen.Add(1)

	b.loads.Add(1)
	go func() {
		defer b.loads.Done()
		result, err := b.loader.Load(ctx, loader.Request{
			Document:           req.Document,
			Data:               req.Data,
			Parameters:         req.Parameters,
			SupportedViewports: req.SupportedViewports,
		})

		b.worker.Post(func() {
			if b.loadGen.Load() != gen {
				slog.Info("discarding superseded load", "token", token)
				return
			}
			if err != nil {
				slog.Error("render failed", "token", token, "error", err)
				b.host.OnRenderDocumentComplete(token, false, loader.ReasonOf(err))
				return
			}
			b.manager.SetContent(result.Content, token, result.SupportedViewports)
		})
	}()
	return token
}

// Clear drops the active document, any load in flight and the history.
func (b *Binding) Clear() {
	b.loadGen.Add(1)
	b.worker.Post(func() {
		b.backstack.Reset()
		b.manager.Reset()
	})
}

// ExecuteCommands runs a {"commands": [...]} payload on the live document.
func (b *Binding) ExecuteCommands(payload []byte, token string) {
	b.worker.Post(func() {
		b.manager.ExecuteCommands(payload, token)
	})
}

// InterruptCommandSequence cancels running commands.
func (b *Binding) InterruptCommandSequence() {
	b.worker.Post(b.manager.InterruptCommandSequence)
}

// DataSourceUpdate applies an incremental data-source update.
func (b *Binding) DataSourceUpdate(sourceType, payload, token string) {
	b.worker.Post(func() {
		b.manager.DataSourceUpdate(sourceType, payload, token)
	})
}

// Tick advances the live document by one frame.
func (b *Binding) Tick() {
	b.worker.Post(b.manager.OnUpdateTick)
}

// RunTicker ticks every interval until ctx ends.
func (b *Binding) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// OnMessage routes a view-host message. A reply to an outstanding
// blocking send is consumed immediately; everything else is queued.
func (b *Binding) OnMessage(raw []byte) {
	if !b.manager.ShouldHandleMessage(raw) {
		return
	}
	msg := append([]byte(nil), raw...)
	b.worker.Post(func() {
		b.manager.HandleMessage(msg)
	})
}

// HandleBack navigates one step back through the history. It reports
// false when there is nothing to go back to or the document is
// responsible for back.
func (b *Binding) HandleBack(ctx context.Context) (bool, error) {
	var ok bool
	err := b.worker.Do(ctx, func() {
		ok = b.backstack.HandleBack()
	})
	return ok, err
}
