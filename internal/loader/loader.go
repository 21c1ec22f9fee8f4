// Package loader resolves an APL document into inflatable content.
//
// Resolution binds the document's parameters, then repeatedly downloads
// whatever packages the content still requests (packages may import other
// packages) until the content stops waiting. Downloads run concurrently in
// batches of at most MaxConcurrentDownloads; each batch is a barrier, so
// packages are fed back into the content in request order.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/aplbridge/internal/core"
)

// PayloadParameter is the reserved parameter name bound to the caller's
// data blob.
const PayloadParameter = "payload"

// DefaultPackageURLTemplate locates packages without an explicit source.
// The verbs are the package name and version.
const DefaultPackageURLTemplate = "https://arl.assets.apl-alexa.com/packages/%s/%s/document.json"

// DefaultMaxConcurrentDownloads caps in-flight package downloads.
const DefaultMaxConcurrentDownloads = 5

// Downloader fetches a resource body. An empty body means the resource
// could not be resolved.
type Downloader interface {
	DownloadResource(ctx context.Context, url string) (string, error)
}

// Config tunes package resolution.
type Config struct {
	MaxConcurrentDownloads int
	PackageURLTemplate     string
}

// Request is one document to resolve.
type Request struct {
	Document string

	// Data is bound to the reserved "payload" parameter.
	Data string

	// Parameters binds other top-level parameters by name. Names the
	// document does not declare are ignored, as is PayloadParameter.
	Parameters map[string]string

	// SupportedViewports is passed through untouched for scaling.
	SupportedViewports []byte
}

// Result is resolved, ready content.
type Result struct {
	Content            core.Content
	SupportedViewports []byte
}

// Loader resolves documents against an engine.
type Loader struct {
	engine     core.Engine
	downloader Downloader
	cfg        Config

	importErrors atomic.Int64
}

// New creates a loader. Zero config fields take their defaults.
func New(engine core.Engine, downloader Downloader, cfg Config) *Loader {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if cfg.PackageURLTemplate == "" {
		cfg.PackageURLTemplate = DefaultPackageURLTemplate
	}
	return &Loader{engine: engine, downloader: downloader, cfg: cfg}
}

// ImportErrors counts loads whose content ended in the error state.
func (l *Loader) ImportErrors() int64 {
	return l.importErrors.Load()
}

// Load resolves req. Every failure is a *LoadError; nothing is retried.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	content, err := l.engine.CreateContent(req.Document)
	if err != nil || content == nil {
		slog.Error("create content failed", "error", err)
		return Result{}, &LoadError{Reason: ReasonCreateContent, Err: err}
	}

	bindParameters(content, req)

	for content.IsWaiting() && !content.IsError() {
		requested := content.RequestedPackages()
		if len(requested) == 0 {
			break
		}
		if err := l.resolve(ctx, content, requested); err != nil {
			return Result{}, err
		}
	}

	if content.IsError() {
		l.importErrors.Add(1)
		slog.Warn("content entered error state during resolution")
	}

	if !content.IsReady() {
		slog.Error("content is not ready after resolution")
		return Result{}, &LoadError{Reason: ReasonNotReady}
	}

	return Result{Content: content, SupportedViewports: req.SupportedViewports}, nil
}

// bindParameters gives every declared parameter a value. The reserved
// payload parameter only ever receives req.Data.
func bindParameters(content core.Content, req Request) {
	for _, name := range content.Parameters() {
		data := "{}"
		if name == PayloadParameter {
			if req.Data != "" {
				data = req.Data
			}
		} else if v := req.Parameters[name]; v != "" {
			data = v
		}
		content.AddData(name, data)
	}
}

// resolve downloads one round of requested packages in barrier batches.
func (l *Loader) resolve(ctx context.Context, content core.Content, requested []core.ImportRequest) error {
	for start := 0; start < len(requested); start += l.cfg.MaxConcurrentDownloads {
		end := min(start+l.cfg.MaxConcurrentDownloads, len(requested))
		batch := requested[start:end]

		bodies, err := l.downloadBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i, req := range batch {
			content.AddPackage(req, bodies[i])
		}
	}
	return nil
}

func (l *Loader) downloadBatch(ctx context.Context, batch []core.ImportRequest) ([]string, error) {
	bodies := make([]string, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range batch {
		url := l.PackageURL(req)
		g.Go(func() error {
			body, err := l.downloader.DownloadResource(gctx, url)
			if err != nil || body == "" {
				slog.Error("package download failed",
					"package", req.Name,
					"version", req.Version,
					"url", url,
					"error", err)
				return &LoadError{Reason: ReasonUnresolvedImport, Package: req.Name, Err: err}
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &LoadError{Reason: ReasonUnresolvedImport, Err: err}
	}
	return bodies, nil
}

// PackageURL returns an import's explicit source, or the templated CDN
// location for its name and version.
func (l *Loader) PackageURL(req core.ImportRequest) string {
	if req.Source != "" {
		return req.Source
	}
	return fmt.Sprintf(l.cfg.PackageURLTemplate, req.Name, req.Version)
}
