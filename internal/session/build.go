package session

import (
	"log/slog"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/metrics"
	"github.com/roach88/aplbridge/internal/protocol"
)

// HandleBuild inflates the staged content for the surface the view host
// describes. The steps run in a fixed order:
//
//  1. rendering options are sent, even when there is nothing to inflate
//  2. without content the build fails
//  3. leftover pending events and screen-lock tracking are cleared
//  4. engine metrics are built from the surface
//  5. viewport candidates are tried in the engine's preference order, each
//     attempt preceded by a scaling message; a failed candidate is removed
//     and the next best is tried
//  6. on success theme, background and hierarchy are sent, the idle
//     timeout is reported and success names the chosen viewport
//  7. on failure an error is sent, failure is reported and queued
//     data-source errors are surfaced
func (m *Manager) HandleBuild(b protocol.Build) {
	m.sendRenderingOptions()

	if m.content == nil {
		slog.Error("build without content")
		m.sendError(ReasonNoContent)
		return
	}

	// A rebuild of an inflated document starts from a fresh root.
	m.discard()

	surface := metrics.Metrics{
		Width:  b.Width,
		Height: b.Height,
		DPI:    b.DPI,
		Shape:  metrics.ScreenShape(b.Shape),
		Mode:   metrics.ViewportMode(b.Mode),
	}
	cfg := core.RootConfig{
		AgentName:        b.AgentName,
		AgentVersion:     b.AgentVersion,
		AllowOpenURL:     b.AllowOpenURL,
		DisallowVideo:    b.DisallowVideo,
		AnimationQuality: b.AnimationQuality,
		Measure:          m,
	}
	if m.extensions != nil {
		cfg.LiveData = m.extensions.Activate(m.content)
		cfg.Extensions = m.extensions.URIs()
	}

	m.noteSurface(surface)

	root, ok := m.inflate(surface, cfg)
	if !ok {
		m.failBuild()
		return
	}

	m.root = root
	m.state = StateInflated
	m.root.SetLocalTimeAdjustment(m.host.TimezoneOffset())
	m.sendDocumentInfo()

	if d, ok := root.IdleTimeout(); ok {
		m.host.OnSetDocumentIdleTimeout(m.token, d)
	}
	viewport := m.chosenViewport()
	slog.Info("document inflated", "token", m.token, "viewport", viewport)
	m.host.OnRenderDocumentComplete(m.token, true, viewport)
}

// noteSurface records the build surface. When it differs from the last
// one, every cached document is told so it can be resized on restore.
func (m *Manager) noteSurface(surface metrics.Metrics) {
	prev := m.surface
	m.surface = surface
	if prev == (metrics.Metrics{}) || prev == surface || m.cache == nil {
		return
	}
	slog.Debug("surface changed", "width", surface.Width, "height", surface.Height, "mode", surface.Mode)
	m.cache.ApplyConfigurationChange(core.ConfigurationChange{
		Width:  surface.Width,
		Height: surface.Height,
		Mode:   surface.Mode,
	})
}

// negotiate asks the engine for the best of specs on surface. Without
// candidates, or when the engine declines, the surface is used unscaled.
func (m *Manager) negotiate(surface metrics.Metrics, specs []metrics.ViewportSpec) (*metrics.Adapter, bool) {
	if len(specs) == 0 {
		return metrics.NewFixed(surface), false
	}
	s, ok := m.engine.ChooseScaling(surface, metrics.ScalingOptions{
		Specs:              specs,
		BiasConstant:       m.cfg.BiasConstant,
		ShapeOverridesCost: m.cfg.ShapeOverridesCost,
	})
	if !ok {
		return metrics.NewFixed(surface), false
	}
	return metrics.NewScaled(surface, s), true
}

// inflate runs the scaling negotiation loop.
func (m *Manager) inflate(surface metrics.Metrics, cfg core.RootConfig) (core.RootContext, bool) {
	specs := append([]metrics.ViewportSpec(nil), m.specs...)
	for {
		adapter, scaled := m.negotiate(surface, specs)
		chosen, _ := adapter.ChosenSpec()

		// The view host sizes its surface from this even if inflate fails.
		m.adapter = adapter
		m.sendScaling(adapter)

		cfg.StartTime = m.clock.Now()
		m.startTime = cfg.StartTime
		root, err := m.engine.CreateRoot(adapter.CoreMetrics(), m.content, cfg)
		if err == nil && root != nil {
			return root, true
		}
		slog.Warn("inflate failed", "token", m.token, "viewport", chosen.String(), "error", err)

		if !scaled {
			return nil, false
		}
		rest, found := metrics.RemoveSpec(specs, chosen)
		if !found {
			slog.Error("engine chose a viewport outside the candidate set", "viewport", chosen.String())
			return nil, false
		}
		if len(rest) == 0 {
			return nil, false
		}
		specs = rest
	}
}

// chosenViewport names the negotiated viewport, or "" when the surface is
// used unscaled.
func (m *Manager) chosenViewport() string {
	if m.adapter == nil {
		return ""
	}
	if spec, ok := m.adapter.ChosenSpec(); ok {
		return spec.String()
	}
	return ""
}

func (m *Manager) failBuild() {
	token := m.token
	m.root = nil
	m.adapter = nil
	m.content = nil
	m.state = StateEmpty

	m.sendError(ReasonInflateFailed)
	m.host.OnRenderDocumentComplete(token, false, ReasonInflateFailed)
	m.flushDataSourceErrors(token, m.engine.DataSourceTypes()...)
}

func (m *Manager) sendRenderingOptions() {
	m.send(protocol.New(protocol.TypeRenderingOptions).SetPayload(map[string]any{
		"legacyKaraoke": m.aplVersion == "1.0",
	}))
}

func (m *Manager) sendScaling(a *metrics.Adapter) {
	m.send(protocol.New(protocol.TypeScaling).SetPayload(map[string]any{
		"scaleFactor":    a.ScaleFactor(),
		"viewportWidth":  a.ViewhostWidth(),
		"viewportHeight": a.ViewhostHeight(),
	}))
}

// sendDocumentInfo sends theme, background (when declared) and the full
// component hierarchy of the live root.
func (m *Manager) sendDocumentInfo() {
	m.send(protocol.New(protocol.TypeDocTheme).SetPayload(map[string]any{
		"docTheme": m.root.Theme(),
	}))

	if bg := m.root.Background(); !bg.IsTransparent() {
		payload := map[string]any{}
		if bg.Gradient != nil {
			payload["gradient"] = bg.Gradient
		} else {
			payload["color"] = bg.Color
		}
		m.send(protocol.New(protocol.TypeBackground).SetPayload(map[string]any{"background": payload}))
	}

	m.send(protocol.New(protocol.TypeHierarchy).SetPayload(m.root.Top().Serialize()))
}

// flushDataSourceErrors reports queued provider errors as one runtime
// error event.
func (m *Manager) flushDataSourceErrors(token string, sourceTypes ...string) {
	var errs []any
	for _, t := range sourceTypes {
		provider, ok := m.engine.DataSourceProvider(t)
		if !ok {
			continue
		}
		errs = append(errs, provider.PendingErrors()...)
	}
	if len(errs) == 0 {
		return
	}
	m.host.OnRuntimeErrorEvent(token, map[string]any{"errors": errs})
}
