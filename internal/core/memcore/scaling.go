package memcore

import (
	"math"

	"github.com/roach88/aplbridge/internal/metrics"
)

// ChooseScaling implements core.Engine.
//
// Each candidate is fitted to the surface: the viewport is the surface size
// clamped into the spec's bounds, then scaled uniformly to fit. Cost is the
// log of the scale factor weighted by the bias constant plus the fraction of
// surface area left empty. Candidates in the surface's mode are preferred;
// with ShapeOverridesCost candidates of the surface's shape are preferred
// too, otherwise a shape mismatch adds a flat penalty. Ties keep the
// earlier candidate.
func (e *Engine) ChooseScaling(m metrics.Metrics, opts metrics.ScalingOptions) (metrics.Scaling, bool) {
	if len(opts.Specs) == 0 {
		return metrics.Scaling{}, false
	}

	dpi := m.DPI
	if dpi <= 0 {
		dpi = metrics.CoreDPI
	}
	w := m.Width * metrics.CoreDPI / dpi
	h := m.Height * metrics.CoreDPI / dpi
	round := m.Shape == metrics.ShapeRound

	candidates := opts.Specs
	if sameMode := filterSpecs(candidates, func(s metrics.ViewportSpec) bool { return s.Mode == m.Mode }); len(sameMode) > 0 {
		candidates = sameMode
	}
	if opts.ShapeOverridesCost {
		if sameShape := filterSpecs(candidates, func(s metrics.ViewportSpec) bool { return s.Round == round }); len(sameShape) > 0 {
			candidates = sameShape
		}
	}

	bias := opts.BiasConstant
	if bias <= 0 {
		bias = 1
	}

	var (
		best     metrics.Scaling
		bestCost = math.Inf(1)
	)
	for _, spec := range candidates {
		vw := clamp(w, spec.MinWidth, spec.MaxWidth)
		vh := clamp(h, spec.MinHeight, spec.MaxHeight)
		if vw <= 0 || vh <= 0 {
			continue
		}
		scale := math.Min(w/vw, h/vh)
		empty := 1 - (vw*scale*vh*scale)/(w*h)
		cost := math.Abs(math.Log(scale))*bias + empty
		if !opts.ShapeOverridesCost && spec.Round != round {
			cost += 1
		}
		if cost < bestCost {
			bestCost = cost
			best = metrics.Scaling{Spec: spec, ScaleFactor: scale, CoreWidth: vw, CoreHeight: vh}
		}
	}
	if math.IsInf(bestCost, 1) {
		return metrics.Scaling{}, false
	}
	return best, true
}

func filterSpecs(specs []metrics.ViewportSpec, keep func(metrics.ViewportSpec) bool) []metrics.ViewportSpec {
	var out []metrics.ViewportSpec
	for _, s := range specs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
