// Package metrics converts between view-host pixels and engine
// density-independent units, and carries the viewport specifications used
// to negotiate scaling with the rendering engine.
//
// # Units
//
// The view host measures its surface in physical pixels at some DPI. The
// engine lays documents out in dp, where one dp is one pixel at CoreDPI.
// Scaling adds a second factor: when the document declares supported
// viewports the engine may pick a viewport larger or smaller than the
// surface and report a scale factor to stretch it back.
//
//	toViewhost(v) = v * scaleFactor * dpi / CoreDPI
//	toCore(v)     = v / (scaleFactor * dpi / CoreDPI)
//
// Adapter is a pure value: every method is safe for concurrent use.
package metrics

// CoreDPI is the reference density of the engine's dp unit.
const CoreDPI = 160.0

// ScreenShape is the physical shape of the view host surface.
type ScreenShape string

const (
	ShapeRectangle ScreenShape = "rectangle"
	ShapeRound     ScreenShape = "round"
)

// ViewportMode is the interaction mode reported by the view host.
type ViewportMode string

const (
	ModeAuto   ViewportMode = "auto"
	ModeHub    ViewportMode = "hub"
	ModeMobile ViewportMode = "mobile"
	ModePC     ViewportMode = "pc"
	ModeTV     ViewportMode = "tv"
)

// Metrics describes the view host surface in view-host pixels.
type Metrics struct {
	Width  float64
	Height float64
	DPI    float64
	Shape  ScreenShape
	Mode   ViewportMode
}

// CoreMetrics is the surface handed to the engine, in dp.
type CoreMetrics struct {
	Width  float64
	Height float64
	DPI    float64
	Shape  ScreenShape
	Mode   ViewportMode
}

// Scaling is the outcome of the engine's viewport selection.
//
// Spec is the chosen specification, ScaleFactor the stretch applied to it
// and CoreWidth/CoreHeight the resulting viewport in dp.
type Scaling struct {
	Spec        ViewportSpec
	ScaleFactor float64
	CoreWidth   float64
	CoreHeight  float64
}

// Adapter converts units for one negotiated surface.
type Adapter struct {
	metrics  Metrics
	scaling  Scaling
	hasSpec  bool
	toPixels float64
}

// NewFixed builds an Adapter with no viewport negotiation: the engine sees
// the whole surface at scale factor 1.
func NewFixed(m Metrics) *Adapter {
	m = sanitize(m)
	return &Adapter{
		metrics: m,
		scaling: Scaling{
			ScaleFactor: 1,
			CoreWidth:   m.Width * CoreDPI / m.DPI,
			CoreHeight:  m.Height * CoreDPI / m.DPI,
		},
		toPixels: m.DPI / CoreDPI,
	}
}

// NewScaled builds an Adapter from the engine's chosen scaling.
// A non-positive scale factor is treated as 1.
func NewScaled(m Metrics, s Scaling) *Adapter {
	m = sanitize(m)
	if s.ScaleFactor <= 0 {
		s.ScaleFactor = 1
	}
	return &Adapter{
		metrics:  m,
		scaling:  s,
		hasSpec:  true,
		toPixels: s.ScaleFactor * m.DPI / CoreDPI,
	}
}

// ToViewhost converts dp to view-host pixels.
func (a *Adapter) ToViewhost(value float64) float64 {
	return value * a.toPixels
}

// ToCore converts view-host pixels to dp.
func (a *Adapter) ToCore(value float64) float64 {
	return value / a.toPixels
}

// ViewhostWidth is the negotiated viewport width in view-host pixels.
func (a *Adapter) ViewhostWidth() float64 {
	return a.ToViewhost(a.scaling.CoreWidth)
}

// ViewhostHeight is the negotiated viewport height in view-host pixels.
func (a *Adapter) ViewhostHeight() float64 {
	return a.ToViewhost(a.scaling.CoreHeight)
}

// ScaleFactor returns the engine-chosen scale, 1 for fixed adapters.
func (a *Adapter) ScaleFactor() float64 {
	return a.scaling.ScaleFactor
}

// ChosenSpec returns the viewport specification the engine picked.
// ok is false for fixed adapters.
func (a *Adapter) ChosenSpec() (spec ViewportSpec, ok bool) {
	return a.scaling.Spec, a.hasSpec
}

// Metrics returns the raw view host metrics this adapter was built from.
func (a *Adapter) Metrics() Metrics {
	return a.metrics
}

// CoreMetrics returns the surface to hand to the engine.
func (a *Adapter) CoreMetrics() CoreMetrics {
	return CoreMetrics{
		Width:  a.scaling.CoreWidth,
		Height: a.scaling.CoreHeight,
		DPI:    a.metrics.DPI,
		Shape:  a.metrics.Shape,
		Mode:   a.metrics.Mode,
	}
}

// sanitize fills in defaults the view host may omit.
func sanitize(m Metrics) Metrics {
	if m.DPI <= 0 {
		m.DPI = CoreDPI
	}
	if m.Shape == "" {
		m.Shape = ShapeRectangle
	}
	if m.Mode == "" {
		m.Mode = ModeHub
	}
	return m
}
