package core

import "github.com/roach88/aplbridge/internal/metrics"

// PropertyNotifyChildrenChanged is the dirty property a component reports
// when children were inserted or removed. Its value is a []any of
// {"uid", "index", "action"} maps.
const PropertyNotifyChildrenChanged = "_notify_childrenChanged"

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a measured extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MeasureMode qualifies a measurement constraint.
type MeasureMode int

const (
	MeasureUndefined MeasureMode = iota
	MeasureExactly
	MeasureAtMost
)

// UpdateType identifies a view-host-originated component update.
type UpdateType int

const (
	UpdatePressed UpdateType = iota
	UpdateTakeFocus
	UpdateScrollPosition
	UpdatePagerPosition
	UpdatePagerByEvent
	UpdateSubmit
	UpdateTextChange
)

// MediaState is the playback state reported for a video component.
type MediaState struct {
	TrackIndex  int  `json:"trackIndex"`
	TrackCount  int  `json:"trackCount"`
	CurrentTime int  `json:"currentTime"`
	Duration    int  `json:"duration"`
	Paused      bool `json:"paused"`
	Ended       bool `json:"ended"`
}

// KeyHandlerType distinguishes key down from key up.
type KeyHandlerType int

const (
	KeyDown KeyHandlerType = iota
	KeyUp
)

// Keyboard is a key event.
type Keyboard struct {
	Code   string `json:"code"`
	Key    string `json:"key"`
	Repeat bool   `json:"repeat"`
	Alt    bool   `json:"altKey"`
	Ctrl   bool   `json:"ctrlKey"`
	Meta   bool   `json:"metaKey"`
	Shift  bool   `json:"shiftKey"`
}

// Background is a document background: a color, a gradient, or nothing.
type Background struct {
	Color    string
	Gradient map[string]any
}

// IsTransparent reports whether the document declared no background.
func (b Background) IsTransparent() bool {
	return b.Gradient == nil && (b.Color == "" || b.Color == "transparent")
}

// ImportRequest identifies a package the content is waiting for.
type ImportRequest struct {
	Name    string
	Version string
	Source  string
}

// ConfigurationChange is applied to a root restored from history.
type ConfigurationChange struct {
	Width  float64
	Height float64
	Theme  string
	Mode   metrics.ViewportMode
}

// IsEmpty reports whether the change carries nothing to apply.
func (c ConfigurationChange) IsEmpty() bool {
	return c == ConfigurationChange{}
}

// Merge returns c with every non-zero field of next applied on top.
func (c ConfigurationChange) Merge(next ConfigurationChange) ConfigurationChange {
	if next.Width > 0 {
		c.Width = next.Width
	}
	if next.Height > 0 {
		c.Height = next.Height
	}
	if next.Theme != "" {
		c.Theme = next.Theme
	}
	if next.Mode != "" {
		c.Mode = next.Mode
	}
	return c
}
