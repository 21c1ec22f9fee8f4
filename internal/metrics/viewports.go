package metrics

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed viewports.cue
var viewportSchema string

// Unbounded is the max width/height of a specification that does not set one.
const Unbounded = 2147483647.0

// ViewportSpec is one candidate sizing rule from a document's supported
// viewports. Bounds are in dp. Specs are comparable so a failed candidate can
// be removed from a set by value.
type ViewportSpec struct {
	MinWidth  float64
	MaxWidth  float64
	MinHeight float64
	MaxHeight float64
	Mode      ViewportMode
	Round     bool
}

// String renders the spec for logs.
func (s ViewportSpec) String() string {
	shape := ShapeRectangle
	if s.Round {
		shape = ShapeRound
	}
	return fmt.Sprintf("%s/%s w[%g,%g] h[%g,%g]", s.Mode, shape, s.MinWidth, s.MaxWidth, s.MinHeight, s.MaxHeight)
}

// ScalingOptions configures the engine's viewport selection.
type ScalingOptions struct {
	Specs              []ViewportSpec
	BiasConstant       float64
	ShapeOverridesCost bool
}

// wireSpec is the supportedViewports JSON shape.
type wireSpec struct {
	Mode      string   `json:"mode"`
	Shape     string   `json:"shape"`
	MinWidth  *float64 `json:"minWidth"`
	MaxWidth  *float64 `json:"maxWidth"`
	MinHeight *float64 `json:"minHeight"`
	MaxHeight *float64 `json:"maxHeight"`
}

// SchemaError is a supportedViewports payload that failed to parse or
// did not match the schema.
type SchemaError struct {
	Op  string // "parse" or "validate"
	Err error
}

func (e *SchemaError) Error() string {
	if e.Op == "parse" {
		return fmt.Sprintf("parse supported viewports: %s", cueerrors.Details(e.Err, nil))
	}
	return fmt.Sprintf("invalid supported viewports: %s", cueerrors.Details(e.Err, nil))
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// SchemaIssue is one CUE error. Line is its line in the payload, 0 when
// the error has no position there.
type SchemaIssue struct {
	Message string
	Line    int
}

// Issues splits the error into one entry per CUE error, in order.
func (e *SchemaError) Issues() []SchemaIssue {
	errs := cueerrors.Errors(e.Err)
	issues := make([]SchemaIssue, 0, len(errs))
	for _, err := range errs {
		issue := SchemaIssue{Message: err.Error()}
		for _, pos := range cueerrors.Positions(err) {
			if pos.IsValid() && pos.Filename() == "supportedViewports" {
				issue.Line = pos.Line()
				break
			}
		}
		issues = append(issues, issue)
	}
	return issues
}

// ParseViewportSpecs validates a supportedViewports payload against the
// embedded CUE schema and decodes it. An empty payload yields no specs.
//
// Errors carry CUE positions relative to the filename "supportedViewports".
func ParseViewportSpecs(raw []byte) ([]ViewportSpec, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(viewportSchema, cue.Filename("viewports.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile viewport schema: %w", err)
	}

	data := ctx.CompileBytes(raw, cue.Filename("supportedViewports"))
	if err := data.Err(); err != nil {
		return nil, &SchemaError{Op: "parse", Err: err}
	}

	v := schema.LookupPath(cue.ParsePath("#Viewports")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &SchemaError{Op: "validate", Err: err}
	}

	// The CUE value is validated; decode through encoding/json so optional
	// bounds stay distinguishable from zero.
	js, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode supported viewports: %w", err)
	}
	var wire []wireSpec
	if err := json.Unmarshal(js, &wire); err != nil {
		return nil, fmt.Errorf("decode supported viewports: %w", err)
	}

	specs := make([]ViewportSpec, 0, len(wire))
	for _, w := range wire {
		specs = append(specs, w.toSpec())
	}
	return specs, nil
}

func (w wireSpec) toSpec() ViewportSpec {
	s := ViewportSpec{
		MaxWidth:  Unbounded,
		MaxHeight: Unbounded,
		Mode:      ViewportMode(strings.ToLower(w.Mode)),
		Round:     strings.EqualFold(w.Shape, string(ShapeRound)),
	}
	if s.Mode == "" {
		s.Mode = ModeHub
	}
	if w.MinWidth != nil {
		s.MinWidth = *w.MinWidth
	}
	if w.MaxWidth != nil {
		s.MaxWidth = *w.MaxWidth
	}
	if w.MinHeight != nil {
		s.MinHeight = *w.MinHeight
	}
	if w.MaxHeight != nil {
		s.MaxHeight = *w.MaxHeight
	}
	return s
}

// RemoveSpec returns specs without the first element equal to target.
// ok is false when target is not present.
func RemoveSpec(specs []ViewportSpec, target ViewportSpec) (out []ViewportSpec, ok bool) {
	for i, s := range specs {
		if s == target {
			out = make([]ViewportSpec, 0, len(specs)-1)
			out = append(out, specs[:i]...)
			out = append(out, specs[i+1:]...)
			return out, true
		}
	}
	return specs, false
}
