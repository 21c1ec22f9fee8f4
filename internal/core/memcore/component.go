package memcore

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/aplbridge/internal/core"
)

// Component is the memcore core.Component. All state is guarded by the
// owning root's mutex.
type Component struct {
	root     *Root
	uid      string
	id       string
	typ      string
	props    map[string]any
	children []*Component
	parent   *Component
	onPress  json.RawMessage

	dirty        map[string]bool
	childChanges []any

	measured *core.Size
	baseline float64
	laidOut  bool
	media    *core.MediaState
}

var _ core.Component = (*Component)(nil)

// UniqueID implements core.Component.
func (c *Component) UniqueID() string {
	return c.uid
}

// ID returns the document-assigned id, which may be empty.
func (c *Component) ID() string {
	return c.id
}

// Type returns the component type name.
func (c *Component) Type() string {
	return c.typ
}

// Property returns a property value.
func (c *Component) Property(name string) (any, bool) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	v, ok := c.props[name]
	return v, ok
}

// Measured returns the size the view host reported, if the component was
// measured during inflation.
func (c *Component) Measured() (core.Size, float64, bool) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	if c.measured == nil {
		return core.Size{}, 0, false
	}
	return *c.measured, c.baseline, true
}

// LaidOut reports whether EnsureLayout was called.
func (c *Component) LaidOut() bool {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	return c.laidOut
}

// MediaState returns the last reported media state.
func (c *Component) MediaState() (core.MediaState, bool) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	if c.media == nil {
		return core.MediaState{}, false
	}
	return *c.media, true
}

// Serialize implements core.Component.
func (c *Component) Serialize() map[string]any {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	return c.serializeLocked()
}

func (c *Component) serializeLocked() map[string]any {
	out := make(map[string]any, len(c.props)+4)
	for k, v := range c.props {
		out[k] = v
	}
	out["id"] = c.uid
	out["type"] = c.typ
	if c.id != "" {
		out["__id"] = c.id
	}
	if len(c.children) > 0 {
		children := make([]any, 0, len(c.children))
		for _, child := range c.children {
			children = append(children, child.serializeLocked())
		}
		out["children"] = children
	}
	return out
}

// SerializeDirty implements core.Component.
func (c *Component) SerializeDirty() map[string]any {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()

	out := map[string]any{"id": c.uid}
	names := make([]string, 0, len(c.dirty))
	for name := range c.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == core.PropertyNotifyChildrenChanged {
			changes := make([]any, len(c.childChanges))
			copy(changes, c.childChanges)
			out[name] = changes
			continue
		}
		out[name] = c.props[name]
	}
	return out
}

// ChildAt implements core.Component.
func (c *Component) ChildAt(index int) (core.Component, bool) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	if index < 0 || index >= len(c.children) {
		return nil, false
	}
	return c.children[index], true
}

// Update implements core.Component.
func (c *Component) Update(kind core.UpdateType, value float64) {
	c.root.mu.Lock()
	var press json.RawMessage
	switch kind {
	case core.UpdatePressed:
		press = c.onPress
	case core.UpdateTakeFocus:
		c.props["focused"] = value != 0
	case core.UpdateScrollPosition:
		c.props["scrollPosition"] = value
	case core.UpdatePagerPosition, core.UpdatePagerByEvent:
		c.props["currentPage"] = int(value)
	case core.UpdateSubmit:
		c.props["submitted"] = true
	case core.UpdateTextChange:
		c.props["textChanged"] = true
	}
	c.root.mu.Unlock()

	if len(press) > 0 {
		c.root.ExecuteCommands(press, false)
	}
}

// UpdateMediaState implements core.Component.
func (c *Component) UpdateMediaState(state core.MediaState, fromEvent bool) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	s := state
	c.media = &s
}

// UpdateGraphic implements core.Component. The AVG source must be a JSON
// object.
func (c *Component) UpdateGraphic(avg string) bool {
	var graphic map[string]any
	if err := json.Unmarshal([]byte(avg), &graphic); err != nil {
		return false
	}
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	c.props["graphic"] = graphic
	c.root.markDirtyLocked(c, "graphic")
	return true
}

// EnsureLayout implements core.Component.
func (c *Component) EnsureLayout() {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()
	c.laidOut = true
}

var bindingExpr = regexp.MustCompile(`\$\{([^}]*)\}`)

// resolveValue evaluates ${path} data-binding expressions inside v. A
// string that is exactly one expression takes the bound value's type;
// anything else is string interpolation. Unresolvable paths become "".
func resolveValue(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = resolveValue(elem, ctx)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = resolveValue(elem, ctx)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, ctx map[string]any) any {
	if m := bindingExpr.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		v, ok := lookupPath(ctx, s[m[2]:m[3]])
		if !ok {
			return ""
		}
		return v
	}
	return bindingExpr.ReplaceAllStringFunc(s, func(expr string) string {
		v, ok := lookupPath(ctx, expr[2:len(expr)-1])
		if !ok || v == nil {
			return ""
		}
		if str, isStr := v.(string); isStr {
			return str
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	})
}

func lookupPath(ctx map[string]any, path string) (any, bool) {
	var cur any = ctx
	for _, part := range strings.Split(strings.TrimSpace(path), ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
