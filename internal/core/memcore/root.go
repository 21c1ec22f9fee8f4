package memcore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/aplbridge/internal/core"
	"github.com/roach88/aplbridge/internal/metrics"
)

const (
	defaultTheme    = "dark"
	maxInflateDepth = 32
)

// ScrollRequest records the last ScrollToRectInComponent call.
type ScrollRequest struct {
	ComponentID string
	Rect        core.Rect
	Align       string
}

// Root is the memcore core.RootContext.
type Root struct {
	mu sync.Mutex

	content *Content
	metrics metrics.CoreMetrics
	cfg     core.RootConfig
	theme   string

	top     *Component
	byUID   map[string]*Component
	byID    map[string]*Component
	nextUID int

	events     []core.Event
	dirtyOrder []*Component
	sequences  []*sequence
	locks      int

	elapsed     time.Duration
	utc         time.Time
	localAdjust time.Duration
	cursor      core.Point
	lastScroll  *ScrollRequest
	lastConfig  core.ConfigurationChange
	liveData    map[string]any
	cancelled   int
}

var _ core.RootContext = (*Root)(nil)

func newRoot(m metrics.CoreMetrics, c *Content, cfg core.RootConfig) (*Root, error) {
	r := &Root{
		content:  c,
		metrics:  m,
		cfg:      cfg,
		theme:    c.doc.Theme,
		byUID:    make(map[string]*Component),
		byID:     make(map[string]*Component),
		liveData: make(map[string]any, len(cfg.LiveData)),
	}
	if r.theme == "" {
		r.theme = defaultTheme
	}
	for k, v := range cfg.LiveData {
		r.liveData[k] = v
	}

	items := normalizeItems(c.doc.MainTemplate.Items)
	if len(items) == 0 {
		items = normalizeItems(c.doc.MainTemplate.Item)
	}

	ctx := c.boundData()
	r.mu.Lock()
	for _, item := range items {
		top, err := r.inflateLocked(item, ctx, nil, 0)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if top != nil {
			r.top = top
			break
		}
	}
	r.mu.Unlock()
	if r.top == nil {
		return nil, fmt.Errorf("memcore: mainTemplate inflated no component")
	}

	if cfg.Measure != nil {
		r.measureText(r.top)
	}
	return r, nil
}

func normalizeItems(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	switch val := v.(type) {
	case []any:
		return val
	case map[string]any:
		return []any{val}
	default:
		return nil
	}
}

func itemsOf(obj map[string]any) []any {
	for _, key := range []string{"items", "item"} {
		switch v := obj[key].(type) {
		case []any:
			return v
		case map[string]any:
			return []any{v}
		}
	}
	return nil
}

// inflateLocked builds a component subtree. A nil component with a nil
// error means the item was skipped by its "when" clause.
func (r *Root) inflateLocked(raw any, ctx map[string]any, parent *Component, depth int) (*Component, error) {
	if depth > maxInflateDepth {
		return nil, fmt.Errorf("memcore: component tree deeper than %d", maxInflateDepth)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("memcore: component must be an object, got %T", raw)
	}
	if when, ok := obj["when"]; ok {
		if b, isBool := resolveValue(when, ctx).(bool); isBool && !b {
			return nil, nil
		}
	}
	typ, _ := obj["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("memcore: component has no type")
	}

	if layoutRaw, ok := r.content.layout(typ); ok {
		return r.inflateLayoutLocked(layoutRaw, obj, ctx, parent, depth)
	}

	comp := &Component{
		root:   r,
		uid:    fmt.Sprintf(":%d", 1000+r.nextUID),
		typ:    typ,
		props:  make(map[string]any),
		parent: parent,
	}
	r.nextUID++
	if id, ok := resolveValue(obj["id"], ctx).(string); ok {
		comp.id = id
	}
	for k, v := range obj {
		switch k {
		case "type", "id", "item", "items", "data", "when", "onPress":
			continue
		}
		comp.props[k] = resolveValue(v, ctx)
	}
	if press, ok := obj["onPress"]; ok {
		b, err := json.Marshal(resolveValue(press, ctx))
		if err != nil {
			return nil, fmt.Errorf("memcore: onPress: %w", err)
		}
		comp.onPress = b
	}

	r.byUID[comp.uid] = comp
	if comp.id != "" {
		if _, exists := r.byID[comp.id]; !exists {
			r.byID[comp.id] = comp
		}
	}

	templates := itemsOf(obj)
	if data, ok := resolveValue(obj["data"], ctx).([]any); ok && len(templates) > 0 {
		for i, elem := range data {
			childCtx := extend(ctx, map[string]any{"data": elem, "index": i, "length": len(data)})
			child, err := r.inflateLocked(templates[0], childCtx, comp, depth+1)
			if err != nil {
				return nil, err
			}
			if child != nil {
				comp.children = append(comp.children, child)
			}
		}
		return comp, nil
	}
	for _, t := range templates {
		child, err := r.inflateLocked(t, ctx, comp, depth+1)
		if err != nil {
			return nil, err
		}
		if child != nil {
			comp.children = append(comp.children, child)
		}
	}
	return comp, nil
}

func (r *Root) inflateLayoutLocked(layoutRaw json.RawMessage, obj map[string]any, ctx map[string]any, parent *Component, depth int) (*Component, error) {
	var l struct {
		Parameters []any           `json:"parameters"`
		Items      json.RawMessage `json:"items"`
		Item       json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(layoutRaw, &l); err != nil {
		return nil, fmt.Errorf("memcore: layout %v: %w", obj["type"], err)
	}

	bound := make(map[string]any, len(l.Parameters))
	for _, p := range l.Parameters {
		var name string
		var def any
		switch pv := p.(type) {
		case string:
			name = pv
		case map[string]any:
			name, _ = pv["name"].(string)
			def = pv["default"]
		}
		if name == "" {
			continue
		}
		if v, ok := obj[name]; ok {
			bound[name] = resolveValue(v, ctx)
		} else {
			bound[name] = def
		}
	}

	items := normalizeItems(l.Items)
	if len(items) == 0 {
		items = normalizeItems(l.Item)
	}
	layoutCtx := extend(ctx, bound)
	for _, item := range items {
		comp, err := r.inflateLocked(item, layoutCtx, parent, depth+1)
		if err != nil || comp == nil {
			if err != nil {
				return nil, err
			}
			continue
		}
		if id, ok := resolveValue(obj["id"], ctx).(string); ok && id != "" {
			comp.id = id
			r.byID[id] = comp
		}
		return comp, nil
	}
	return nil, nil
}

func extend(ctx map[string]any, add map[string]any) map[string]any {
	out := make(map[string]any, len(ctx)+len(add))
	for k, v := range ctx {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// measureText asks the view host to size every Text component. Runs
// without the root lock: the callbacks block on the view host.
func (r *Root) measureText(c *Component) {
	if c.typ == "Text" {
		size := r.cfg.Measure.Measure(c, r.metrics.Width, core.MeasureAtMost, r.metrics.Height, core.MeasureAtMost)
		baseline := r.cfg.Measure.Baseline(c, size.Width, size.Height)
		r.mu.Lock()
		c.measured = &size
		c.baseline = baseline
		r.mu.Unlock()
	}
	for _, child := range c.children {
		r.measureText(child)
	}
}

// Theme implements core.RootContext.
func (r *Root) Theme() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.theme
}

// Background implements core.RootContext.
func (r *Root) Background() core.Background {
	switch bg := r.content.doc.Background.(type) {
	case string:
		return core.Background{Color: bg}
	case map[string]any:
		return core.Background{Gradient: bg}
	default:
		return core.Background{}
	}
}

// Top implements core.RootContext.
func (r *Root) Top() core.Component {
	return r.top
}

// IdleTimeout implements core.RootContext. The document declares it in
// milliseconds under settings.idleTimeout.
func (r *Root) IdleTimeout() (time.Duration, bool) {
	ms, ok := r.content.doc.Settings["idleTimeout"].(float64)
	if !ok || ms < 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// Metrics returns the core metrics the root was inflated with.
func (r *Root) Metrics() metrics.CoreMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// Config returns the root configuration.
func (r *Root) Config() core.RootConfig {
	return r.cfg
}

// UpdateTime implements core.RootContext.
func (r *Root) UpdateTime(elapsed time.Duration, utc time.Time) {
	r.mu.Lock()
	r.elapsed = elapsed
	r.utc = utc
	r.mu.Unlock()
}

// Elapsed returns the last elapsed time the bridge reported.
func (r *Root) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// UTC returns the last wall-clock time the bridge reported.
func (r *Root) UTC() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.utc
}

// SetLocalTimeAdjustment implements core.RootContext.
func (r *Root) SetLocalTimeAdjustment(offset time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localAdjust = offset
}

// LocalTimeAdjustment returns the configured timezone offset.
func (r *Root) LocalTimeAdjustment() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localAdjust
}

// ClearPending implements core.RootContext: settles command sequences
// whose waits completed.
func (r *Root) ClearPending() {
	r.settleSequences(false)
}

// HasEvent implements core.RootContext.
func (r *Root) HasEvent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events) > 0
}

// PopEvent implements core.RootContext. Popping an empty queue returns the
// zero Event.
func (r *Root) PopEvent() core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return core.Event{}
	}
	ev := r.events[0]
	r.events = r.events[1:]
	return ev
}

// PushEvent queues an engine event.
func (r *Root) PushEvent(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// IsDirty implements core.RootContext.
func (r *Root) IsDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirtyOrder) > 0
}

// Dirty implements core.RootContext. Components are returned in the order
// they first became dirty.
func (r *Root) Dirty() []core.Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Component, 0, len(r.dirtyOrder))
	for _, c := range r.dirtyOrder {
		out = append(out, c)
	}
	return out
}

// ClearDirty implements core.RootContext.
func (r *Root) ClearDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.dirtyOrder {
		c.dirty = nil
		c.childChanges = nil
	}
	r.dirtyOrder = nil
}

func (r *Root) markDirtyLocked(c *Component, prop string) {
	if len(c.dirty) == 0 {
		r.dirtyOrder = append(r.dirtyOrder, c)
	}
	if c.dirty == nil {
		c.dirty = make(map[string]bool)
	}
	c.dirty[prop] = true
}

// ScreenLock implements core.RootContext.
func (r *Root) ScreenLock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks > 0 {
		return true
	}
	for _, s := range r.sequences {
		if s.screenLock {
			return true
		}
	}
	return false
}

// AcquireScreenLock holds the screen lock until ReleaseScreenLock.
func (r *Root) AcquireScreenLock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks++
}

// ReleaseScreenLock drops one AcquireScreenLock hold.
func (r *Root) ReleaseScreenLock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks > 0 {
		r.locks--
	}
}

// FindComponentByID implements core.RootContext. Unique ids are matched
// before document ids.
func (r *Root) FindComponentByID(id string) (core.Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.findLocked(id); ok {
		return c, true
	}
	return nil, false
}

func (r *Root) findLocked(id string) (*Component, bool) {
	if c, ok := r.byUID[id]; ok {
		return c, true
	}
	c, ok := r.byID[id]
	return c, ok
}

// SetProperty changes a component property and marks it dirty.
func (r *Root) SetProperty(id, prop string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setPropertyLocked(id, prop, value)
}

func (r *Root) setPropertyLocked(id, prop string, value any) bool {
	c, ok := r.findLocked(id)
	if !ok {
		return false
	}
	c.props[prop] = value
	r.markDirtyLocked(c, prop)
	return true
}

// InsertChild inflates item under the component with the given id. An
// index out of range appends.
func (r *Root) InsertChild(parentID string, index int, item map[string]any) bool {
	ctx := r.content.boundData()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(parentID, index, item, ctx)
}

func (r *Root) insertLocked(parentID string, index int, item any, ctx map[string]any) bool {
	parent, ok := r.findLocked(parentID)
	if !ok {
		return false
	}
	child, err := r.inflateLocked(item, ctx, parent, 0)
	if err != nil || child == nil {
		return false
	}
	if index < 0 || index > len(parent.children) {
		index = len(parent.children)
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[index+1:], parent.children[index:])
	parent.children[index] = child

	parent.childChanges = append(parent.childChanges, map[string]any{
		"uid":    child.uid,
		"index":  index,
		"action": "insert",
	})
	r.markDirtyLocked(parent, core.PropertyNotifyChildrenChanged)
	return true
}

// RemoveComponent detaches a component from its parent.
func (r *Root) RemoveComponent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Root) removeLocked(id string) bool {
	c, ok := r.findLocked(id)
	if !ok || c.parent == nil {
		return false
	}
	parent := c.parent
	for i, child := range parent.children {
		if child != c {
			continue
		}
		parent.children = append(parent.children[:i], parent.children[i+1:]...)
		parent.childChanges = append(parent.childChanges, map[string]any{
			"uid":    c.uid,
			"index":  i,
			"action": "remove",
		})
		r.markDirtyLocked(parent, core.PropertyNotifyChildrenChanged)
		r.forgetLocked(c)
		return true
	}
	return false
}

func (r *Root) forgetLocked(c *Component) {
	delete(r.byUID, c.uid)
	if c.id != "" && r.byID[c.id] == c {
		delete(r.byID, c.id)
	}
	for _, child := range c.children {
		r.forgetLocked(child)
	}
}

// ScrollToRectInComponent implements core.RootContext.
func (r *Root) ScrollToRectInComponent(c core.Component, rect core.Rect, align string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastScroll = &ScrollRequest{ComponentID: c.UniqueID(), Rect: rect, Align: align}
}

// LastScroll returns the most recent scroll request.
func (r *Root) LastScroll() (ScrollRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastScroll == nil {
		return ScrollRequest{}, false
	}
	return *r.lastScroll, true
}

// HandleKeyboard implements core.RootContext. Key handlers are matched on
// code; a match runs the handler's commands.
func (r *Root) HandleKeyboard(kind core.KeyHandlerType, k core.Keyboard) bool {
	handlers := r.content.doc.HandleKeyDown
	if kind == core.KeyUp {
		handlers = r.content.doc.HandleKeyUp
	}
	for _, h := range handlers {
		if !strings.EqualFold(h.Code, k.Code) {
			continue
		}
		return r.ExecuteCommands(h.Commands, false) != nil
	}
	return false
}

// UpdateCursorPosition implements core.RootContext.
func (r *Root) UpdateCursorPosition(p core.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = p
}

// Cursor returns the last cursor position.
func (r *Root) Cursor() core.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// ConfigurationChange implements core.RootContext.
func (r *Root) ConfigurationChange(c core.ConfigurationChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastConfig = c
	if c.Theme != "" {
		r.theme = c.Theme
	}
	if c.Width > 0 {
		r.metrics.Width = c.Width
	}
	if c.Height > 0 {
		r.metrics.Height = c.Height
	}
	if c.Mode != "" {
		r.metrics.Mode = c.Mode
	}
}

// LastConfigurationChange returns the most recent configuration change.
func (r *Root) LastConfigurationChange() core.ConfigurationChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfig
}

// UpdateLiveData implements core.RootContext. Only live data seeded in the
// root config can be updated.
func (r *Root) UpdateLiveData(name string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.liveData[name]; !ok {
		return false
	}
	r.liveData[name] = value
	return true
}

// LiveData returns a live data object.
func (r *Root) LiveData(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.liveData[name]
	return v, ok
}
