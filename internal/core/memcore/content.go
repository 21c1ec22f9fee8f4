package memcore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/aplbridge/internal/core"
)

// document is the subset of an APL document memcore understands.
type document struct {
	Type          string                     `json:"type"`
	Version       string                     `json:"version"`
	Theme         string                     `json:"theme"`
	Background    any                        `json:"background"`
	Import        []importSpec               `json:"import"`
	Layouts       map[string]json.RawMessage `json:"layouts"`
	MainTemplate  *mainTemplate              `json:"mainTemplate"`
	Settings      map[string]any             `json:"settings"`
	Extensions    []extensionSpec            `json:"extensions"`
	HandleKeyDown []keyHandler               `json:"handleKeyDown"`
	HandleKeyUp   []keyHandler               `json:"handleKeyUp"`
}

type importSpec struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
}

type mainTemplate struct {
	Parameters []string        `json:"parameters"`
	Items      json.RawMessage `json:"items"`
	Item       json.RawMessage `json:"item"`
}

type extensionSpec struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type keyHandler struct {
	Code     string          `json:"code"`
	Commands json.RawMessage `json:"commands"`
}

type packageState struct {
	req      core.ImportRequest
	resolved bool
}

// Content is the memcore core.Content.
type Content struct {
	mu       sync.Mutex
	doc      document
	data     map[string]string
	packages map[string]*packageState
	order    []string
	layouts  map[string]json.RawMessage
	err      error
}

var _ core.Content = (*Content)(nil)

func newContent(text string) (*Content, error) {
	var doc document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("memcore: parse document: %w", err)
	}
	if doc.Type != "APL" {
		return nil, fmt.Errorf("memcore: document type %q is not APL", doc.Type)
	}
	if doc.MainTemplate == nil {
		return nil, fmt.Errorf("memcore: document has no mainTemplate")
	}

	c := &Content{
		doc:      doc,
		data:     make(map[string]string),
		packages: make(map[string]*packageState),
		layouts:  make(map[string]json.RawMessage),
	}
	for name, l := range doc.Layouts {
		c.layouts[name] = l
	}
	for _, imp := range doc.Import {
		c.request(imp)
	}
	return c, nil
}

func packageKey(name, version string) string {
	return name + "@" + version
}

// request registers an import; caller holds mu or is the constructor.
func (c *Content) request(imp importSpec) {
	key := packageKey(imp.Name, imp.Version)
	if _, ok := c.packages[key]; ok {
		return
	}
	c.packages[key] = &packageState{req: core.ImportRequest{Name: imp.Name, Version: imp.Version, Source: imp.Source}}
	c.order = append(c.order, key)
}

// APLVersion implements core.Content.
func (c *Content) APLVersion() string {
	return c.doc.Version
}

// Parameters implements core.Content.
func (c *Content) Parameters() []string {
	out := make([]string, len(c.doc.MainTemplate.Parameters))
	copy(out, c.doc.MainTemplate.Parameters)
	return out
}

// AddData implements core.Content. Data that is not valid JSON puts the
// content into the error state.
func (c *Content) AddData(name string, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !json.Valid([]byte(data)) {
		c.err = fmt.Errorf("memcore: parameter %q: invalid JSON data", name)
		return
	}
	c.data[name] = data
}

// IsWaiting implements core.Content.
func (c *Content) IsWaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err == nil && c.unresolvedLocked() > 0
}

// IsError implements core.Content.
func (c *Content) IsError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// Err returns the reason the content entered the error state.
func (c *Content) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsReady implements core.Content: no error, every import resolved and
// every parameter bound.
func (c *Content) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || c.unresolvedLocked() > 0 {
		return false
	}
	for _, p := range c.doc.MainTemplate.Parameters {
		if _, ok := c.data[p]; !ok {
			return false
		}
	}
	return true
}

func (c *Content) unresolvedLocked() int {
	n := 0
	for _, p := range c.packages {
		if !p.resolved {
			n++
		}
	}
	return n
}

// RequestedPackages implements core.Content.
func (c *Content) RequestedPackages() []core.ImportRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.ImportRequest
	for _, key := range c.order {
		if p := c.packages[key]; !p.resolved {
			out = append(out, p.req)
		}
	}
	return out
}

// AddPackage implements core.Content. A package body that does not parse
// puts the content into the error state; transitive imports are requested.
func (c *Content) AddPackage(req core.ImportRequest, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.packages[packageKey(req.Name, req.Version)]
	if !ok || p.resolved {
		return
	}
	p.resolved = true

	var pkg document
	if err := json.Unmarshal([]byte(body), &pkg); err != nil {
		c.err = fmt.Errorf("memcore: package %s: %w", packageKey(req.Name, req.Version), err)
		return
	}
	for name, l := range pkg.Layouts {
		if _, exists := c.layouts[name]; !exists {
			c.layouts[name] = l
		}
	}
	for _, imp := range pkg.Import {
		c.request(imp)
	}
}

// ExtensionURIs implements core.Content.
func (c *Content) ExtensionURIs() []string {
	out := make([]string, 0, len(c.doc.Extensions))
	for _, e := range c.doc.Extensions {
		out = append(out, e.URI)
	}
	return out
}

// ExtensionSettings implements core.Content. Settings are keyed by the
// extension's document alias.
func (c *Content) ExtensionSettings(uri string) map[string]any {
	for _, e := range c.doc.Extensions {
		if e.URI != uri {
			continue
		}
		if s, ok := c.doc.Settings[e.Name].(map[string]any); ok {
			return s
		}
	}
	return nil
}

// extensionURI maps a document alias to its URI.
func (c *Content) extensionURI(alias string) (string, bool) {
	for _, e := range c.doc.Extensions {
		if e.Name == alias {
			return e.URI, true
		}
	}
	return "", false
}

// boundData decodes every bound parameter for data-binding resolution.
func (c *Content) boundData() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.data))
	for name, raw := range c.data {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			out[name] = v
		}
	}
	return out
}

func (c *Content) layout(name string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.layouts[name]
	return l, ok
}
