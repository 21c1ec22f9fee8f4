package memcore

import (
	"encoding/json"
	"sync"

	"github.com/roach88/aplbridge/internal/core"
)

// DataSource is a memcore core.DataSourceProvider for list data sources.
// Updates carry a listId and the items to append:
//
//	{"listId": "L1", "listVersion": 2, "items": [...]}
type DataSource struct {
	mu      sync.Mutex
	lists   map[string][]any
	version map[string]int
	errors  []any
}

var _ core.DataSourceProvider = (*DataSource)(nil)

// NewDataSource creates an empty provider.
func NewDataSource() *DataSource {
	return &DataSource{
		lists:   make(map[string][]any),
		version: make(map[string]int),
	}
}

type listUpdate struct {
	ListID      string `json:"listId"`
	ListVersion *int   `json:"listVersion"`
	Items       []any  `json:"items"`
}

// ProcessUpdate implements core.DataSourceProvider. Malformed payloads and
// out-of-order list versions are rejected and queued as errors.
func (d *DataSource) ProcessUpdate(payload string) bool {
	var u listUpdate
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		d.ReportError(map[string]any{"reason": "INVALID_PAYLOAD", "message": err.Error()})
		return false
	}
	if u.ListID == "" {
		d.ReportError(map[string]any{"reason": "MISSING_LIST_ID", "message": "update has no listId"})
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ListVersion != nil {
		if *u.ListVersion <= d.version[u.ListID] {
			d.errors = append(d.errors, map[string]any{
				"reason":      "DUPLICATE_LIST_VERSION",
				"listId":      u.ListID,
				"listVersion": *u.ListVersion,
			})
			return false
		}
		d.version[u.ListID] = *u.ListVersion
	}
	d.lists[u.ListID] = append(d.lists[u.ListID], u.Items...)
	return true
}

// PendingErrors implements core.DataSourceProvider.
func (d *DataSource) PendingErrors() []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.errors
	d.errors = nil
	return out
}

// ReportError queues an error for the next PendingErrors call.
func (d *DataSource) ReportError(e any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, e)
}

// Items returns the accumulated items of a list.
func (d *DataSource) Items(listID string) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]any, len(d.lists[listID]))
	copy(out, d.lists[listID])
	return out
}
