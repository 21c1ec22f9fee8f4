package memcore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roach88/aplbridge/internal/core"
)

// genericCommands are executed by the view host and forwarded as
// EventGeneric with a pending action.
var genericCommands = map[string]bool{
	"SpeakItem":         true,
	"SpeakList":         true,
	"PlayMedia":         true,
	"ControlMedia":      true,
	"Scroll":            true,
	"ScrollToIndex":     true,
	"ScrollToComponent": true,
	"SetPage":           true,
	"AutoPage":          true,
	"SetFocus":          true,
	"ClearFocus":        true,
	"AnimateItem":       true,
}

// localCommands run entirely inside the engine.
var localCommands = map[string]bool{
	"SendEvent":  true,
	"SetValue":   true,
	"Idle":       true,
	"Finish":     true,
	"OpenURL":    true,
	"InsertItem": true,
	"RemoveItem": true,
	"Sequential": true,
	"Parallel":   true,
}

// sequence is one ExecuteCommands batch. It resolves once every action it
// waits on resolved and its idle deadline passed; it terminates when any
// action terminates or execution is cancelled.
type sequence struct {
	future     *core.Future
	waits      []*core.Future
	idleUntil  time.Duration
	screenLock bool
}

func (s *sequence) state(elapsed time.Duration) core.Outcome {
	for _, w := range s.waits {
		switch w.Result().Outcome {
		case core.OutcomeTerminated:
			return core.OutcomeTerminated
		case core.OutcomePending:
			return core.OutcomePending
		}
	}
	if elapsed < s.idleUntil {
		return core.OutcomePending
	}
	return core.OutcomeResolved
}

// ExecuteCommands implements core.RootContext. The batch is validated as a
// whole: malformed JSON, a command without a type, an unknown command or an
// undeclared extension alias rejects everything and returns nil. In fast
// mode Idle delays and view-host commands are skipped.
func (r *Root) ExecuteCommands(commands json.RawMessage, fastMode bool) *core.Future {
	var parsed any
	if err := json.Unmarshal(commands, &parsed); err != nil {
		return nil
	}
	var list []any
	switch v := parsed.(type) {
	case []any:
		list = v
	case map[string]any:
		list = []any{v}
	default:
		return nil
	}

	flat, ok := r.flatten(list, 0)
	if !ok {
		return nil
	}

	ctx := r.content.boundData()
	seq := &sequence{future: core.NewFuture()}

	r.mu.Lock()
	for _, cmd := range flat {
		cmd = resolveValue(cmd, ctx).(map[string]any)
		if lock, _ := cmd["screenLock"].(bool); lock {
			seq.screenLock = true
		}
		r.runLocked(cmd, seq, fastMode, ctx)
	}
	r.sequences = append(r.sequences, seq)
	r.mu.Unlock()
	return seq.future
}

// flatten expands Sequential and Parallel and validates every command.
func (r *Root) flatten(list []any, depth int) ([]map[string]any, bool) {
	if depth > maxInflateDepth {
		return nil, false
	}
	var out []map[string]any
	for _, item := range list {
		cmd, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		typ, _ := cmd["type"].(string)
		switch {
		case typ == "":
			return nil, false
		case typ == "Sequential" || typ == "Parallel":
			nested, _ := cmd["commands"].([]any)
			inner, ok := r.flatten(nested, depth+1)
			if !ok {
				return nil, false
			}
			out = append(out, inner...)
		case localCommands[typ] || genericCommands[typ]:
			out = append(out, cmd)
		default:
			alias, _, found := strings.Cut(typ, ":")
			if !found {
				return nil, false
			}
			if _, ok := r.content.extensionURI(alias); !ok {
				return nil, false
			}
			out = append(out, cmd)
		}
	}
	return out, true
}

func (r *Root) runLocked(cmd map[string]any, seq *sequence, fastMode bool, ctx map[string]any) {
	typ := cmd["type"].(string)
	switch typ {
	case "SendEvent":
		args, _ := cmd["arguments"].([]any)
		if args == nil {
			args = []any{}
		}
		r.events = append(r.events, core.Event{
			Type: core.EventSendEvent,
			Properties: map[string]any{
				core.PropertyArgument: args,
				core.PropertySource:   map[string]any{"type": "Document", "handler": "Commands"},
				"components":          map[string]any{},
			},
		})
	case "SetValue":
		id, _ := cmd["componentId"].(string)
		prop, _ := cmd["property"].(string)
		if id != "" && prop != "" {
			r.setPropertyLocked(id, prop, cmd["value"])
		}
	case "Idle":
		if fastMode {
			return
		}
		if ms, ok := cmd["delay"].(float64); ok && ms > 0 {
			until := r.elapsed + time.Duration(ms*float64(time.Millisecond))
			if until > seq.idleUntil {
				seq.idleUntil = until
			}
		}
	case "Finish":
		reason, _ := cmd["reason"].(string)
		if reason == "" {
			reason = "back"
		}
		r.events = append(r.events, core.Event{
			Type:       core.EventFinish,
			Properties: map[string]any{"reason": reason},
		})
	case "OpenURL":
		action := core.NewFuture()
		seq.waits = append(seq.waits, action)
		r.events = append(r.events, core.Event{
			Type:       core.EventOpenURL,
			Properties: map[string]any{core.PropertySource: cmd["source"]},
			Action:     action,
		})
	case "InsertItem":
		id, _ := cmd["componentId"].(string)
		index := -1
		if at, ok := cmd["at"].(float64); ok {
			index = int(at)
		}
		if item, ok := cmd["item"].(map[string]any); ok {
			r.insertLocked(id, index, item, ctx)
		}
	case "RemoveItem":
		id, _ := cmd["componentId"].(string)
		r.removeLocked(id)
	default:
		if genericCommands[typ] {
			if fastMode {
				return
			}
			props := make(map[string]any, len(cmd))
			for k, v := range cmd {
				props[k] = v
			}
			action := core.NewFuture()
			seq.waits = append(seq.waits, action)
			r.events = append(r.events, core.Event{Type: core.EventGeneric, Properties: props, Action: action})
			return
		}
		alias, name, _ := strings.Cut(typ, ":")
		uri, _ := r.content.extensionURI(alias)
		params := make(map[string]any, len(cmd))
		for k, v := range cmd {
			if k == "type" || k == "screenLock" {
				continue
			}
			params[k] = v
		}
		action := core.NewFuture()
		seq.waits = append(seq.waits, action)
		r.events = append(r.events, core.Event{
			Type: core.EventExtension,
			Properties: map[string]any{
				core.PropertyURI:    uri,
				core.PropertyName:   name,
				core.PropertySource: map[string]any{"type": "Document"},
				core.PropertyParams: params,
			},
			Action: action,
		})
	}
}

// CancelExecution implements core.RootContext: every running sequence and
// every action it waits on terminates.
func (r *Root) CancelExecution() {
	r.mu.Lock()
	r.cancelled++
	r.mu.Unlock()
	r.settleSequences(true)
}

// Cancellations counts CancelExecution calls.
func (r *Root) Cancellations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// PendingSequences counts command batches that have not settled.
func (r *Root) PendingSequences() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sequences)
}

// settleSequences evaluates running sequences and settles the finished
// ones outside the lock, since observers may call back into the root.
func (r *Root) settleSequences(cancel bool) {
	var resolve, terminate []*core.Future

	r.mu.Lock()
	kept := r.sequences[:0]
	for _, s := range r.sequences {
		if cancel {
			terminate = append(terminate, s.waits...)
			terminate = append(terminate, s.future)
			continue
		}
		switch s.state(r.elapsed) {
		case core.OutcomeResolved:
			resolve = append(resolve, s.future)
		case core.OutcomeTerminated:
			terminate = append(terminate, s.future)
		default:
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(r.sequences); i++ {
		r.sequences[i] = nil
	}
	r.sequences = kept
	r.mu.Unlock()

	for _, f := range terminate {
		f.Terminate()
	}
	for _, f := range resolve {
		f.Resolve()
	}
}
