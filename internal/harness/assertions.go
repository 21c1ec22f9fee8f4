package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/aplbridge/internal/journal"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Kind, event.Type)
			if event.Seqno != 0 {
				fmt.Fprintf(&buf, " #%d", event.Seqno)
			}
			if event.OK != nil {
				fmt.Fprintf(&buf, " ok=%t", *event.OK)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

func sends(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, e := range trace {
		if e.Kind == KindSend {
			out = append(out, e)
		}
	}
	return out
}

func assertMessageContains(trace []TraceEvent, a Assertion) error {
	for _, e := range sends(trace) {
		if e.Type == a.Message && matchPayload(e.Payload, a.Payload) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertMessageContains,
		Expected: fmt.Sprintf("%s message with payload %v", a.Message, a.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertMessageOrder checks the first occurrence of each type appears in
// order. Other messages may come in between.
func assertMessageOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, e := range sends(trace) {
		if _, seen := positions[e.Type]; !seen {
			positions[e.Type] = i + 1
		}
	}

	for _, msg := range a.Messages {
		if positions[msg] == 0 {
			return &AssertionError{
				Type:     AssertMessageOrder,
				Expected: fmt.Sprintf("all messages present: %v", a.Messages),
				Actual:   fmt.Sprintf("missing message: %s", msg),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Messages); i++ {
		prev, curr := a.Messages[i-1], a.Messages[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertMessageOrder,
				Expected: fmt.Sprintf("messages in order: %v", a.Messages),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertMessageCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range sends(trace) {
		if e.Type == a.Message && matchPayload(e.Payload, a.Payload) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertMessageCount,
			Expected: fmt.Sprintf("%d %s messages", *a.Count, a.Message),
			Actual:   fmt.Sprintf("%d messages", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertCallback(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Kind != KindCallback || e.Type != a.Name {
			continue
		}
		if a.OK != nil && (e.OK == nil || *e.OK != *a.OK) {
			continue
		}
		if a.Detail != "" && e.Detail != a.Detail {
			continue
		}
		if !matchPayload(e.Payload, a.Payload) {
			continue
		}
		count++
	}

	want := fmt.Sprintf("callback %s", a.Name)
	if a.OK != nil {
		want += fmt.Sprintf(" ok=%t", *a.OK)
	}
	if a.Detail != "" {
		want += fmt.Sprintf(" detail=%q", a.Detail)
	}
	switch {
	case a.Count != nil && count != *a.Count:
		return &AssertionError{
			Type:     AssertCallback,
			Expected: fmt.Sprintf("%d x %s", *a.Count, want),
			Actual:   fmt.Sprintf("%d matching callbacks", count),
			Trace:    trace,
		}
	case a.Count == nil && count == 0:
		return &AssertionError{
			Type:     AssertCallback,
			Expected: want,
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}
	return nil
}

func assertFinalState(state FinalState, a Assertion) error {
	actual := map[string]any{
		"state":     state.State,
		"token":     state.Token,
		"backstack": state.Backstack,
	}
	for key, expected := range a.Expect {
		value, ok := actual[key]
		if !ok {
			return fmt.Errorf("final_state: unknown field %q", key)
		}
		if !valuesEqual(normalize(value), normalize(expected)) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v", key, expected),
				Actual:   fmt.Sprintf("%s = %v", key, value),
			}
		}
	}
	return nil
}

func assertJournalContains(ctx context.Context, j *journal.Journal, sessionID string, a Assertion) error {
	entries, err := j.Entries(ctx, journal.Filter{Session: sessionID})
	if err != nil {
		return fmt.Errorf("journal_contains: %w", err)
	}
	for _, e := range entries {
		if e.Type != a.Message || (a.Direction != "" && e.Direction != a.Direction) {
			continue
		}
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			continue
		}
		if matchPayload(payload, a.Payload) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertJournalContains,
		Expected: fmt.Sprintf("%s %s entry with payload %v", a.Direction, a.Message, a.Payload),
		Actual:   fmt.Sprintf("not found among %d entries", len(entries)),
	}
}

// matchPayload is a recursive subset match: every key of expected must be
// present in actual with a matching value. Extra keys are fine.
func matchPayload(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	return subset(normalize(actual), normalize(expected))
}

func subset(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, v := range exp {
			av, exists := act[key]
			if !exists || !subset(av, v) {
				return false
			}
		}
		return true
	default:
		return valuesEqual(actual, expected)
	}
}

// normalize passes a value through JSON so YAML ints and JSON floats
// compare equal.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	return reflect.DeepEqual(actual, expected)
}

// AssertionContext gives assertions access to the scenario's journal.
type AssertionContext struct {
	Journal *journal.Journal
	Session string
	Ctx     context.Context
}

// EvaluateAssertions returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMessageContains:
			err = assertMessageContains(result.Trace, a)
		case AssertMessageOrder:
			err = assertMessageOrder(result.Trace, a)
		case AssertMessageCount:
			err = assertMessageCount(result.Trace, a)
		case AssertCallback:
			err = assertCallback(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		case AssertJournalContains:
			if actx == nil || actx.Journal == nil {
				err = fmt.Errorf("assertion[%d]: journal_contains requires a journal", i)
			} else {
				err = assertJournalContains(actx.Ctx, actx.Journal, actx.Session, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
