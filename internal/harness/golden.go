package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/aplbridge/internal/protocol"
)

// Snapshot renders a result as canonical JSON for golden comparison.
// Payloads are left out: a golden trace pins down which messages and
// callbacks happen, in what order, under which token and seqno.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, e := range result.Trace {
		event := map[string]any{
			"seq":  e.Seq,
			"kind": e.Kind,
			"type": e.Type,
		}
		if e.Token != "" {
			event["token"] = e.Token
		}
		if e.Seqno != 0 {
			event["seqno"] = e.Seqno
		}
		if e.OK != nil {
			event["ok"] = *e.OK
		}
		if e.Detail != "" {
			event["detail"] = e.Detail
		}
		trace[i] = event
	}
	return protocol.MarshalCanonical(map[string]any{
		"scenario": name,
		"state":    result.State,
		"trace":    trace,
	})
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
