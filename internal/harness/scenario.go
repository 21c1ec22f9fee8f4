package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one conformance test.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Documents maps a name used by render steps to APL document JSON.
	Documents map[string]string `yaml:"documents"`

	// DocumentFiles maps names to files holding document JSON, relative to
	// the scenario file.
	DocumentFiles map[string]string `yaml:"document_files,omitempty"`

	// Packages answers package downloads by URL. Anything else fails.
	Packages map[string]string `yaml:"packages,omitempty"`

	Viewport Viewport `yaml:"viewport"`

	// Measure, when set, is what the simulated view host answers to every
	// measure and baseline request. Unanswered requests time out and the
	// session falls back to its default size.
	Measure *MeasureReply `yaml:"measure,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Viewport is the surface described by build steps.
type Viewport struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	DPI    float64 `yaml:"dpi"`
	Mode   string  `yaml:"mode"`
	Shape  string  `yaml:"shape"`
}

// MeasureReply is the simulated view host's text measurement.
type MeasureReply struct {
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	Baseline float64 `yaml:"baseline"`
}

// Step is one host or view host action. Exactly one field is set.
type Step struct {
	Render     *RenderStep      `yaml:"render,omitempty"`
	Build      bool             `yaml:"build,omitempty"`
	Message    map[string]any   `yaml:"message,omitempty"`
	Commands   []map[string]any `yaml:"commands,omitempty"`
	Tick       int              `yaml:"tick,omitempty"`
	Interrupt  bool             `yaml:"interrupt,omitempty"`
	Back       bool             `yaml:"back,omitempty"`
	Clear      bool             `yaml:"clear,omitempty"`
	DataSource *DataSourceStep  `yaml:"datasource,omitempty"`
}

// RenderStep renders a named document.
type RenderStep struct {
	Document           string `yaml:"document"`
	Token              string `yaml:"token,omitempty"`
	Data               string `yaml:"data,omitempty"`
	SupportedViewports string `yaml:"supported_viewports,omitempty"`
}

// DataSourceStep delivers a data-source update.
type DataSourceStep struct {
	Type    string `yaml:"type"`
	Payload string `yaml:"payload"`
}

// Assertion checks the trace, the final state or the journal.
type Assertion struct {
	Type string `yaml:"type"`

	// Message is the message type for message_contains and message_count,
	// the entry type for journal_contains.
	Message string `yaml:"message,omitempty"`

	// Messages is the expected order for message_order.
	Messages []string `yaml:"messages,omitempty"`

	// Payload is a subset the payload must contain.
	Payload map[string]any `yaml:"payload,omitempty"`

	Count *int `yaml:"count,omitempty"`

	// Name, OK and Detail select a callback.
	Name   string `yaml:"name,omitempty"`
	OK     *bool  `yaml:"ok,omitempty"`
	Detail string `yaml:"detail,omitempty"`

	// Direction is "in" or "out" for journal_contains.
	Direction string `yaml:"direction,omitempty"`

	// Expect holds final_state fields: state, token, backstack.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertMessageContains = "message_contains"
	AssertMessageOrder    = "message_order"
	AssertMessageCount    = "message_count"
	AssertCallback        = "callback"
	AssertFinalState      = "final_state"
	AssertJournalContains = "journal_contains"
)

// LoadScenario reads a scenario file. Unknown fields are rejected so typos
// fail loudly. Document files resolve relative to the scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for name, file := range s.DocumentFiles {
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", name, err)
		}
		if s.Documents == nil {
			s.Documents = map[string]string{}
		}
		s.Documents[name] = string(body)
	}

	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// ParseScenario decodes scenario YAML without validating document
// references.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.Viewport == (Viewport{}) {
		s.Viewport = Viewport{Width: 1024, Height: 600, DPI: 160, Mode: "hub", Shape: "rectangle"}
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Render != nil {
			if _, ok := s.Documents[step.Render.Document]; !ok {
				return fmt.Errorf("steps[%d]: unknown document %q", i, step.Render.Document)
			}
		}
		if step.DataSource != nil && step.DataSource.Type == "" {
			return fmt.Errorf("steps[%d]: datasource type is required", i)
		}
		if step.Tick < 0 {
			return fmt.Errorf("steps[%d]: tick must be non-negative", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Render != nil,
		s.Build,
		s.Message != nil,
		s.Commands != nil,
		s.Tick > 0,
		s.Interrupt,
		s.Back,
		s.Clear,
		s.DataSource != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMessageContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for message_contains", index)
		}
	case AssertMessageOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for message_order", index)
		}
	case AssertMessageCount:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for message_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for message_count", index)
		}
	case AssertCallback:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for callback", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertJournalContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for journal_contains", index)
		}
		if a.Direction != "" && a.Direction != "in" && a.Direction != "out" {
			return fmt.Errorf("assertions[%d]: direction must be in or out", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
