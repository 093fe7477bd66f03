package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario starts named workers, drives them through a list of steps and
// asserts on what the host saw.
type Scenario struct {
	// Name uniquely identifies this scenario. It scopes process IDs and
	// names the golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Workers are started in order before the first step.
	Workers []Worker `yaml:"workers" json:"workers"`

	// Steps run in order on the harness goroutine.
	Steps []Step `yaml:"steps" json:"steps"`

	// Assertions validate deliveries, finalization, the trace and the journal.
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// Worker declares a bridge worker backed by one of the built-in transforms.
type Worker struct {
	Name    string `yaml:"name" json:"name"`
	Builtin string `yaml:"builtin" json:"builtin"`
}

// Step is one harness action.
type Step struct {
	// Op is one of send, await, close or collect.
	Op string `yaml:"op" json:"op"`

	// Worker names the target worker. Not used by collect.
	Worker string `yaml:"worker,omitempty" json:"worker,omitempty"`

	// Text is the message for text workers.
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// Data is the message for data-echo workers. It travels as an opaque
	// []byte payload.
	Data string `yaml:"data,omitempty" json:"data,omitempty"`

	// Count is the delivery total await waits for. Zero means every message
	// sent to the worker so far.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "delivered_count": worker received exactly Count results
	// - "delivered_order": worker received exactly Values, in order
	// - "finalized_count": exactly Count sent data payloads were finalized
	// - "trace_count": Event occurred Count times (optionally for Worker)
	// - "journal_count": the journal holds Count rows of Event (optionally for Worker)
	Type string `yaml:"type" json:"type"`

	Worker string   `yaml:"worker,omitempty" json:"worker,omitempty"`
	Count  int      `yaml:"count,omitempty" json:"count,omitempty"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
	Event  string   `yaml:"event,omitempty" json:"event,omitempty"`
}

// Built-in worker transforms.
const (
	BuiltinEcho     = "echo"
	BuiltinDataEcho = "data-echo"
	BuiltinUpper    = "upper"
)

// Step operations.
const (
	OpSend    = "send"
	OpAwait   = "await"
	OpClose   = "close"
	OpCollect = "collect"
)

// Assertion type constants.
const (
	AssertDeliveredCount = "delivered_count"
	AssertDeliveredOrder = "delivered_order"
	AssertFinalizedCount = "finalized_count"
	AssertTraceCount     = "trace_count"
	AssertJournalCount   = "journal_count"
)

var (
	builtins       = []string{BuiltinEcho, BuiltinDataEcho, BuiltinUpper}
	ops            = []string{OpSend, OpAwait, OpClose, OpCollect}
	assertionTypes = []string{AssertDeliveredCount, AssertDeliveredOrder, AssertFinalizedCount, AssertTraceCount, AssertJournalCount}
	eventTypes     = []string{"send", "deliver", "close"}
)

// maxSuggestDistance bounds how far a typo may be from a known name before
// no suggestion is offered.
const maxSuggestDistance = 3

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := checkSchema(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file under path, or path itself
// when it names a file. Scenarios are returned sorted by file path.
func LoadScenarios(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios: %w", err)
	}
	if !info.IsDir() {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []*Scenario{s}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	sort.Strings(files)

	scenarios := make([]*Scenario, 0, len(files))
	seen := make(map[string]string)
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", f, s.Name, prev)
		}
		seen[s.Name] = f
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and that steps
// and assertions refer to declared workers.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Workers) == 0 {
		return fmt.Errorf("workers list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	declared := make(map[string]Worker, len(s.Workers))
	names := make([]string, 0, len(s.Workers))
	for i, w := range s.Workers {
		if w.Name == "" {
			return fmt.Errorf("workers[%d]: name is required", i)
		}
		if _, dup := declared[w.Name]; dup {
			return fmt.Errorf("workers[%d]: duplicate worker name %q", i, w.Name)
		}
		if !slices.Contains(builtins, w.Builtin) {
			return fmt.Errorf("workers[%d]: unknown builtin %q%s", i, w.Builtin, suggest(w.Builtin, builtins))
		}
		declared[w.Name] = w
		names = append(names, w.Name)
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, declared, names); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, declared, names); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *Step, declared map[string]Worker, names []string) error {
	if step.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}
	if !slices.Contains(ops, step.Op) {
		return fmt.Errorf("steps[%d]: unknown op %q%s", index, step.Op, suggest(step.Op, ops))
	}
	if step.Count < 0 {
		return fmt.Errorf("steps[%d]: count must be non-negative", index)
	}

	if step.Op == OpCollect {
		if step.Worker != "" {
			return fmt.Errorf("steps[%d]: collect does not take a worker", index)
		}
		return nil
	}

	w, err := lookupWorker(fmt.Sprintf("steps[%d]", index), step.Worker, declared, names)
	if err != nil {
		return err
	}

	if step.Op == OpSend {
		if w.Builtin == BuiltinDataEcho && step.Text != "" {
			return fmt.Errorf("steps[%d]: %s is a data-echo worker; use data, not text", index, w.Name)
		}
		if w.Builtin != BuiltinDataEcho && step.Data != "" {
			return fmt.Errorf("steps[%d]: %s is a text worker; use text, not data", index, w.Name)
		}
	} else if step.Text != "" || step.Data != "" {
		return fmt.Errorf("steps[%d]: text and data are only valid for send", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, declared map[string]Worker, names []string) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
	}
	where := fmt.Sprintf("assertions[%d]", index)

	switch a.Type {
	case AssertDeliveredCount:
		if _, err := lookupWorker(where, a.Worker, declared, names); err != nil {
			return err
		}
	case AssertDeliveredOrder:
		if _, err := lookupWorker(where, a.Worker, declared, names); err != nil {
			return err
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("%s: values list is required for delivered_order", where)
		}
	case AssertFinalizedCount:
	case AssertTraceCount, AssertJournalCount:
		if a.Event == "" {
			return fmt.Errorf("%s: event is required for %s", where, a.Type)
		}
		if !slices.Contains(eventTypes, a.Event) {
			return fmt.Errorf("%s: unknown event %q%s", where, a.Event, suggest(a.Event, eventTypes))
		}
		if a.Worker != "" {
			if _, err := lookupWorker(where, a.Worker, declared, names); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q%s", where, a.Type, suggest(a.Type, assertionTypes))
	}

	return nil
}

func lookupWorker(where, name string, declared map[string]Worker, names []string) (Worker, error) {
	if name == "" {
		return Worker{}, fmt.Errorf("%s: worker is required", where)
	}
	w, ok := declared[name]
	if !ok {
		return Worker{}, fmt.Errorf("%s: undeclared worker %q%s", where, name, suggest(name, names))
	}
	return w, nil
}

// suggest returns a " (did you mean ...?)" hint for the closest option, or
// "" when nothing is close enough.
func suggest(got string, options []string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, o := range options {
		if d := levenshtein.ComputeDistance(got, o); d < bestDist {
			best, bestDist = o, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}
