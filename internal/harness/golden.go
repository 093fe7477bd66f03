package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where RunWithGolden keeps trace fixtures, relative to the
// test's package directory.
const GoldenDir = "testdata/golden"

// TraceSnapshot is the golden form of a run: the scenario name and its trace.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
// Field order is fixed by the struct, so equal traces give equal bytes.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs scenario and checks its trace against
// GoldenDir/<name>.golden. A mismatch fails t; pass -update to rewrite the
// fixture.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...RunOption) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden checks an existing result against its golden trace.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t, goldie.WithFixtureDir(GoldenDir), goldie.WithNameSuffix(".golden"))
	g.Assert(t, scenarioName, data)
	return nil
}
