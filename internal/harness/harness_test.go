package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipebridge/internal/store"
)

func echoScenario(name string, steps []Step, assertions []Assertion) *Scenario {
	return &Scenario{
		Name:        name,
		Description: "test scenario",
		Workers:     []Worker{{Name: "echo", Builtin: BuiltinEcho}},
		Steps:       steps,
		Assertions:  assertions,
	}
}

func TestRun_Ping(t *testing.T) {
	scenario := echoScenario("ping",
		[]Step{
			{Op: OpSend, Worker: "echo", Text: "ping"},
			{Op: OpAwait, Worker: "echo"},
			{Op: OpClose, Worker: "echo"},
		},
		[]Assertion{
			{Type: AssertDeliveredOrder, Worker: "echo", Values: []string{"ping"}},
		},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"ping"}, result.Delivered["echo"])

	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Seq: 1, Type: "send", Worker: "echo", Kind: "string", Text: "ping"}, result.Trace[0])
	assert.Equal(t, TraceEvent{Seq: 2, Type: "deliver", Worker: "echo", Kind: "string", Text: "ping"}, result.Trace[1])
	assert.Equal(t, TraceEvent{Seq: 3, Type: "close", Worker: "echo"}, result.Trace[2])
}

func TestRun_Deterministic(t *testing.T) {
	scenario := echoScenario("repeat",
		[]Step{
			{Op: OpSend, Worker: "echo", Text: "a"},
			{Op: OpSend, Worker: "echo", Text: "b"},
			{Op: OpAwait, Worker: "echo"},
		},
		[]Assertion{{Type: AssertDeliveredCount, Worker: "echo", Count: 2}},
	)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, first.Pass, "errors: %v", first.Errors)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_AwaitDefaultsToEverySent(t *testing.T) {
	scenario := echoScenario("await_all",
		[]Step{
			{Op: OpSend, Worker: "echo", Text: "1"},
			{Op: OpSend, Worker: "echo", Text: "2"},
			{Op: OpSend, Worker: "echo", Text: "3"},
			{Op: OpAwait, Worker: "echo"},
		},
		[]Assertion{{Type: AssertDeliveredOrder, Worker: "echo", Values: []string{"1", "2", "3"}}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AwaitTimeout(t *testing.T) {
	scenario := echoScenario("starved",
		[]Step{
			{Op: OpAwait, Worker: "echo", Count: 1},
			{Op: OpClose, Worker: "echo"},
		},
		[]Assertion{{Type: AssertTraceCount, Event: "close", Count: 0}},
	)

	start := time.Now()
	result, err := Run(scenario, WithAwaitTimeout(50*time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1, "later steps must not run after a failure")
	assert.Contains(t, result.Errors[0], "steps[0] await: timed out")
}

func TestRun_DataEchoFinalizesOnCollect(t *testing.T) {
	scenario := &Scenario{
		Name:        "data",
		Description: "opaque round trip",
		Workers:     []Worker{{Name: "blob", Builtin: BuiltinDataEcho}},
		Steps: []Step{
			{Op: OpSend, Worker: "blob", Data: "one"},
			{Op: OpSend, Worker: "blob", Data: "two"},
			{Op: OpAwait, Worker: "blob"},
			{Op: OpCollect},
		},
		Assertions: []Assertion{
			{Type: AssertDeliveredOrder, Worker: "blob", Values: []string{"one", "two"}},
			{Type: AssertFinalizedCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.Finalized)
	assert.Equal(t, "user-ptr", result.Trace[0].Kind)
}

func TestRun_DataEchoWithoutCollect(t *testing.T) {
	scenario := &Scenario{
		Name:        "data_held",
		Description: "delivered user pointers stay reachable until collect",
		Workers:     []Worker{{Name: "blob", Builtin: BuiltinDataEcho}},
		Steps: []Step{
			{Op: OpSend, Worker: "blob", Data: "kept"},
			{Op: OpAwait, Worker: "blob"},
		},
		Assertions: []Assertion{{Type: AssertFinalizedCount, Count: 0}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SendAfterCloseFails(t *testing.T) {
	scenario := echoScenario("late_send",
		[]Step{
			{Op: OpClose, Worker: "echo"},
			{Op: OpAwait, Worker: "echo"},
			{Op: OpSend, Worker: "echo", Text: "too late"},
			{Op: OpAwait, Worker: "echo"},
		},
		[]Assertion{{Type: AssertDeliveredCount, Worker: "echo", Count: 0}},
	)

	result, err := Run(scenario, WithAwaitTimeout(200*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.NotEmpty(t, result.Errors)
}

func TestRun_FailedAssertionReported(t *testing.T) {
	scenario := echoScenario("wrong",
		[]Step{
			{Op: OpSend, Worker: "echo", Text: "x"},
			{Op: OpAwait, Worker: "echo"},
		},
		[]Assertion{{Type: AssertDeliveredOrder, Worker: "echo", Values: []string{"y"}}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: delivered_order")
}

func TestRun_UnknownBuiltin(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad",
		Description: "d",
		Workers:     []Worker{{Name: "w", Builtin: "reverse"}},
		Steps:       []Step{{Op: OpCollect}},
		Assertions:  []Assertion{{Type: AssertFinalizedCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown builtin "reverse"`)
}

func TestRun_JournalsIntoStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer st.Close()

	scenario := echoScenario("journaled",
		[]Step{
			{Op: OpSend, Worker: "echo", Text: "hello"},
			{Op: OpAwait, Worker: "echo"},
			{Op: OpClose, Worker: "echo"},
		},
		[]Assertion{
			{Type: AssertJournalCount, Event: "send", Count: 1},
			{Type: AssertJournalCount, Event: "deliver", Worker: "echo", Count: 1},
		},
	)

	result, err := Run(scenario, WithStore(st))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	ctx := context.Background()
	procs, err := st.ReadProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "journaled/1", procs[0].ID)
	assert.Equal(t, "echo", procs[0].Name)
	assert.Equal(t, "string", procs[0].InputKind)

	events, err := st.ReadEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "close", events[2].Type)

	// A second run of the same scenario is idempotent in the journal.
	_, err = Run(scenario, WithStore(st))
	require.NoError(t, err)
	events, err = st.ReadEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRun_TwoWorkersKeepResultsApart(t *testing.T) {
	scenario := &Scenario{
		Name:        "pair",
		Description: "d",
		Workers: []Worker{
			{Name: "left", Builtin: BuiltinEcho},
			{Name: "right", Builtin: BuiltinUpper},
		},
		Steps: []Step{
			{Op: OpSend, Worker: "left", Text: "a"},
			{Op: OpSend, Worker: "right", Text: "b"},
			{Op: OpAwait, Worker: "left"},
			{Op: OpAwait, Worker: "right"},
		},
		Assertions: []Assertion{
			{Type: AssertDeliveredOrder, Worker: "left", Values: []string{"a"}},
			{Type: AssertDeliveredOrder, Worker: "right", Values: []string{"B"}},
			{Type: AssertTraceCount, Event: "deliver", Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
