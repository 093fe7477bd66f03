package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/pipebridge/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Type, event.Worker)
		if event.Kind != "" {
			fmt.Fprintf(&buf, " %s %q", event.Kind, event.Text)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// Processes maps worker name to the process ID journaled for it.
	Processes map[string]string
}

// assertDeliveredCount checks how many results a worker received.
func assertDeliveredCount(result *Result, a Assertion) error {
	got := len(result.Delivered[a.Worker])
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertDeliveredCount,
		Expected: fmt.Sprintf("%s received %d results", a.Worker, a.Count),
		Actual:   fmt.Sprintf("%s received %d results", a.Worker, got),
		Trace:    result.Trace,
	}
}

// assertDeliveredOrder checks the exact sequence of results a worker received.
func assertDeliveredOrder(result *Result, a Assertion) error {
	got := result.Delivered[a.Worker]
	if got == nil {
		got = []string{}
	}
	diff := cmp.Diff(a.Values, got)
	if diff == "" {
		return nil
	}
	return &AssertionError{
		Type:     AssertDeliveredOrder,
		Expected: fmt.Sprintf("%s received %q", a.Worker, a.Values),
		Actual:   fmt.Sprintf("%s received %q (-want +got):\n%s", a.Worker, got, diff),
		Trace:    result.Trace,
	}
}

// assertFinalizedCount checks how many sent data payloads were released.
func assertFinalizedCount(result *Result, a Assertion) error {
	if result.Finalized == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalizedCount,
		Expected: fmt.Sprintf("%d payloads finalized", a.Count),
		Actual:   fmt.Sprintf("%d payloads finalized", result.Finalized),
		Trace:    result.Trace,
	}
}

// assertTraceCount checks if the event appears exactly the specified number
// of times, for one worker or for all of them.
func assertTraceCount(result *Result, a Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Type != a.Event {
			continue
		}
		if a.Worker != "" && event.Worker != a.Worker {
			continue
		}
		count++
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s appears %d times%s", a.Event, a.Count, scopeSuffix(a.Worker)),
		Actual:   fmt.Sprintf("%s appears %d times%s", a.Event, count, scopeSuffix(a.Worker)),
		Trace:    result.Trace,
	}
}

// assertJournalCount counts journaled events of this run's processes.
func assertJournalCount(actx *AssertionContext, result *Result, a Assertion) error {
	rows, err := actx.Store.ReadEvents(actx.Ctx, store.EventFilter{Type: a.Event})
	if err != nil {
		return fmt.Errorf("journal_count: %w", err)
	}

	want := make(map[string]bool, len(actx.Processes))
	for name, id := range actx.Processes {
		if a.Worker == "" || a.Worker == name {
			want[id] = true
		}
	}

	count := 0
	for _, row := range rows {
		if want[row.ProcessID] {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertJournalCount,
		Expected: fmt.Sprintf("%d %s rows journaled%s", a.Count, a.Event, scopeSuffix(a.Worker)),
		Actual:   fmt.Sprintf("%d %s rows journaled%s", count, a.Event, scopeSuffix(a.Worker)),
		Trace:    result.Trace,
	}
}

func scopeSuffix(worker string) string {
	if worker == "" {
		return ""
	}
	return " for " + worker
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides journal access for journal_count assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDeliveredCount:
			err = assertDeliveredCount(result, assertion)
		case AssertDeliveredOrder:
			err = assertDeliveredOrder(result, assertion)
		case AssertFinalizedCount:
			err = assertFinalizedCount(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertJournalCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: journal_count requires a journal", i)
			} else {
				err = assertJournalCount(actx, result, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
