package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/pipebridge/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Process  string // optional - filter to one process name
	Type     string // optional - filter to one event type
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Processes []store.ProcessRecord `json:"processes"`
	Timeline  []store.EventRecord   `json:"timeline"`
	Stats     TraceStats            `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Sends       int `json:"sends"`
	Deliveries  int `json:"deliveries"`
	Closes      int `json:"closes"`
	Undelivered int `json:"undelivered"`
}

var eventTypeNames = []string{"send", "deliver", "close"}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print journaled bridge events",
		Long: `Print the events journaled by "pipebridge echo --db" or
"pipebridge test --db".

The output includes:
- Processes: every journaled worker with its input and output kinds
- Timeline: sends, deliveries and closes in seq order
- Stats: event counts, and sends that never came back

Examples:
  pipebridge trace --db ./journal.db
  pipebridge trace --db ./journal.db --process echo --type deliver
  pipebridge trace --db ./journal.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Process, "process", "", "filter to one process name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one event type (send|deliver|close)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := opts.formatter(cmd)

	if opts.Type != "" && !isEventType(opts.Type) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid type %q: must be one of %v", opts.Type, eventTypeNames))
	}

	// store.Open would create a missing file.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	procs, err := st.ReadProcesses(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read processes", err)
	}
	if opts.Process != "" {
		filtered := procs[:0]
		for _, p := range procs {
			if p.Name == opts.Process {
				filtered = append(filtered, p)
			}
		}
		procs = filtered
	}

	events, err := st.ReadEvents(ctx, store.EventFilter{Process: opts.Process, Type: opts.Type})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := TraceResult{
		Processes: procs,
		Timeline:  events,
		Stats:     buildStats(events),
	}

	if out.IsJSON() {
		return out.Success(result)
	}

	if len(events) == 0 {
		out.Printf("No events found in %s\n", opts.Database)
		return nil
	}
	outputTraceText(out.Writer, opts.Database, result, opts.Verbose)
	return nil
}

func isEventType(t string) bool {
	return slices.Contains(eventTypeNames, t)
}

// buildStats counts events by type. Undelivered is sends minus deliveries
// per process, floored at zero.
func buildStats(events []store.EventRecord) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	pending := make(map[string]int)
	for _, e := range events {
		switch e.Type {
		case "send":
			stats.Sends++
			pending[e.ProcessID]++
		case "deliver":
			stats.Deliveries++
			pending[e.ProcessID]--
		case "close":
			stats.Closes++
		}
	}
	for _, n := range pending {
		if n > 0 {
			stats.Undelivered += n
		}
	}
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, dbPath string, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Journal: %s\n", dbPath)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Processes ===")
	if len(result.Processes) == 0 {
		fmt.Fprintln(w, "  (no processes)")
	}
	for _, p := range result.Processes {
		fmt.Fprintf(w, "  %s %s -> %s", p.Name, p.InputKind, p.OutputKind)
		if verbose {
			fmt.Fprintf(w, " (id %s)", truncateID(p.ID))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	for _, e := range result.Timeline {
		formatTimelineEvent(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Sends:        %d\n", result.Stats.Sends)
	fmt.Fprintf(w, "  Deliveries:   %d\n", result.Stats.Deliveries)
	fmt.Fprintf(w, "  Closes:       %d\n", result.Stats.Closes)
	fmt.Fprintf(w, "  Undelivered:  %d\n", result.Stats.Undelivered)
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, e store.EventRecord, verbose bool) {
	switch e.Type {
	case "send":
		fmt.Fprintf(w, "  [%d] SEND    %s %s %q\n", e.Seq, e.Process, e.Kind, e.Text)
	case "deliver":
		fmt.Fprintf(w, "  [%d] DELIVER %s %s %q\n", e.Seq, e.Process, e.Kind, e.Text)
	case "close":
		fmt.Fprintf(w, "  [%d] CLOSE   %s\n", e.Seq, e.Process)
	}
	if verbose && e.Type != "close" {
		fmt.Fprintf(w, "       Size: %d bytes\n", e.Size)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
