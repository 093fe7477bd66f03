package cli

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pipebridge/internal/bridge"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Transform string
}

// frameTransforms are the transforms a child worker can serve.
var frameTransforms = map[string]func(bridge.Frame) (bridge.Frame, error){
	"echo": func(f bridge.Frame) (bridge.Frame, error) { return f, nil },
	"upper": func(f bridge.Frame) (bridge.Frame, error) {
		f.Text = strings.ToUpper(f.Text)
		if len(f.Data) > 0 {
			f.Data = bytes.ToUpper(f.Data)
		}
		return f, nil
	},
}

func transformNames() []string {
	names := make([]string, 0, len(frameTransforms))
	for name := range frameTransforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve bridge frames on stdin/stdout",
		Long: `Serve CBOR bridge frames on stdin and write replies to stdout until
stdin is closed. This is the child side of "pipebridge echo --subprocess";
it is not meant to be run by hand.

Example:
  pipebridge worker --transform upper`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Transform, "transform", "echo", fmt.Sprintf("frame transform (%s)", strings.Join(transformNames(), "|")))

	return cmd
}

func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	fn, ok := frameTransforms[opts.Transform]
	if !ok {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("unknown transform %q: must be one of %v", opts.Transform, transformNames()))
	}

	// stdout carries frames; diagnostics go to stderr only.
	logger := opts.newLogger(cmd.ErrOrStderr())
	logger.Debug("worker serving frames", "transform", opts.Transform)

	if err := bridge.ServeFrames(cmd.InOrStdin(), cmd.OutOrStdout(), fn); err != nil {
		return WrapExitError(ExitFailure, "worker failed", err)
	}
	logger.Debug("worker input closed")
	return nil
}
