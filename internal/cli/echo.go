package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pipebridge/internal/bridge"
	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/store"
)

// EchoOptions holds flags for the echo command.
type EchoOptions struct {
	*RootOptions
	Transform  string // echo | upper
	Subprocess bool   // run the transform in a child "pipebridge worker"
	Database   string // journal path; overrides store.path from config

	// Executable overrides the child binary for --subprocess (for testing).
	// If empty, defaults to os.Executable().
	Executable string
}

// Delivery is one worker result printed by the echo command.
type Delivery struct {
	Worker string `json:"worker"`
	Text   string `json:"text"`
}

// NewEchoCommand creates the echo command.
func NewEchoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EchoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Send stdin lines through a worker",
		Long: `Start a host runtime with one string worker, send every line read
from stdin to it and print each result as it is delivered.

At end of input the worker's stream is closed and the command exits once
every result has been delivered. Ctrl-C stops immediately.

Examples:
  printf 'a\nb\n' | pipebridge echo
  pipebridge echo --transform upper --subprocess
  pipebridge echo --db ./journal.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Transform, "transform", "echo", "worker transform (echo|upper)")
	cmd.Flags().BoolVar(&opts.Subprocess, "subprocess", false, "run the transform in a child process")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal events into this SQLite database")

	return cmd
}

// maxLineBytes bounds one stdin line.
const maxLineBytes = 1 << 20

// echoSession is the host-goroutine state of one echo run.
type echoSession struct {
	rt      *host.Runtime
	proc    *host.Process
	out     *OutputFormatter
	logger  *slog.Logger
	sent    int
	seen    int
	closing bool
	exited  bool // worker went away with results outstanding
}

func runEcho(opts *EchoOptions, cmd *cobra.Command) error {
	if _, ok := frameTransforms[opts.Transform]; !ok {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("unknown transform %q: must be one of %v", opts.Transform, transformNames()))
	}

	logger := opts.newLogger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	rt, err := host.New(append(opts.Config.HostOptions(), host.WithLogger(logger))...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start host runtime", err)
	}
	defer rt.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config.Store.Path
	}
	var rec *store.Recorder
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		rec = store.NewRecorder(ctx, st, logger)
		rt.Observe(rec.Observe)
	}

	s := &echoSession{rt: rt, out: out, logger: logger}
	s.proc, err = startEchoWorker(opts, rt, s.deliver)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start worker", err)
	}
	if rec != nil {
		rec.Track(s.proc)
	}
	rt.OnExit(func(p *host.Process) {
		if p == s.proc {
			s.workerExited()
		}
	})
	logger.Debug("echo session started", "worker", s.proc.Name(), "subprocess", opts.Subprocess)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	// Host loop. Its return ends the session for the other members.
	g.Go(func() error {
		defer cancel()
		err := rt.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Stdin reader.
	input := readLines(cmd.InOrStdin())
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-input.lines:
				if !ok {
					if err := input.Err(); err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
					return rt.Submit(s.closeInput)
				}
				if err := rt.Submit(func() { s.send(line) }); err != nil {
					if errors.Is(err, host.ErrStopped) {
						return nil
					}
					return err
				}
			}
		}
	})

	// Signal watcher.
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			rt.Stop()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, host.ErrStopped) {
		if out.IsJSON() {
			_ = out.Error("E_ECHO", err.Error(), Delivery{Worker: s.proc.Name()})
		}
		return WrapExitError(ExitFailure, "echo session failed", err)
	}
	if s.exited {
		msg := fmt.Sprintf("worker %s exited with %d undelivered message(s)", s.proc.Name(), s.sent-s.seen)
		if out.IsJSON() {
			_ = out.Error("E_WORKER_EXITED", msg, Delivery{Worker: s.proc.Name()})
		}
		return NewExitError(ExitFailure, msg)
	}

	out.VerboseLog("sent %d, delivered %d", s.sent, s.seen)
	return nil
}

func startEchoWorker(opts *EchoOptions, rt *host.Runtime, handler bridge.Handler) (*host.Process, error) {
	name := opts.Transform
	if !opts.Subprocess {
		if opts.Transform == "upper" {
			return bridge.Upper(rt, handler, bridge.WithName(name))
		}
		return bridge.Echo(rt, handler, bridge.WithName(name))
	}

	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	child := exec.Command(exe, "worker", "--transform", opts.Transform)
	child.Stderr = os.Stderr
	return bridge.StartSubprocess[string, string](rt, handler, child, bridge.WithName(name))
}

// lineSource is a stdin scan running on its own goroutine.
type lineSource struct {
	lines chan string
	err   error // set before lines is closed
}

// Err returns the scan error, if any. Valid once lines is closed.
func (l *lineSource) Err() error { return l.err }

// readLines scans r on its own goroutine. The channel is closed at end of
// input or on the first read error; the goroutine outlives the session if r
// never ends.
func readLines(r io.Reader) *lineSource {
	src := &lineSource{lines: make(chan string)}
	go func() {
		defer close(src.lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)
		for scanner.Scan() {
			src.lines <- scanner.Text()
		}
		src.err = scanner.Err()
	}()
	return src
}

func (s *echoSession) send(line string) {
	if err := bridge.SendMessage(s.proc, line); err != nil {
		s.logger.Error("send failed", "worker", s.proc.Name(), "error", err)
		if s.out.IsJSON() {
			_ = s.out.Error("E_SEND", err.Error(), Delivery{Worker: s.proc.Name(), Text: line})
		}
		return
	}
	s.sent++
}

func (s *echoSession) closeInput() {
	s.closing = true
	if err := bridge.CloseStream(s.proc); err != nil {
		s.logger.Error("close failed", "worker", s.proc.Name(), "error", err)
	}
	s.maybeFinish()
}

func (s *echoSession) deliver(proc *host.Process, value any) {
	text, _ := value.(string)
	s.seen++
	if s.out.IsJSON() {
		if err := s.out.JSON(CLIResponse{Status: "ok", Data: Delivery{Worker: proc.Name(), Text: text}}); err != nil {
			s.logger.Error("write delivery", "error", err)
		}
	} else {
		s.out.Printf("%s\n", text)
	}
	s.maybeFinish()
}

// workerExited runs when the worker's signal pipe closes. Results still
// outstanding at that point can never arrive.
func (s *echoSession) workerExited() {
	if s.closing && s.seen >= s.sent {
		return
	}
	s.exited = true
	s.logger.Error("worker exited", "worker", s.proc.Name(), "undelivered", s.sent-s.seen)
	s.rt.Stop()
}

// maybeFinish stops the runtime once input has ended and every sent line
// has come back.
func (s *echoSession) maybeFinish() {
	if s.closing && s.seen >= s.sent {
		s.rt.Stop()
	}
}
