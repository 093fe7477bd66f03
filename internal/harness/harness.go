package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/pipebridge/internal/bridge"
	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/store"
	"github.com/roach88/pipebridge/internal/testutil"
)

// DefaultAwaitTimeout bounds a single await step.
const DefaultAwaitTimeout = 5 * time.Second

// pumpInterval is the poll timeout of each RunOnce pass during an await.
const pumpInterval = 10 * time.Millisecond

// Harness is the test execution engine.
// It owns a host runtime with a deterministic clock and scenario-scoped
// process IDs, and drives it from the calling goroutine.
type Harness struct {
	rt      *host.Runtime
	logger  *slog.Logger
	timeout time.Duration

	result    *Result
	workers   map[string]*workerState
	byID      map[string]*workerState
	finalized atomic.Int64
}

type workerState struct {
	spec Worker
	proc *host.Process
	sent int
	ptrs []*host.UserPtr
}

// RunOption configures a Run.
type RunOption func(*runConfig)

type runConfig struct {
	store   *store.Store
	timeout time.Duration
	logger  *slog.Logger
}

// WithStore journals the run into s instead of a fresh in-memory store.
// The caller keeps ownership of s.
func WithStore(s *store.Store) RunOption {
	return func(c *runConfig) { c.store = s }
}

// WithAwaitTimeout overrides DefaultAwaitTimeout.
func WithAwaitTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the runtime logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Open the journal (in-memory unless WithStore is given)
//  2. Start a host runtime and every declared worker
//  3. Execute steps in order, stopping at the first failing step
//  4. Evaluate assertions against the result and the journal
//  5. Close the runtime, finalizing anything still in flight
//
// Step failures and failed assertions are reported in the result; the
// returned error is reserved for setup failures.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{
		timeout: DefaultAwaitTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := cfg.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	rt, err := host.New(
		host.WithLogger(cfg.logger),
		host.WithClock(testutil.NewDeterministicClock()),
		host.WithIDGenerator(testutil.NewScopedIDGenerator(scenario.Name)),
		host.WithPollInterval(pumpInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start host runtime: %w", err)
	}
	defer rt.Close()

	h := &Harness{
		rt:      rt,
		logger:  cfg.logger,
		timeout: cfg.timeout,
		result:  NewResult(),
		workers: make(map[string]*workerState),
		byID:    make(map[string]*workerState),
	}

	ctx := context.Background()
	rec := store.NewRecorder(ctx, st, cfg.logger)
	rt.Observe(rec.Observe)
	rt.Observe(h.observe)

	for _, w := range scenario.Workers {
		proc, err := h.startWorker(w)
		if err != nil {
			return nil, fmt.Errorf("failed to start worker %s: %w", w.Name, err)
		}
		rec.Track(proc)
	}

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
			break
		}
	}

	h.result.Finalized = int(h.finalized.Load())

	actx := &AssertionContext{
		Store:     st,
		Ctx:       ctx,
		Processes: h.processIDs(),
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

func (h *Harness) startWorker(w Worker) (*host.Process, error) {
	var start func(*host.Runtime, bridge.Handler, ...bridge.WorkerOption) (*host.Process, error)
	switch w.Builtin {
	case BuiltinEcho:
		start = bridge.Echo
	case BuiltinDataEcho:
		start = bridge.DataEcho
	case BuiltinUpper:
		start = bridge.Upper
	default:
		return nil, fmt.Errorf("unknown builtin %q", w.Builtin)
	}

	proc, err := start(h.rt, h.deliver, bridge.WithName(w.Name))
	if err != nil {
		return nil, err
	}
	ws := &workerState{spec: w, proc: proc}
	h.workers[w.Name] = ws
	h.byID[proc.ID()] = ws
	h.result.Delivered[w.Name] = []string{}
	return proc, nil
}

// execute runs one step.
func (h *Harness) execute(step Step) error {
	if step.Op == OpCollect {
		return h.collect()
	}

	w, ok := h.workers[step.Worker]
	if !ok {
		return fmt.Errorf("undeclared worker %q", step.Worker)
	}

	switch step.Op {
	case OpSend:
		return h.send(w, step)
	case OpAwait:
		target := step.Count
		if target == 0 {
			target = w.sent
		}
		return h.await(w, target)
	case OpClose:
		return bridge.CloseStream(w.proc)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) send(w *workerState, step Step) error {
	var value any = step.Text
	if w.spec.Builtin == BuiltinDataEcho {
		u := h.rt.Heap().MakeUserPtr(payload.WrapWithFinalizer([]byte(step.Data), h.countFinalized))
		// SendMessage moves the payload out; the emptied user pointer is garbage.
		defer h.rt.Heap().Release(u)
		value = u
	}

	if err := bridge.SendMessage(w.proc, value); err != nil {
		return err
	}
	w.sent++
	return nil
}

// await pumps the host until w has received target results.
func (h *Harness) await(w *workerState, target int) error {
	deadline := time.Now().Add(h.timeout)
	for len(h.result.Delivered[w.spec.Name]) < target {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for %d deliveries from %s, got %d",
				h.timeout, target, w.spec.Name, len(h.result.Delivered[w.spec.Name]))
		}
		if _, err := h.rt.RunOnce(pumpInterval); err != nil {
			return err
		}
	}
	return nil
}

// collect releases every delivered user pointer and runs the collector.
func (h *Harness) collect() error {
	for _, w := range h.workers {
		for _, u := range w.ptrs {
			h.rt.Heap().Release(u)
		}
		w.ptrs = nil
	}
	n := h.rt.Heap().Collect()
	h.logger.Debug("collected user pointers", "count", n)
	return nil
}

// deliver is the bridge handler shared by every worker.
func (h *Harness) deliver(proc *host.Process, value any) {
	w, ok := h.byID[proc.ID()]
	if !ok {
		return
	}
	name := w.spec.Name

	switch v := value.(type) {
	case string:
		h.result.Delivered[name] = append(h.result.Delivered[name], v)
	case *host.UserPtr:
		w.ptrs = append(w.ptrs, v)
		h.result.Delivered[name] = append(h.result.Delivered[name], describeValue(v.Value()))
	default:
		h.result.Delivered[name] = append(h.result.Delivered[name], fmt.Sprintf("%v", v))
	}
}

func (h *Harness) observe(ev host.Event) {
	te := TraceEvent{
		Seq:    ev.Seq,
		Type:   string(ev.Type),
		Worker: ev.Process,
		Text:   ev.Text,
	}
	if ev.Kind.Valid() {
		te.Kind = ev.Kind.String()
	}
	h.result.AddTrace(te)
}

func (h *Harness) countFinalized(any) {
	h.finalized.Add(1)
}

// processIDs maps worker name to process ID.
func (h *Harness) processIDs() map[string]string {
	ids := make(map[string]string, len(h.workers))
	for name, w := range h.workers {
		ids[name] = w.proc.ID()
	}
	return ids
}

func describeValue(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
