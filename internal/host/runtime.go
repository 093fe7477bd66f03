package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

// Defaults for the runtime loop.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadChunk    = 4096
	DefaultGCInterval   = time.Second
)

// Runtime is the single-goroutine host.
//
// Thread-safety model:
//   - Submit, Stop, Observe, MakePipeProcess: safe from any goroutine
//   - Run, RunOnce, DeleteProcess, Close: host goroutine only
type Runtime struct {
	logger *slog.Logger
	clock  SeqSource
	ids    IDGenerator
	table  *payload.Table
	heap   *Heap
	tasks  *taskQueue

	pollInterval time.Duration
	gcInterval   time.Duration
	readChunk    int
	buf          []byte

	wakeR, wakeW int

	mu        sync.Mutex
	procs     []*Process
	observers []Observer
	exitHooks []ExitHook

	stopped  atomic.Bool
	stopOnce sync.Once
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// WithClock sets the event clock. Default: NewClock().
func WithClock(c SeqSource) Option {
	return func(rt *Runtime) { rt.clock = c }
}

// WithIDGenerator sets the process ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(rt *Runtime) { rt.ids = g }
}

// WithPollInterval bounds how long Run waits in one multiplexer pass.
func WithPollInterval(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.pollInterval = d
		}
	}
}

// WithReadChunk sets the maximum bytes read from a signal pipe per pass.
func WithReadChunk(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.readChunk = n
		}
	}
}

// WithGCInterval sets how often Run invokes the collector.
func WithGCInterval(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.gcInterval = d
		}
	}
}

// New creates a runtime and its wake pipe.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		logger:       slog.Default(),
		clock:        NewClock(),
		ids:          UUIDv7Generator{},
		table:        payload.NewTable(),
		heap:         NewHeap(),
		tasks:        newTaskQueue(),
		pollInterval: DefaultPollInterval,
		gcInterval:   DefaultGCInterval,
		readChunk:    DefaultReadChunk,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.buf = make([]byte, rt.readChunk)

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}
	rt.wakeR, rt.wakeW = wake[0], wake[1]
	return rt, nil
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Table returns the payload address space shared by every process.
func (rt *Runtime) Table() *payload.Table { return rt.table }

// Heap returns the managed-object heap.
func (rt *Runtime) Heap() *Heap { return rt.heap }

// Clock returns the event clock.
func (rt *Runtime) Clock() SeqSource { return rt.clock }

// MakePipeProcess creates a process backed by two pipes and registers it.
func (rt *Runtime) MakePipeProcess(name string, filter Filter) (*Process, error) {
	if rt.stopped.Load() {
		return nil, ErrStopped
	}
	p, err := newPipeProcess(rt, rt.ids.Generate(), name, filter)
	if err != nil {
		return nil, fmt.Errorf("make pipe process %s: %w", name, err)
	}

	rt.mu.Lock()
	rt.procs = append(rt.procs, p)
	rt.mu.Unlock()

	rt.logger.Debug("process created", "process", name, "id", p.id)
	return p, nil
}

// Processes returns the live processes in creation order.
func (rt *Runtime) Processes() []*Process {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Process, 0, len(rt.procs))
	for _, p := range rt.procs {
		if p.Live() {
			out = append(out, p)
		}
	}
	return out
}

// Submit queues fn to run on the host goroutine and wakes the multiplexer.
func (rt *Runtime) Submit(fn func()) error {
	if rt.stopped.Load() || !rt.tasks.Enqueue(fn) {
		return ErrStopped
	}
	rt.wake()
	return nil
}

func (rt *Runtime) wake() {
	// A full wake pipe already guarantees a wakeup.
	_, _ = unix.Write(rt.wakeW, []byte{0})
}

// Stop makes Run return and refuses further tasks. Safe to call repeatedly.
func (rt *Runtime) Stop() {
	rt.stopOnce.Do(func() {
		rt.stopped.Store(true)
		rt.tasks.Close()
		rt.wake()
	})
}

// Run drives the runtime until ctx is done or Stop is called, collecting
// garbage every GCInterval.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.logger.Info("host runtime starting")

	cancelWake := context.AfterFunc(ctx, rt.wake)
	defer cancelWake()

	lastGC := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			rt.logger.Info("host runtime stopping: context cancelled")
			return err
		}

		_, err := rt.RunOnce(rt.pollInterval)
		if errors.Is(err, ErrStopped) {
			rt.logger.Info("host runtime stopping: stopped")
			return nil
		}
		if err != nil {
			return err
		}

		if time.Since(lastGC) >= rt.gcInterval {
			if n := rt.heap.Collect(); n > 0 {
				rt.logger.Debug("collected user pointers", "count", n)
			}
			lastGC = time.Now()
		}
	}
}

// RunOnce performs one multiplexer pass, waiting at most timeout for
// readiness (a negative timeout waits indefinitely). It returns the number of
// filter invocations.
func (rt *Runtime) RunOnce(timeout time.Duration) (int, error) {
	rt.runTasks()
	if rt.stopped.Load() {
		return 0, ErrStopped
	}

	procs := rt.Processes()
	fds := make([]unix.PollFd, 0, len(procs)+1)
	fds = append(fds, unix.PollFd{Fd: int32(rt.wakeR), Events: unix.POLLIN})
	polled := make([]*Process, 0, len(procs))
	for _, p := range procs {
		fd := p.FD(ReadFromSubprocess)
		if fd < 0 || p.eof.Load() {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		polled = append(polled, p)
	}

	n, err := unix.Poll(fds, pollMillis(timeout))
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if fds[0].Revents != 0 {
		rt.drainWake()
		rt.runTasks()
	}

	calls := 0
	for i, p := range polled {
		if fds[i+1].Revents == 0 || !p.Live() {
			continue
		}
		if rt.readSignals(p) {
			calls++
		}
	}

	if rt.stopped.Load() {
		return calls, ErrStopped
	}
	return calls, nil
}

// pollMillis converts a RunOnce timeout to poll(2) milliseconds. Positive
// timeouts round up so a sub-millisecond wait never becomes a busy poll.
func pollMillis(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

// readSignals reads one chunk from p's signal pipe and hands it to the
// filter. It reports whether the filter ran.
func (rt *Runtime) readSignals(p *Process) bool {
	fd := p.FD(ReadFromSubprocess)
	if fd < 0 {
		return false
	}

	n, err := unix.Read(fd, rt.buf)
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return false
	case err != nil:
		rt.logger.Error("read signal pipe", "process", p.name, "error", err)
		return false
	case n == 0:
		// Every writer of the signal pipe is gone.
		p.eof.Store(true)
		rt.logger.Debug("signal pipe closed", "process", p.name)
		rt.notifyExit(p)
		return false
	}

	rt.callFilter(p, rt.buf[:n])
	return true
}

func (rt *Runtime) callFilter(p *Process, data []byte) {
	f := p.Filter()
	if f == nil {
		rt.logger.Warn("signal bytes dropped: no filter", "process", p.name, "bytes", len(data))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("error in process filter", "process", p.name, "error", r)
		}
	}()
	f(p, data)
}

func (rt *Runtime) runTasks() {
	for {
		fn, ok := rt.tasks.TryDequeue()
		if !ok {
			return
		}
		rt.runTask(fn)
	}
}

func (rt *Runtime) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("error in submitted task", "error", r)
		}
	}()
	fn()
}

func (rt *Runtime) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(rt.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// DeleteProcess tears down p: it writes the close sentinel so a blocked
// worker exits, closes the host-side descriptors, and finalizes any results
// the host never received.
func (rt *Runtime) DeleteProcess(p *Process) error {
	if !p.live.CompareAndSwap(true, false) {
		return ErrProcessDeleted
	}

	if fd := p.FD(WriteToSubprocess); fd >= 0 {
		if _, err := unix.Write(fd, payload.EncodeWord(payload.NullHandle)); err != nil {
			rt.logger.Debug("close sentinel not delivered", "process", p.name, "error", err)
		}
	}
	_ = p.CloseFD(WriteToSubprocess)
	_ = p.CloseFD(ReadFromSubprocess)

	dropped := 0
	if v, ok := p.Get(PropOutChannel); ok {
		if rx, ok := v.(*sidechannel.Receiver); ok {
			rx.Close()
			dropped = rt.drainTokens(rx)
		}
	}

	rt.mu.Lock()
	for i, q := range rt.procs {
		if q == p {
			rt.procs = append(rt.procs[:i], rt.procs[i+1:]...)
			break
		}
	}
	rt.mu.Unlock()

	rt.logger.Debug("process deleted", "process", p.name, "id", p.id, "dropped", dropped)
	return nil
}

func (rt *Runtime) drainTokens(rx *sidechannel.Receiver) int {
	n := 0
	for {
		tok, ok := rx.TryRecv()
		if !ok {
			return n
		}
		h, err := payload.ParseToken(tok)
		if err != nil {
			rt.logger.Error("bad token on side channel", "token", tok, "error", err)
			continue
		}
		if pl, ok := rt.table.Claim(h); ok && pl.Finalize() {
			n++
		}
	}
}

// Close stops the runtime, deletes every process, collects the whole heap
// and finalizes payloads still in flight.
func (rt *Runtime) Close() error {
	rt.Stop()
	rt.runTasks()

	for _, p := range rt.Processes() {
		_ = rt.DeleteProcess(p)
	}
	rt.heap.ReleaseAll()
	collected := rt.heap.Collect()
	drained := rt.table.Drain()
	rt.logger.Debug("host runtime closed", "collected", collected, "drained", drained)

	return errors.Join(unix.Close(rt.wakeR), unix.Close(rt.wakeW))
}
