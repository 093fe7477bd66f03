package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Descriptor indices. A pipe process owns two pipes: a command pipe (host
// writes 1, worker reads 0) and a signal pipe (worker writes 3, host reads 2).
const (
	SubprocessStdin    = 0
	WriteToSubprocess  = 1
	ReadFromSubprocess = 2
	SubprocessStdout   = 3
)

// Property list keys written by the bridge when a worker starts.
const (
	PropCall       = "call"
	PropType       = "type"
	PropReturn     = "return"
	PropInChannel  = "inchannel"
	PropOutChannel = "outchannel"
)

// Filter receives the bytes read from a process's signal pipe. It runs on the
// host goroutine.
type Filter func(p *Process, data []byte)

// Process is a host process handle backed by two OS pipes.
type Process struct {
	id   string
	name string
	rt   *Runtime

	fds    [4]int
	closed [4]atomic.Bool

	plist atomic.Pointer[map[string]any]

	mu     sync.Mutex
	filter Filter

	live         atomic.Bool
	eof          atomic.Bool
	peerAttached atomic.Bool
}

func newPipeProcess(rt *Runtime, id, name string, filter Filter) (*Process, error) {
	var cmd, sig [2]int
	if err := unix.Pipe2(cmd[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create command pipe: %w", err)
	}
	if err := unix.Pipe2(sig[:], unix.O_CLOEXEC); err != nil {
		unix.Close(cmd[0])
		unix.Close(cmd[1])
		return nil, fmt.Errorf("create signal pipe: %w", err)
	}

	p := &Process{
		id:     id,
		name:   name,
		rt:     rt,
		fds:    [4]int{cmd[0], cmd[1], sig[0], sig[1]},
		filter: filter,
	}
	if err := unix.SetNonblock(p.fds[ReadFromSubprocess], true); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("set signal pipe non-blocking: %w", err)
	}

	empty := map[string]any{}
	p.plist.Store(&empty)
	p.live.Store(true)
	return p, nil
}

// ID returns the process's unique identifier.
func (p *Process) ID() string { return p.id }

// Name returns the name the process was created with.
func (p *Process) Name() string { return p.name }

// Runtime returns the runtime that owns the process.
func (p *Process) Runtime() *Runtime { return p.rt }

// FD returns descriptor i, or -1 once it has been closed.
func (p *Process) FD(i int) int {
	if i < 0 || i >= len(p.fds) || p.closed[i].Load() {
		return -1
	}
	return p.fds[i]
}

// CloseFD closes descriptor i. Closing twice is a no-op.
func (p *Process) CloseFD(i int) error {
	if i < 0 || i >= len(p.fds) {
		return fmt.Errorf("descriptor index %d out of range", i)
	}
	if !p.closed[i].CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.fds[i])
}

func (p *Process) closeAll() {
	for i := range p.fds {
		_ = p.CloseFD(i)
	}
}

// Live reports whether the process has not been deleted.
func (p *Process) Live() bool { return p.live.Load() }

// Exited reports whether the signal pipe has reached end of file.
func (p *Process) Exited() bool { return p.eof.Load() }

// MarkPeerAttached records that an endpoint now owns the worker side of the
// process. It returns false if one already did.
func (p *Process) MarkPeerAttached() bool {
	return p.peerAttached.CompareAndSwap(false, true)
}

// Filter returns the current filter.
func (p *Process) Filter() Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// SetFilter replaces the filter, as a host script may do at any time.
func (p *Process) SetFilter(f Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = f
}

// Get reads a property.
func (p *Process) Get(key string) (any, bool) {
	m := *p.plist.Load()
	v, ok := m[key]
	return v, ok
}

// Plist returns a snapshot of all properties.
func (p *Process) Plist() map[string]any {
	m := *p.plist.Load()
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Put sets a property. Readers on other goroutines see either the old or
// the new list, never a partial one.
func (p *Process) Put(key string, value any) {
	p.update(func(m map[string]any) { m[key] = value })
}

// PutAll sets several properties in one step.
func (p *Process) PutAll(props map[string]any) {
	p.update(func(m map[string]any) {
		for k, v := range props {
			m[k] = v
		}
	})
}

// Delete removes a property.
func (p *Process) Delete(key string) {
	p.update(func(m map[string]any) { delete(m, key) })
}

func (p *Process) update(fn func(map[string]any)) {
	for {
		old := p.plist.Load()
		next := make(map[string]any, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		fn(next)
		if p.plist.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (p *Process) String() string {
	return fmt.Sprintf("#<process %s>", p.name)
}
