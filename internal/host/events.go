package host

import "github.com/roach88/pipebridge/internal/payload"

// EventType names a bridge event.
type EventType string

const (
	// EventSend is emitted when the host sends a message to a worker.
	EventSend EventType = "send"
	// EventDeliver is emitted when a worker result reaches the host handler.
	EventDeliver EventType = "deliver"
	// EventClose is emitted when the host closes a worker's stream.
	EventClose EventType = "close"
)

// Event describes one message crossing the bridge. Seq comes from the
// runtime clock.
type Event struct {
	Seq       int64
	Type      EventType
	ProcessID string
	Process   string
	Kind      payload.Kind
	Size      int
	Text      string
}

// Observer is called synchronously on the host goroutine for every event.
type Observer func(Event)

// Observe registers o.
func (rt *Runtime) Observe(o Observer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.observers = append(rt.observers, o)
}

// Emit stamps ev with the next clock value and hands it to every observer.
func (rt *Runtime) Emit(ev Event) Event {
	ev.Seq = rt.clock.Next()

	rt.mu.Lock()
	observers := make([]Observer, len(rt.observers))
	copy(observers, rt.observers)
	rt.mu.Unlock()

	for _, o := range observers {
		o(ev)
	}
	return ev
}

// ExitHook is called on the host goroutine once a process's signal pipe
// reaches end of file: its worker is gone and no further results can arrive.
type ExitHook func(*Process)

// OnExit registers h.
func (rt *Runtime) OnExit(h ExitHook) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.exitHooks = append(rt.exitHooks, h)
}

func (rt *Runtime) notifyExit(p *Process) {
	rt.mu.Lock()
	hooks := make([]ExitHook, len(rt.exitHooks))
	copy(hooks, rt.exitHooks)
	rt.mu.Unlock()

	for _, h := range hooks {
		h(p)
	}
}
