package bridge

import (
	"fmt"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

// Data is the set of value types a worker can consume or produce. A string
// crosses as a Text payload; a *payload.Payload is handed over as Opaque.
type Data interface {
	string | *payload.Payload
}

// Handler receives each worker result on the host goroutine. value is a
// string for Text workers and a *host.UserPtr for Opaque ones.
type Handler func(proc *host.Process, value any)

// KindOf returns the payload kind used for T.
func KindOf[T Data]() payload.Kind {
	var zero T
	if _, ok := any(zero).(string); ok {
		return payload.Text
	}
	return payload.Opaque
}

func wrapData[T Data](v T) *payload.Payload {
	switch x := any(v).(type) {
	case string:
		return payload.Wrap(x)
	case *payload.Payload:
		return x
	}
	panic(fmt.Sprintf("unsupported data type %T", v))
}

func unwrapData[T Data](p *payload.Payload) T {
	var zero T
	if _, ok := any(zero).(string); ok {
		return any(payload.Unpack[string](p)).(T)
	}
	return any(p).(T)
}

// WorkerOption configures StartWorker and StartSubprocess.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	name string
}

// WithName sets the process name. Default: "worker".
func WithName(name string) WorkerOption {
	return func(c *workerConfig) { c.name = name }
}

func buildConfig(opts []WorkerOption) workerConfig {
	cfg := workerConfig{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// worker is a started worker goroutine. done closes when it has detached.
type worker struct {
	proc *host.Process
	done chan struct{}
}

// StartWorker creates a pipe process whose filter is Dispatch, records its
// property list, and starts a goroutine that applies fn to every message the
// host sends. The goroutine exits when the stream is closed or an I/O error
// occurs; callers do not join it.
func StartWorker[In, Out Data](rt *host.Runtime, handler Handler, fn func(In) Out, opts ...WorkerOption) (*host.Process, error) {
	w, err := spawn(rt, handler, fn, opts...)
	if err != nil {
		return nil, err
	}
	return w.proc, nil
}

func spawn[In, Out Data](rt *host.Runtime, handler Handler, fn func(In) Out, opts ...WorkerOption) (*worker, error) {
	cfg := buildConfig(opts)

	proc, ep, tx, err := newBridgeProcess(rt, cfg.name, handler, KindOf[In](), KindOf[Out]())
	if err != nil {
		return nil, err
	}

	w := &worker{proc: proc, done: make(chan struct{})}
	go runWorker(ep, tx, fn, w.done)
	return w, nil
}

// newBridgeProcess creates the process, writes its property list once and
// attaches the worker endpoint.
func newBridgeProcess(rt *host.Runtime, name string, handler Handler, in, out payload.Kind) (*host.Process, *Endpoint, *sidechannel.Sender, error) {
	proc, err := rt.MakePipeProcess(name, Dispatch)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("start worker %s: %w", name, err)
	}

	tx, rx := sidechannel.New()
	proc.PutAll(map[string]any{
		host.PropCall:       handler,
		host.PropType:       in,
		host.PropReturn:     out,
		host.PropInChannel:  tx,
		host.PropOutChannel: rx,
	})

	ep, err := Attach(proc)
	if err != nil {
		_ = rt.DeleteProcess(proc)
		return nil, nil, nil, fmt.Errorf("start worker %s: %w", name, err)
	}
	return proc, ep, tx, nil
}

func runWorker[In, Out Data](ep *Endpoint, tx *sidechannel.Sender, fn func(In) Out, done chan struct{}) {
	defer close(done)
	defer ep.Detach()
	defer func() {
		if r := recover(); r != nil {
			ep.logger.Error("worker failed", "process", ep.proc.Name(), "error", r)
		}
	}()

	for {
		p, err := ep.ReceiveFromHost()
		if err != nil {
			logLoopExit(ep.logger, ep.proc, err)
			return
		}

		out := fn(unwrapData[In](p))

		if err := ep.SendToHost(tx, wrapData(out)); err != nil {
			logLoopExit(ep.logger, ep.proc, err)
			return
		}
	}
}
