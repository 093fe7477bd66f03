package bridge

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

// StartSubprocess runs cmd as the worker for a new bridge process. A relay
// goroutine takes the worker's place on the endpoint: it forwards each
// payload to the child as a Frame and sends the child's reply to the host.
// Closing the stream closes the child's stdin and waits for it to exit.
func StartSubprocess[In, Out Data](rt *host.Runtime, handler Handler, cmd *exec.Cmd, opts ...WorkerOption) (*host.Process, error) {
	r, err := spawnSubprocess[In, Out](rt, handler, cmd, opts...)
	if err != nil {
		return nil, err
	}
	return r.proc, nil
}

func spawnSubprocess[In, Out Data](rt *host.Runtime, handler Handler, cmd *exec.Cmd, opts ...WorkerOption) (*worker, error) {
	cfg := buildConfig(opts)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("start subprocess %s: %w", cfg.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("start subprocess %s: %w", cfg.name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start subprocess %s: %w", cfg.name, err)
	}

	proc, ep, tx, err := newBridgeProcess(rt, cfg.name, handler, KindOf[In](), KindOf[Out]())
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return nil, err
	}

	w := &worker{proc: proc, done: make(chan struct{})}
	go runRelay(ep, tx, KindOf[Out](), cmd, stdin, stdout, w.done)
	return w, nil
}

func runRelay(ep *Endpoint, tx *sidechannel.Sender, out payload.Kind, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, done chan struct{}) {
	defer close(done)
	defer ep.Detach()
	defer func() {
		_ = stdin.Close()
		if err := cmd.Wait(); err != nil {
			ep.logger.Error("subprocess exited", "process", ep.proc.Name(), "error", err)
			return
		}
		ep.logger.Debug("subprocess exited", "process", ep.proc.Name())
	}()
	defer func() {
		if r := recover(); r != nil {
			ep.logger.Error("relay failed", "process", ep.proc.Name(), "error", r)
		}
	}()

	enc := cbor.NewEncoder(stdin)
	dec := cbor.NewDecoder(stdout)

	for {
		p, err := ep.ReceiveFromHost()
		if err != nil {
			logLoopExit(ep.logger, ep.proc, err)
			return
		}

		req, err := frameFromPayload(p)
		if err != nil {
			logLoopExit(ep.logger, ep.proc, err)
			return
		}
		if err := enc.Encode(req); err != nil {
			logLoopExit(ep.logger, ep.proc, fmt.Errorf("encode frame: %w", err))
			return
		}

		var reply Frame
		if err := dec.Decode(&reply); err != nil {
			logLoopExit(ep.logger, ep.proc, fmt.Errorf("decode frame: %w", err))
			return
		}

		if err := ep.SendToHost(tx, reply.toPayload(out)); err != nil {
			logLoopExit(ep.logger, ep.proc, err)
			return
		}
	}
}
