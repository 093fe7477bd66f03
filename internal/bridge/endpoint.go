package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

// Endpoint is the pair of pipes joining one host process to its worker. It
// holds no descriptors of its own; they belong to the process.
type Endpoint struct {
	proc   *host.Process
	table  *payload.Table
	logger *slog.Logger
}

// Attach creates the worker-side endpoint for proc. A process accepts one
// endpoint.
func Attach(proc *host.Process) (*Endpoint, error) {
	if !proc.Live() {
		return nil, fmt.Errorf("attach %s: %w", proc.Name(), host.ErrProcessDeleted)
	}
	if !proc.MarkPeerAttached() {
		return nil, fmt.Errorf("attach %s: endpoint already attached", proc.Name())
	}
	return endpointFor(proc), nil
}

// endpointFor returns a view of proc's pipes for host-side calls.
func endpointFor(proc *host.Process) *Endpoint {
	rt := proc.Runtime()
	return &Endpoint{
		proc:   proc,
		table:  rt.Table(),
		logger: rt.Logger(),
	}
}

// Process returns the host process the endpoint belongs to.
func (e *Endpoint) Process() *host.Process { return e.proc }

// SendToWorker pins p and writes its handle to the command pipe. On failure
// the payload is finalized.
func (e *Endpoint) SendToWorker(p *payload.Payload) error {
	fd := e.proc.FD(host.WriteToSubprocess)
	if fd < 0 {
		p.Finalize()
		return fmt.Errorf("send to worker: %w", host.ErrProcessDeleted)
	}

	h := e.table.Pin(p)
	if err := writeFull(fd, payload.EncodeWord(h)); err != nil {
		e.reclaim(h)
		return fmt.Errorf("send to worker: %w", err)
	}
	return nil
}

// SendToHost pins p, queues its token on sender, then writes one signal byte.
// The token is queued first so the host never sees a byte without a token.
func (e *Endpoint) SendToHost(sender *sidechannel.Sender, p *payload.Payload) error {
	h := e.table.Pin(p)
	if err := sender.Send(payload.FormatToken(h)); err != nil {
		e.reclaim(h)
		if errors.Is(err, sidechannel.ErrClosed) {
			return fmt.Errorf("send to host: %w: %w", ErrConnectionAborted, err)
		}
		return fmt.Errorf("send to host: %w", err)
	}

	fd := e.proc.FD(host.SubprocessStdout)
	if fd < 0 {
		// The token stays queued; DeleteProcess finalizes it.
		return fmt.Errorf("send to host: endpoint detached: %w", ErrConnectionAborted)
	}
	if err := writeFull(fd, []byte{'r'}); err != nil {
		if errors.Is(err, unix.EPIPE) {
			return fmt.Errorf("send to host: %w: %w", ErrConnectionAborted, err)
		}
		return fmt.Errorf("send to host: %w", err)
	}
	return nil
}

// ReceiveFromHost blocks until the host sends a payload. The null word, and
// end of file on the command pipe, yield ErrConnectionAborted.
//
// Panics with *ProtocolError if a live process delivers a handle that is not
// in the table.
func (e *Endpoint) ReceiveFromHost() (*payload.Payload, error) {
	fd := e.proc.FD(host.SubprocessStdin)
	if fd < 0 {
		return nil, ErrConnectionAborted
	}

	buf := make([]byte, payload.WordSize)
	if err := readFull(fd, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionAborted
		}
		return nil, fmt.Errorf("receive from host: %w", err)
	}

	h, err := payload.DecodeWord(buf)
	if err != nil {
		return nil, fmt.Errorf("receive from host: %w", err)
	}
	if h == payload.NullHandle {
		return nil, ErrConnectionAborted
	}

	p, ok := e.table.Claim(h)
	if !ok {
		if !e.proc.Live() {
			// The runtime already finalized payloads of the deleted process.
			return nil, ErrConnectionAborted
		}
		panic(newProtocolError(ErrCodeUnknownHandle, e.proc.Name(), "handle %d is not pinned", h))
	}
	return p, nil
}

// CloseStream writes the null word. A worker blocked in ReceiveFromHost
// returns ErrConnectionAborted.
func (e *Endpoint) CloseStream() error {
	fd := e.proc.FD(host.WriteToSubprocess)
	if fd < 0 {
		return fmt.Errorf("close stream: %w", host.ErrProcessDeleted)
	}
	if err := writeFull(fd, payload.EncodeWord(payload.NullHandle)); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

// Detach closes the worker-side descriptors. The host then sees end of file
// on the signal pipe.
func (e *Endpoint) Detach() {
	_ = e.proc.CloseFD(host.SubprocessStdin)
	_ = e.proc.CloseFD(host.SubprocessStdout)
}

func (e *Endpoint) reclaim(h payload.Handle) {
	if p, ok := e.table.Claim(h); ok {
		p.Finalize()
	}
}

func readFull(fd int, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := unix.Read(fd, buf[off:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			if off == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		off += n
	}
	return nil
}

func writeFull(fd int, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := unix.Write(fd, buf[off:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// logLoopExit reports why a worker or relay loop stopped.
func logLoopExit(logger *slog.Logger, proc *host.Process, err error) {
	if IsConnectionAborted(err) {
		logger.Debug("worker exiting: connection aborted", "process", proc.Name())
		return
	}
	logger.Error("worker exiting", "process", proc.Name(), "error", err)
}
