package bridge

import (
	"fmt"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
)

// SendMessage sends value to proc's worker. A Text process takes a string; an
// Opaque process takes a *host.UserPtr, whose payload is moved out so the
// user pointer is left empty.
//
// A value of the wrong type is returned as a WRONG_TYPE *ProtocolError. A
// process with no input kind is corrupted and panics.
func SendMessage(proc *host.Process, value any) error {
	if !proc.Live() {
		return fmt.Errorf("send message: %w", host.ErrProcessDeleted)
	}
	kind, err := processKind(proc, host.PropType)
	if err != nil {
		panic(err)
	}

	ev := host.Event{
		Type:      host.EventSend,
		ProcessID: proc.ID(),
		Process:   proc.Name(),
		Kind:      kind,
	}

	var p *payload.Payload
	switch kind {
	case payload.Text:
		s, ok := value.(string)
		if !ok {
			return newProtocolError(ErrCodeWrongType, proc.Name(), "want string, got %T", value)
		}
		ev.Text, ev.Size = s, len(s)
		p = payload.Wrap(s)
	case payload.Opaque:
		u, ok := value.(*host.UserPtr)
		if !ok {
			return newProtocolError(ErrCodeWrongType, proc.Name(), "want user-ptr, got %T", value)
		}
		p = u.Take()
		if p == nil {
			return newProtocolError(ErrCodeWrongType, proc.Name(), "user-ptr is empty")
		}
		ev.Text, ev.Size = describeOpaque(p)
	}

	if err := endpointFor(proc).SendToWorker(p); err != nil {
		return err
	}
	proc.Runtime().Emit(ev)
	return nil
}

// CloseStream tells proc's worker to exit by writing the null word.
func CloseStream(proc *host.Process) error {
	if err := endpointFor(proc).CloseStream(); err != nil {
		return err
	}
	proc.Runtime().Emit(host.Event{
		Type:      host.EventClose,
		ProcessID: proc.ID(),
		Process:   proc.Name(),
	})
	return nil
}
