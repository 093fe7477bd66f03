package bridge

import (
	"fmt"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
	"github.com/roach88/pipebridge/internal/sidechannel"
)

// Dispatch is the filter of every bridge process. Each byte of data stands
// for one result: Dispatch takes one token off the side channel, claims the
// payload, decodes it according to the process's return kind and calls the
// process's handler.
//
// Dispatch never blocks. A byte without a token, a bad or unknown token and a
// missing return kind all panic with *ProtocolError; the host recovers and
// logs filter panics.
func Dispatch(proc *host.Process, data []byte) {
	rt := proc.Runtime()

	v, ok := proc.Get(host.PropOutChannel)
	rx, _ := v.(*sidechannel.Receiver)
	if !ok || rx == nil {
		panic(newProtocolError(ErrCodeMissingChannel, proc.Name(), "process has no side channel"))
	}

	for range data {
		tok, ok := rx.TryRecv()
		if !ok {
			panic(newProtocolError(ErrCodeMissingToken, proc.Name(), "signal byte without a queued token"))
		}
		h, err := payload.ParseToken(tok)
		if err != nil {
			panic(newProtocolError(ErrCodeBadToken, proc.Name(), "%v", err))
		}
		p, ok := rt.Table().Claim(h)
		if !ok {
			panic(newProtocolError(ErrCodeUnknownHandle, proc.Name(), "handle %d is not pinned", h))
		}

		kind, err := processKind(proc, host.PropReturn)
		if err != nil {
			p.Finalize()
			panic(err)
		}

		var value any
		ev := host.Event{
			Type:      host.EventDeliver,
			ProcessID: proc.ID(),
			Process:   proc.Name(),
			Kind:      kind,
		}
		switch kind {
		case payload.Text:
			s := payload.Unpack[string](p)
			ev.Text, ev.Size = s, len(s)
			value = s
		case payload.Opaque:
			ev.Text, ev.Size = describeOpaque(p)
			value = rt.Heap().MakeUserPtr(p)
		}

		handler, ok := proc.Get(host.PropCall)
		fn, _ := handler.(Handler)
		if !ok || fn == nil {
			if u, ok := value.(*host.UserPtr); ok {
				rt.Heap().Release(u)
			}
			panic(newProtocolError(ErrCodeMissingHandler, proc.Name(), "process has no call handler"))
		}

		rt.Emit(ev)
		callHandler(proc, fn, value)
	}
}

// callHandler runs fn, logging a panic instead of propagating it. The
// remaining bytes of the batch still need their tokens.
func callHandler(proc *host.Process, fn Handler, value any) {
	defer func() {
		if r := recover(); r != nil {
			proc.Runtime().Logger().Error("handler panicked", "process", proc.Name(), "error", r)
		}
	}()
	fn(proc, value)
}

// processKind reads a kind property, accepting either a payload.Kind or its
// host symbol.
func processKind(proc *host.Process, key string) (payload.Kind, error) {
	v, ok := proc.Get(key)
	if !ok {
		return 0, newProtocolError(ErrCodeMissingKind, proc.Name(), "process has no %s kind", key)
	}
	switch k := v.(type) {
	case payload.Kind:
		if k.Valid() {
			return k, nil
		}
	case string:
		if parsed, err := payload.ParseKind(k); err == nil {
			return parsed, nil
		}
	}
	return 0, newProtocolError(ErrCodeMissingKind, proc.Name(), "invalid %s kind %v", key, v)
}

// describeOpaque summarizes an opaque value for events without consuming it.
func describeOpaque(p *payload.Payload) (string, int) {
	if !p.Live() {
		return "", 0
	}
	switch v := payload.AsRef[any](p).(type) {
	case []byte:
		return string(v), len(v)
	case string:
		return v, len(v)
	default:
		return fmt.Sprintf("%T", v), 0
	}
}
