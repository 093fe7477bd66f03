package bridge

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/pipebridge/internal/payload"
)

// Frame is one message between a relay and a child process, CBOR-encoded on
// the child's stdin and stdout. Kind is the payload kind symbol.
type Frame struct {
	Kind string `cbor:"kind"`
	Text string `cbor:"text,omitempty"`
	Data []byte `cbor:"data,omitempty"`
}

// frameFromPayload consumes p into a Frame. Only strings and byte slices can
// leave the process.
func frameFromPayload(p *payload.Payload) (Frame, error) {
	if p.Kind() == payload.Text {
		return Frame{Kind: payload.TextSymbol, Text: payload.Unpack[string](p)}, nil
	}

	switch v := payload.AsRef[any](p).(type) {
	case []byte:
		payload.Unpack[[]byte](p)
		return Frame{Kind: payload.OpaqueSymbol, Data: v}, nil
	case string:
		payload.Unpack[string](p)
		return Frame{Kind: payload.OpaqueSymbol, Data: []byte(v)}, nil
	default:
		p.Finalize()
		return Frame{}, fmt.Errorf("opaque value %T cannot cross a process boundary", v)
	}
}

// toPayload wraps the frame's content for the given output kind.
func (f Frame) toPayload(out payload.Kind) *payload.Payload {
	if out == payload.Text {
		if f.Text == "" && len(f.Data) > 0 {
			return payload.Wrap(string(f.Data))
		}
		return payload.Wrap(f.Text)
	}
	if f.Data == nil && f.Text != "" {
		return payload.WrapWithFinalizer([]byte(f.Text), nil)
	}
	return payload.WrapWithFinalizer(f.Data, nil)
}

// ServeFrames is the child side of a subprocess worker: it decodes frames
// from r, applies fn and encodes each reply to w until r reaches end of file.
func ServeFrames(r io.Reader, w io.Writer, fn func(Frame) (Frame, error)) error {
	dec := cbor.NewDecoder(r)
	enc := cbor.NewEncoder(w)

	for {
		var in Frame
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode frame: %w", err)
		}

		out, err := fn(in)
		if err != nil {
			return fmt.Errorf("handle frame: %w", err)
		}
		if out.Kind == "" {
			out.Kind = in.Kind
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
	}
}
