package payload

import (
	"fmt"
	"io"
	"reflect"
	"sync"
)

// Finalizer releases a payload's value when nobody unpacked it.
type Finalizer func(v any)

// Payload is a type-erased, finalizer-bearing value in transit.
//
// The value and finalizer are cleared under the payload's lock before either is
// handed out, so a payload observed concurrently by two holders is still
// consumed only once.
type Payload struct {
	mu        sync.Mutex
	value     any
	finalizer Finalizer
	kind      Kind
	live      bool
}

// MisuseError reports a payload used in a way that breaks its ownership
// contract. It is raised with panic, never returned.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("payload %s: %s", e.Op, e.Reason)
}

// Wrap boxes v for transfer. Strings become Text payloads; everything else is
// Opaque. The recorded finalizer closes io.Closer values and otherwise just
// drops the reference.
func Wrap[T any](v T) *Payload {
	kind := Opaque
	if _, ok := any(v).(string); ok {
		kind = Text
	}
	return &Payload{
		value:     v,
		finalizer: release,
		kind:      kind,
		live:      true,
	}
}

// WrapWithFinalizer boxes v as an Opaque payload with an explicit finalizer.
// A nil finalizer is allowed; finalizing then only drops the value.
func WrapWithFinalizer(v any, fin Finalizer) *Payload {
	return &Payload{
		value:     v,
		finalizer: fin,
		kind:      Opaque,
		live:      true,
	}
}

func release(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Unpack consumes p and returns its value as T.
//
// Panics with *MisuseError if p was already consumed or does not hold a T.
func Unpack[T any](p *Payload) T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.live {
		panic(&MisuseError{Op: "unpack", Reason: "payload already consumed"})
	}
	v, ok := p.value.(T)
	if !ok && p.value != nil {
		panic(&MisuseError{
			Op:     "unpack",
			Reason: fmt.Sprintf("payload holds %T, not %s", p.value, reflect.TypeFor[T]()),
		})
	}

	p.value = nil
	p.finalizer = nil
	p.live = false
	return v
}

// AsRef borrows p's value without consuming it. The result must not outlive
// the current holder's ownership of p.
func AsRef[T any](p *Payload) T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.live {
		panic(&MisuseError{Op: "borrow", Reason: "payload already consumed"})
	}
	v, ok := p.value.(T)
	if !ok && p.value != nil {
		panic(&MisuseError{
			Op:     "borrow",
			Reason: fmt.Sprintf("payload holds %T, not %s", p.value, reflect.TypeFor[T]()),
		})
	}
	return v
}

// Finalize releases a live payload by running its finalizer. It reports
// whether this call did the release; finalizing a consumed payload is a no-op.
func (p *Payload) Finalize() bool {
	p.mu.Lock()
	if !p.live {
		p.mu.Unlock()
		return false
	}
	v, fin := p.value, p.finalizer
	p.value = nil
	p.finalizer = nil
	p.live = false
	p.mu.Unlock()

	if fin != nil {
		fin(v)
	}
	return true
}

// Kind returns the payload's kind. It stays valid after consumption.
func (p *Payload) Kind() Kind {
	return p.kind
}

// Live reports whether the payload still owns its value.
func (p *Payload) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}
