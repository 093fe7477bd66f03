package host

import (
	"sync"

	"github.com/roach88/pipebridge/internal/payload"
)

// UserPtr is a managed host object wrapping an Opaque payload.
type UserPtr struct {
	mu sync.Mutex
	p  *payload.Payload
}

// Value borrows the wrapped value. It returns nil once the payload has been
// taken or finalized.
func (u *UserPtr) Value() any {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.p == nil || !u.p.Live() {
		return nil
	}
	return payload.AsRef[any](u.p)
}

// Take moves the payload out, leaving the user pointer empty. It returns nil
// if there is nothing left to take.
func (u *UserPtr) Take() *payload.Payload {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.p
	u.p = nil
	return p
}

// Empty reports whether the payload has been taken.
func (u *UserPtr) Empty() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.p == nil
}

// Heap tracks user pointers from creation until the collector reclaims them.
type Heap struct {
	mu       sync.Mutex
	objects  map[*UserPtr]struct{}
	released []*UserPtr
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{objects: make(map[*UserPtr]struct{})}
}

// MakeUserPtr hands p to the heap.
func (h *Heap) MakeUserPtr(p *payload.Payload) *UserPtr {
	u := &UserPtr{p: p}
	h.mu.Lock()
	h.objects[u] = struct{}{}
	h.mu.Unlock()
	return u
}

// Release marks u unreachable. The next Collect reclaims it.
func (h *Heap) Release(u *UserPtr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[u]; !ok {
		return
	}
	delete(h.objects, u)
	h.released = append(h.released, u)
}

// Collect finalizes every released user pointer that still owns a payload
// and returns how many it finalized.
func (h *Heap) Collect() int {
	h.mu.Lock()
	garbage := h.released
	h.released = nil
	h.mu.Unlock()

	n := 0
	for _, u := range garbage {
		if p := u.Take(); p != nil && p.Finalize() {
			n++
		}
	}
	return n
}

// Len returns the number of reachable user pointers.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// ReleaseAll marks every reachable user pointer unreachable.
func (h *Heap) ReleaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for u := range h.objects {
		h.released = append(h.released, u)
	}
	clear(h.objects)
}
