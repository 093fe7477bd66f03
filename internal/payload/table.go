package payload

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"sync"
)

// Handle names a pinned payload. It is what travels over bridge pipes and
// side channels in place of an address.
type Handle uint64

// NullHandle is the close sentinel. Table never issues it.
const NullHandle Handle = 0

// WordSize is the width in bytes of a handle on the wire: the platform
// pointer size.
const WordSize = bits.UintSize / 8

// Table is a payload address space. Pin and Claim are safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*Payload
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: make(map[Handle]*Payload),
	}
}

// Pin stores p and returns a fresh non-null handle for it.
func (t *Table) Pin(p *Payload) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	if uint64(t.next) > math.MaxUint {
		// 32-bit words cannot carry more handles.
		panic(&MisuseError{Op: "pin", Reason: "handle space exhausted"})
	}
	t.entries[t.next] = p
	return t.next
}

// Claim removes and returns the payload for h. A handle can be claimed once.
func (t *Table) Claim(h Handle) (*Payload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	return p, ok
}

// Len returns the number of pinned payloads.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Drain finalizes every payload that was pinned but never claimed and returns
// how many it released.
func (t *Table) Drain() int {
	t.mu.Lock()
	pending := t.entries
	t.entries = make(map[Handle]*Payload)
	t.mu.Unlock()

	n := 0
	for _, p := range pending {
		if p.Finalize() {
			n++
		}
	}
	return n
}

// EncodeWord writes h as a fixed-width big-endian word.
func EncodeWord(h Handle) []byte {
	buf := make([]byte, WordSize)
	if WordSize == 8 {
		binary.BigEndian.PutUint64(buf, uint64(h))
	} else {
		binary.BigEndian.PutUint32(buf, uint32(h))
	}
	return buf
}

// DecodeWord reads a handle from a fixed-width big-endian word.
func DecodeWord(buf []byte) (Handle, error) {
	if len(buf) != WordSize {
		return NullHandle, fmt.Errorf("word is %d bytes, want %d", len(buf), WordSize)
	}
	if WordSize == 8 {
		return Handle(binary.BigEndian.Uint64(buf)), nil
	}
	return Handle(binary.BigEndian.Uint32(buf)), nil
}

// FormatToken renders h as the decimal text carried on side channels.
func FormatToken(h Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

// ParseToken reverses FormatToken.
func ParseToken(tok string) (Handle, error) {
	v, err := strconv.ParseUint(tok, 10, bits.UintSize)
	if err != nil {
		return NullHandle, fmt.Errorf("parse token %q: %w", tok, err)
	}
	return Handle(v), nil
}
