package payload

import "fmt"

// Kind selects how a payload is encoded and decoded at each end of a bridge.
type Kind int

const (
	// Text payloads carry a string and are copied out on the host side.
	Text Kind = iota + 1
	// Opaque payloads carry an arbitrary value and are handed to the host heap.
	Opaque
)

// Host-visible symbols for each kind, stored on process property lists.
const (
	TextSymbol   = "string"
	OpaqueSymbol = "user-ptr"
)

// String returns the host symbol for the kind.
func (k Kind) String() string {
	switch k {
	case Text:
		return TextSymbol
	case Opaque:
		return OpaqueSymbol
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the two defined kinds.
func (k Kind) Valid() bool {
	return k == Text || k == Opaque
}

// ParseKind converts a host symbol back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case TextSymbol:
		return Text, nil
	case OpaqueSymbol:
		return Opaque, nil
	default:
		return 0, fmt.Errorf("unknown payload kind %q", s)
	}
}
