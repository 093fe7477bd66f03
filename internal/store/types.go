package store

// ProcessRecord is a journaled bridge process.
type ProcessRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InputKind  string `json:"input_kind"`
	OutputKind string `json:"output_kind"`
	Seq        int64  `json:"seq"`
}

// EventRecord is a journaled bridge event.
type EventRecord struct {
	Seq       int64  `json:"seq"`
	ProcessID string `json:"process_id"`
	Process   string `json:"process,omitempty"`
	Type      string `json:"type"`
	Kind      string `json:"kind,omitempty"`
	Size      int    `json:"size"`
	Text      string `json:"text,omitempty"`
}

// EventFilter narrows ReadEvents. Empty fields match everything.
type EventFilter struct {
	Process string
	Type    string
}
