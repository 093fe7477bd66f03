package harness

// TraceEvent is one bridge event as seen by the harness.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Type   string `json:"type"` // "send", "deliver" or "close"
	Worker string `json:"worker"`
	Kind   string `json:"kind,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every send, deliver and close in seq order.
	Trace []TraceEvent `json:"trace"`

	// Delivered maps worker name to the results its handler received, in
	// delivery order. Opaque results are recorded as their text form.
	Delivered map[string][]string `json:"delivered,omitempty"`

	// Finalized counts sent data payloads whose finalizer ran before the
	// assertions were evaluated.
	Finalized int `json:"finalized"`

	// Errors contains step failures and assertion messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Delivered: make(map[string][]string),
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
