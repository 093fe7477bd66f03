package store

import (
	"context"
	"log/slog"

	"github.com/roach88/pipebridge/internal/host"
	"github.com/roach88/pipebridge/internal/payload"
)

// Recorder journals host events. Write failures are logged and recording
// continues, so a broken journal never stops the bridge.
type Recorder struct {
	store  *Store
	ctx    context.Context
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to s under ctx.
func NewRecorder(ctx context.Context, s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, ctx: ctx, logger: logger}
}

// Track journals proc's identity and kinds. Call it once per process before
// its first event.
func (r *Recorder) Track(proc *host.Process) {
	rec := ProcessRecord{
		ID:         proc.ID(),
		Name:       proc.Name(),
		InputKind:  kindSymbol(proc, host.PropType),
		OutputKind: kindSymbol(proc, host.PropReturn),
		Seq:        proc.Runtime().Clock().Current(),
	}
	if err := r.store.WriteProcess(r.ctx, rec); err != nil {
		r.logger.Error("journal process", "process", rec.Name, "error", err)
	}
}

// Observe is a host.Observer.
func (r *Recorder) Observe(ev host.Event) {
	rec := EventRecord{
		Seq:       ev.Seq,
		ProcessID: ev.ProcessID,
		Type:      string(ev.Type),
		Size:      ev.Size,
		Text:      ev.Text,
	}
	if ev.Kind.Valid() {
		rec.Kind = ev.Kind.String()
	}
	if err := r.store.WriteEvent(r.ctx, rec); err != nil {
		r.logger.Error("journal event", "process", ev.Process, "seq", ev.Seq, "error", err)
	}
}

func kindSymbol(proc *host.Process, key string) string {
	v, _ := proc.Get(key)
	if k, ok := v.(payload.Kind); ok && k.Valid() {
		return k.String()
	}
	return ""
}
