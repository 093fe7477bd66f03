package store

import (
	"context"
	"fmt"
)

// WriteProcess inserts a process record. Duplicate IDs are ignored.
func (s *Store) WriteProcess(ctx context.Context, p ProcessRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processes (id, name, input_kind, output_kind, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Name, p.InputKind, p.OutputKind, p.Seq)
	if err != nil {
		return fmt.Errorf("write process: %w", err)
	}
	return nil
}

// WriteEvent inserts an event record. The process must already be written.
// Text is NFC normalized; a duplicate (process_id, seq) is ignored.
func (s *Store) WriteEvent(ctx context.Context, e EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, process_id, type, kind, size, text)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, e.Seq, e.ProcessID, e.Type, e.Kind, e.Size, normalizeText(e.Text))
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
