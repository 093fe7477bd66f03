package store

import (
	"context"
	"fmt"
	"strings"
)

// ReadProcesses returns every journaled process ordered by seq.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadProcesses(ctx context.Context) ([]ProcessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, input_kind, output_kind, seq
		FROM processes
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	defer rows.Close()

	procs := []ProcessRecord{}
	for rows.Next() {
		var p ProcessRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.InputKind, &p.OutputKind, &p.Seq); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processes: %w", err)
	}
	return procs, nil
}

// ReadEvents returns journaled events matching f in seq order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Process != "" {
		where = append(where, "p.name = ?")
		args = append(args, f.Process)
	}
	if f.Type != "" {
		where = append(where, "e.type = ?")
		args = append(args, f.Type)
	}

	query := `
		SELECT e.seq, e.process_id, p.name, e.type, e.kind, e.size, e.text
		FROM events e
		JOIN processes p ON e.process_id = p.id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY e.seq ASC, e.process_id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.Seq, &e.ProcessID, &e.Process, &e.Type, &e.Kind, &e.Size, &e.Text); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
