package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh journal in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProcess(id, name string, seq int64) ProcessRecord {
	return ProcessRecord{ID: id, Name: name, InputKind: "string", OutputKind: "string", Seq: seq}
}
