package testutil

import (
	"fmt"
	"sync"
)

// ScopedIDGenerator issues process IDs of the form "<scope>/<n>", starting
// at 1. Two generators with different scopes never collide in one journal.
type ScopedIDGenerator struct {
	mu    sync.Mutex
	scope string
	n     int
}

// NewScopedIDGenerator creates a generator for scope. An empty scope becomes
// "test".
func NewScopedIDGenerator(scope string) *ScopedIDGenerator {
	if scope == "" {
		scope = "test"
	}
	return &ScopedIDGenerator{scope: scope}
}

// Generate returns the next ID. Implements host.IDGenerator.
func (g *ScopedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s/%d", g.scope, g.n)
}

// Reset restarts numbering at 1.
func (g *ScopedIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
