package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-memory [Ledger] for development setups without a
// database and for tests. Safe for concurrent use.
type MemoryLedger struct {
	mu   sync.Mutex
	recs []Record
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{}
}

// Append implements [Ledger].
func (l *MemoryLedger) Append(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.recs {
		if r.ID == rec.ID {
			return fmt.Errorf("ledger: duplicate record id %q", rec.ID)
		}
	}
	l.recs = append(l.recs, rec)
	return nil
}

// Recent implements [Ledger].
func (l *MemoryLedger) Recent(_ context.Context, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, limit)
	for i := len(l.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.recs[i])
	}
	return out, nil
}

// All returns every record in append order. Intended for tests.
func (l *MemoryLedger) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}
