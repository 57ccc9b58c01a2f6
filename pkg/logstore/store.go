// Package logstore persists raw training subprocess output as an
// append-only byte ledger keyed by run ID.
package logstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Log is the stored ledger for one run.
type Log struct {
	RunID     uuid.UUID
	Data      []byte
	UpdatedAt time.Time
}

// Store is an append-only byte ledger. Appends for the same run are
// serialized: a concurrent Read observes a prefix consistent with some total
// order of completed appends, never interleaved byte ranges. Append creates
// the ledger on first use and never truncates prior bytes.
type Store interface {
	// Append adds chunk to the run's ledger and returns the new total size.
	Append(ctx context.Context, runID uuid.UUID, chunk []byte) (int, error)
	// Read returns the full ledger contents, empty when none exists.
	Read(ctx context.Context, runID uuid.UUID) ([]byte, error)
	// Size returns the ledger's current byte count, zero when absent.
	Size(ctx context.Context, runID uuid.UUID) (int, error)
	// Get returns the ledger record, or ok=false when none exists.
	Get(ctx context.Context, runID uuid.UUID) (Log, bool, error)
}
