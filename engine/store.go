/*
store.go - Persistence interface for calculation records

PURPOSE:
  Defines the interface between the engine and calculation storage.

APPEND-ONLY CONTRACT:
  Save() is the ONLY write operation. A calculation record is never
  updated or deleted; resubmitting identical input produces a second
  record carrying the same input hash. Deduplicating by hash is the
  caller's concern, never the store's.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - engine/store: in-memory store for tests and dev
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StoredCalculation is one persisted row: the full result as an opaque
// payload plus the few columns history listings are served from.
type StoredCalculation struct {
	ID            string
	ProcessID     string
	ClientID      string
	InputHash     string
	Payload       CalculationResult
	TotalDisburse decimal.Decimal
	TotalCharges  decimal.Decimal
	CalculatedAt  time.Time
	Status        string
}

// ListOptions filters a history listing. Zero Limit means the store default.
type ListOptions struct {
	Limit     int
	ProcessID string
}

// CalculationStore persists calculation records. Append-only.
type CalculationStore interface {
	// Save inserts one record. It never merges with or replaces an
	// existing record, even for an identical input hash.
	Save(ctx context.Context, rec StoredCalculation) error

	// GetByID returns the record with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (StoredCalculation, error)

	// LatestForProcess returns the most recently calculated record for a
	// process, or ErrNotFound.
	LatestForProcess(ctx context.Context, processID string) (StoredCalculation, error)

	// List returns records most-recent-first.
	List(ctx context.Context, opts ListOptions) ([]StoredCalculation, error)
}
