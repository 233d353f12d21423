/*
Package sqlite provides a SQLite-backed implementation of
engine.CalculationStore.

PURPOSE:
  Persists calculation records: one row per calculation, with the full
  CalculationResult stored as a JSON payload and a handful of columns
  extracted for history listings. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the calculations table
  - No DELETE statements on the calculations table
  A resubmitted identical input inserts a second row with the same
  input_hash; deduplication is the caller's concern.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/encargos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definition
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/comexflow/encargos/engine"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction. calculated_at
// columns are compared as strings by ORDER BY, and variable-length
// fractions (RFC3339Nano drops trailing zeros) do not sort in timestamp
// order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements engine.CalculationStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Calculations (append-only, one row per orchestration call)
	CREATE TABLE IF NOT EXISTS calculations (
		id TEXT PRIMARY KEY,
		process_id TEXT NOT NULL,
		client_id TEXT,
		input_hash TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		total_disburse TEXT NOT NULL,
		total_charges TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'calculated'
	);

	-- Hot path: latest-per-process lookup and history listing
	CREATE INDEX IF NOT EXISTS idx_calculations_process_date
		ON calculations(process_id, calculated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_calculations_date
		ON calculations(calculated_at DESC);

	-- Idempotence detection by downstream consumers (NOT unique)
	CREATE INDEX IF NOT EXISTS idx_calculations_input_hash
		ON calculations(input_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save inserts one calculation record. Append-only.
func (s *Store) Save(ctx context.Context, rec engine.StoredCalculation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO calculations
		(id, process_id, client_id, input_hash, payload_json,
		 total_disburse, total_charges, calculated_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ProcessID,
		nullString(rec.ClientID),
		rec.InputHash,
		string(payload),
		rec.TotalDisburse.String(),
		rec.TotalCharges.String(),
		rec.CalculatedAt.UTC().Format(timeLayout),
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert calculation: %w", err)
	}
	return nil
}

// GetByID returns the record with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (engine.StoredCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns + ` WHERE id = ?`
	return s.queryOne(ctx, query, id)
}

// LatestForProcess returns the most recent record for a process.
func (s *Store) LatestForProcess(ctx context.Context, processID string) (engine.StoredCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns + ` WHERE process_id = ? ORDER BY calculated_at DESC LIMIT 1`
	return s.queryOne(ctx, query, processID)
}

// List returns records most-recent-first.
func (s *Store) List(ctx context.Context, opts engine.ListOptions) ([]engine.StoredCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := selectColumns
	args := []any{}
	if opts.ProcessID != "" {
		query += ` WHERE process_id = ?`
		args = append(args, opts.ProcessID)
	}
	query += ` ORDER BY calculated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}
	defer rows.Close()

	var out []engine.StoredCalculation
	for rows.Next() {
		rec, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, process_id, client_id, input_hash, payload_json,
	       total_disburse, total_charges, calculated_at, status
	FROM calculations`

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (engine.StoredCalculation, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.StoredCalculation{}, engine.ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalculation(row scanner) (engine.StoredCalculation, error) {
	var (
		rec          engine.StoredCalculation
		clientID     sql.NullString
		payload      string
		disburse     string
		charges      string
		calculatedAt string
	)

	err := row.Scan(&rec.ID, &rec.ProcessID, &clientID, &rec.InputHash, &payload,
		&disburse, &charges, &calculatedAt, &rec.Status)
	if err != nil {
		return engine.StoredCalculation{}, err
	}

	rec.ClientID = clientID.String
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return engine.StoredCalculation{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	if rec.TotalDisburse, err = decimal.NewFromString(disburse); err != nil {
		return engine.StoredCalculation{}, fmt.Errorf("bad total_disburse: %w", err)
	}
	if rec.TotalCharges, err = decimal.NewFromString(charges); err != nil {
		return engine.StoredCalculation{}, fmt.Errorf("bad total_charges: %w", err)
	}
	// RFC3339Nano parses both the fixed-width layout and rows written
	// before it was adopted.
	if rec.CalculatedAt, err = time.Parse(time.RFC3339Nano, calculatedAt); err != nil {
		return engine.StoredCalculation{}, fmt.Errorf("bad calculated_at: %w", err)
	}
	return rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
