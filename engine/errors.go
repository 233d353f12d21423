/*
errors.go - Centralized error types for the calculation engine

PURPOSE:
  All error kinds in one place. The HTTP layer maps these to status codes,
  so classification has to be stable across the engine.

ERROR CATEGORIES:
  1. SourceUnavailable - an external collaborator read failed
  2. Validation        - the assembled result failed schema conformance
  3. Persistence       - storage write failed after a valid result
  4. NotFound          - a stored calculation lookup missed

  Partial data gaps (missing discharges, empty rate windows) are NOT errors:
  they are absorbed locally with a documented fallback and a diagnostic log.

USAGE:
  if engine.IsValidation(err) { // 422
  if engine.IsUnavailable(err) { // 502
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSourceUnavailable is returned when an external collaborator read
	// fails after the adapter's own retry policy is exhausted. Fatal for the
	// current calculation; the engine does not retry.
	ErrSourceUnavailable = errors.New("external source unavailable")

	// ErrValidation is returned when the assembled CalculationResult fails
	// schema conformance. The calculation is discarded, nothing is persisted.
	ErrValidation = errors.New("calculation result failed validation")

	// ErrPersistence is returned when the store write fails after a valid
	// result was computed. Callers can retry persistence without recomputing.
	ErrPersistence = errors.New("calculation persistence failed")

	// ErrMissingRates is returned by the accumulator under
	// MissingRatesError policy when a window contains no rate samples.
	ErrMissingRates = errors.New("no rate samples in window")

	// ErrNotFound is returned by stores when a calculation lookup misses.
	ErrNotFound = errors.New("calculation not found")
)

// =============================================================================
// STAGE ERRORS - Orchestration failures carry the stage they happened in
// =============================================================================

type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageMovements Stage = "movements"
	StageReconcile Stage = "reconcile"
	StageAggregate Stage = "aggregate"
	StageValidate  Stage = "validate"
	StagePersist   Stage = "persist"
)

// StageError wraps an orchestration failure with the stage it occurred in,
// so callers can distinguish "no data" from "computation error" from
// "validation error".
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("calculation failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// =============================================================================
// VALIDATION ERRORS - Field-level detail for schema failures
// =============================================================================

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string { return e.Field + ": " + e.Reason }

// ResultValidationError lists every field-level violation found in an
// assembled CalculationResult.
type ResultValidationError struct {
	Fields []FieldError
}

func (e *ResultValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%v: %s (and %d more)", ErrValidation, e.Fields[0], len(e.Fields)-1)
}

func (e *ResultValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsUnavailable(err error) bool { return errors.Is(err, ErrSourceUnavailable) }
func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }
func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }

// StageOf extracts the failed stage from an orchestration error, or "".
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
