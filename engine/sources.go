/*
sources.go - Interfaces for the external collaborators the engine reads from

PURPOSE:
  The ERP and the rate feed are external systems. The engine consumes them
  through these narrow interfaces; the erp package provides the production
  implementation, tests provide stubs.

  All blocking operations take a context. Retry-on-auth-expiry is the
  adapter's responsibility - by the time an error reaches the engine it is
  final for this calculation.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateSource provides daily CDI rate samples.
type RateSource interface {
	// DailyRates returns samples for the inclusive window [from, to].
	// The result is not guaranteed to be sorted.
	DailyRates(ctx context.Context, from, to Date) ([]RateSample, error)

	// Latest returns samples most-recent-first; the first element is
	// treated as the current rate.
	Latest(ctx context.Context) ([]RateSample, error)
}

// ProcessSource provides import-process metadata.
type ProcessSource interface {
	Process(ctx context.Context, id string) (ProcessRecord, error)
}

// InstallmentSource provides the scheduled ERP parcels for a process.
type InstallmentSource interface {
	Installments(ctx context.Context, processID string) ([]Installment, error)
}

// ExpenseSource provides the expense records already booked on a process.
type ExpenseSource interface {
	Expenses(ctx context.Context, processID string) ([]Expense, error)
}

// TitleSource provides financial titles and their discharge events.
type TitleSource interface {
	FinancialTitles(ctx context.Context, processID string) ([]FinancialTitle, error)

	// Discharges returns the settlement events for one title: zero, one or
	// many. The adapter normalizes the source's object-vs-list ambiguity
	// before the engine sees it.
	Discharges(ctx context.Context, title FinancialTitle) ([]Discharge, error)
}

// ExpenseSubmitter is the single write path back to the ERP, used when a
// finalized calculation is submitted downstream.
type ExpenseSubmitter interface {
	SubmitExpense(ctx context.Context, processID string, amount, rate decimal.Decimal, date Date) error
}
