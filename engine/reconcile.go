/*
reconcile.go - Join financial titles with their discharge events

PURPOSE:
  For a process, fetches every financial title and its discharges, decides
  per discharge whether the payment was late, and prices the lost interest
  for late ones. A title may settle through several partial discharges;
  lost interest and late days are ADDITIVE across them.

FAILURE SEMANTICS:
  Fetching discharges for one title must not abort reconciliation of the
  others. A failed fetch is absorbed as an empty discharge list plus a
  warning diagnostic, and the title still appears in the output. Rate-feed
  failures while pricing, by contrast, are fatal: they mean the market data
  the whole calculation depends on is gone.

CONCURRENCY:
  Discharge fetches for distinct titles are independent reads, so they are
  issued through a small bounded worker set. Output order is still the
  title input order.
*/
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

const defaultFetchWorkers = 4

// ReconcileResult is the outcome of reconciling one process.
type ReconcileResult struct {
	Payments          []EnrichedPayment
	TotalLostInterest decimal.Decimal
}

// Reconciler joins titles with discharges and prices late payments.
type Reconciler struct {
	Titles TitleSource
	Late   *LateInterestCalculator
	Log    *slog.Logger

	// FetchWorkers bounds concurrent discharge fetches. Zero means the
	// default.
	FetchWorkers int
}

func NewReconciler(titles TitleSource, late *LateInterestCalculator) *Reconciler {
	return &Reconciler{Titles: titles, Late: late}
}

// Reconcile fetches titles and discharges for the process and produces
// enriched payment records. Titles are returned in input order.
func (r *Reconciler) Reconcile(ctx context.Context, processID string) (ReconcileResult, error) {
	titles, err := r.Titles.FinancialTitles(ctx, processID)
	if err != nil {
		return ReconcileResult{}, &StageError{Stage: StageReconcile, Err: err}
	}

	discharges := r.fetchDischarges(ctx, titles)

	result := ReconcileResult{
		Payments:          make([]EnrichedPayment, 0, len(titles)),
		TotalLostInterest: decimal.Zero,
	}

	for i, title := range titles {
		enriched := EnrichedPayment{
			Title:        title,
			Discharges:   make([]DischargeDetail, 0, len(discharges[i])),
			LostInterest: decimal.Zero,
		}

		for _, d := range discharges[i] {
			detail, err := r.priceDischarge(ctx, title, d)
			if err != nil {
				return ReconcileResult{}, &StageError{Stage: StageReconcile, Err: err}
			}
			enriched.Discharges = append(enriched.Discharges, detail)
			enriched.LostInterest = enriched.LostInterest.Add(detail.LostInterest)
			enriched.LateDays += detail.LateDays
		}

		result.Payments = append(result.Payments, enriched)
		result.TotalLostInterest = result.TotalLostInterest.Add(enriched.LostInterest)
	}

	return result, nil
}

// priceDischarge annotates one discharge. Lateness is decided here, not in
// the calculator: on-time or zero-amount discharges get zero values.
func (r *Reconciler) priceDischarge(ctx context.Context, title FinancialTitle, d Discharge) (DischargeDetail, error) {
	paymentDate := d.PaymentDate()

	late := d.Amount.IsPositive() && !paymentDate.IsZero() && paymentDate.After(title.DueDate)
	if !late {
		z := ZeroLostInterest()
		return DischargeDetail{
			Discharge:         d,
			LostInterest:      z.LostInterest,
			LateDays:          z.LateDays,
			AccumulatedFactor: z.AccumulatedFactor,
		}, nil
	}

	li, err := r.Late.Compute(ctx, d.Amount, title.DueDate, paymentDate)
	if err != nil {
		return DischargeDetail{}, err
	}
	return DischargeDetail{
		Discharge:         d,
		LostInterest:      li.LostInterest,
		LateDays:          li.LateDays,
		AccumulatedFactor: li.AccumulatedFactor,
	}, nil
}

// fetchDischarges issues the per-title discharge reads through a bounded
// worker set. A failed fetch yields an empty list for that title only.
func (r *Reconciler) fetchDischarges(ctx context.Context, titles []FinancialTitle) [][]Discharge {
	results := make([][]Discharge, len(titles))

	workers := r.FetchWorkers
	if workers <= 0 {
		workers = defaultFetchWorkers
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, title := range titles {
		wg.Add(1)
		go func(i int, title FinancialTitle) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ds, err := r.Titles.Discharges(ctx, title)
			if err != nil {
				r.logger().Warn("discharge fetch failed, continuing with empty list",
					"title", title.TitleCode, "process", title.ProcessRef, "err", err)
				return
			}
			results[i] = ds
		}(i, title)
	}
	wg.Wait()

	return results
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
