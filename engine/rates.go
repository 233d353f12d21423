/*
rates.go - CDI accumulation factor over a date range

PURPOSE:
  Composes daily CDI rate samples into a single compounded factor:

    factor = Π (1 + dailyRate_i / 100)

  Rates apply to days AFTER the reference date, never the reference date
  itself: for a title due Jan 10 and paid Jan 15, the factor compounds the
  rates of Jan 11..15. The accumulator therefore shifts the query's lower
  bound forward by one calendar day before asking the rate source.

MISSING DATA:
  An empty window is not necessarily an error. The historical behavior is
  to fall back to factor 1 with a warning, favoring availability over
  correctness. That choice is debatable, so it is a policy on the
  accumulator rather than a hardcoded rule.
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// MissingRatesPolicy decides what an empty rate window means.
type MissingRatesPolicy int

const (
	// MissingRatesFallback returns factor 1 with a warning diagnostic.
	MissingRatesFallback MissingRatesPolicy = iota

	// MissingRatesError fails the calculation with ErrMissingRates.
	MissingRatesError
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Accumulator composes daily rate samples into a compounded factor.
// Read-only; the remote lookup (and its auth-retry semantics) lives in the
// RateSource.
type Accumulator struct {
	Rates  RateSource
	Policy MissingRatesPolicy
	Log    *slog.Logger
}

func NewAccumulator(rates RateSource) *Accumulator {
	return &Accumulator{Rates: rates, Policy: MissingRatesFallback}
}

// Factor returns the compounded CDI factor for the half-open window
// (startExclusive, endInclusive]. If startExclusive >= endInclusive there is
// nothing to accrue and the factor is exactly 1.
func (a *Accumulator) Factor(ctx context.Context, startExclusive, endInclusive Date) (decimal.Decimal, error) {
	if !startExclusive.Before(endInclusive) {
		return one, nil
	}

	samples, err := a.Rates.DailyRates(ctx, startExclusive.AddDays(1), endInclusive)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fetching rates (%s, %s]: %v",
			ErrSourceUnavailable, startExclusive, endInclusive, err)
	}

	samples = dedupeByDay(samples)

	if len(samples) == 0 {
		if a.Policy == MissingRatesError {
			return decimal.Zero, fmt.Errorf("%w: (%s, %s]", ErrMissingRates, startExclusive, endInclusive)
		}
		a.logger().Warn("no CDI samples in window, assuming factor 1",
			"start", startExclusive.String(), "end", endInclusive.String())
		return one, nil
	}

	factor := one
	for _, s := range samples {
		// Zero or negative rates are skipped, not errors.
		if s.DailyRate.IsPositive() {
			factor = factor.Mul(one.Add(s.DailyRate.Div(hundred)))
		}
	}
	return factor, nil
}

// dedupeByDay sorts samples by date ascending and keeps the first sample of
// each calendar day. The source is guaranteed neither sorted nor distinct,
// and a duplicated day must not double-compound.
func dedupeByDay(samples []RateSample) []RateSample {
	sorted := make([]RateSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make([]RateSample, 0, len(sorted))
	for _, s := range sorted {
		if len(out) > 0 && s.Date.Equal(out[len(out)-1].Date) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (a *Accumulator) logger() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}
