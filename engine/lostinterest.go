/*
lostinterest.go - Opportunity-cost interest on late payments

PURPOSE:
  Given a principal and a due/payment date pair, computes the monetary
  interest lost to the delay via compound capitalization against actual
  daily CDI rates:

    lostInterest = principal * (accumulatedFactor - 1)

  The caller decides lateness. This calculator only measures magnitude
  over an interval; for on-time payments callers use zero values and never
  invoke it.

DAY COUNT:
  lateDays counts the rate samples published in the inclusive window
  [dueDate, paymentDate] minus one: the first sample belongs to the day
  after the due date, so samples-1 is the elapsed rate-day count. An empty
  window counts as zero late days.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LostInterest is the outcome of pricing one late interval.
type LostInterest struct {
	LostInterest      decimal.Decimal `json:"lostInterest"`
	AccumulatedFactor decimal.Decimal `json:"accumulatedFactor"`
	LateDays          int             `json:"lateDays"`
}

// ZeroLostInterest is the value for on-time or zero-amount discharges.
func ZeroLostInterest() LostInterest {
	return LostInterest{LostInterest: decimal.Zero, AccumulatedFactor: one, LateDays: 0}
}

// LateInterestCalculator computes lost interest via the rate accumulator.
type LateInterestCalculator struct {
	Accumulator *Accumulator
}

func NewLateInterestCalculator(acc *Accumulator) *LateInterestCalculator {
	return &LateInterestCalculator{Accumulator: acc}
}

// Compute prices the interval (dueDate, paymentDate] for the given
// principal. Full precision is kept internally; rounding to cents is the
// presentation layer's concern.
func (c *LateInterestCalculator) Compute(ctx context.Context, principal decimal.Decimal, dueDate, paymentDate Date) (LostInterest, error) {
	factor, err := c.Accumulator.Factor(ctx, dueDate, paymentDate)
	if err != nil {
		return LostInterest{}, err
	}

	lost := principal.Mul(factor.Sub(one))

	samples, err := c.Accumulator.Rates.DailyRates(ctx, dueDate, paymentDate)
	if err != nil {
		return LostInterest{}, fmt.Errorf("%w: counting rate days [%s, %s]: %v",
			ErrSourceUnavailable, dueDate, paymentDate, err)
	}
	samples = dedupeByDay(samples)

	days := 0
	if len(samples) > 0 {
		days = len(samples) - 1
	}

	return LostInterest{
		LostInterest:      lost,
		AccumulatedFactor: factor,
		LateDays:          days,
	}, nil
}
