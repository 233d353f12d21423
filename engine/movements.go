/*
movements.go - Straight-line financing interest on scheduled installments

PURPOSE:
  Applies a single daily rate to each scheduled installment:

    interest = principal * (dailyRate / 100) * elapsedDays
    total    = principal + interest

  This is simple, non-compounded interest - deliberately different from the
  compounding in rates.go. This path prices financing cost on a KNOWN
  upcoming schedule; compounding is reserved for retroactive lateness
  measured against actual daily market rates.
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// ComputeMovements turns installments into movements using a single daily
// rate (percent per day) and a spot exchange rate (carried through for
// presentation). Output order equals input order. Negative elapsed-day
// counts are taken as provided and yield negative interest.
func ComputeMovements(installments []Installment, dailyRatePct, spotRatePct decimal.Decimal) []Movement {
	movements := make([]Movement, 0, len(installments))
	for _, ins := range installments {
		days := decimal.NewFromInt(int64(ins.ElapsedDays))
		interest := ins.Principal.Mul(dailyRatePct.Div(hundred)).Mul(days)

		movements = append(movements, Movement{
			Date:        ins.ScheduledDate,
			Description: ins.Description,
			ElapsedDays: ins.ElapsedDays,
			SpotRate:    spotRatePct,
			Principal:   ins.Principal,
			Interest:    interest,
			Total:       ins.Principal.Add(interest),
		})
	}
	return movements
}
