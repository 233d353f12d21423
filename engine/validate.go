/*
validate.go - Schema conformance check before persistence

PURPOSE:
  The assembled CalculationResult must conform to a fixed shape before it
  is committed to storage. This is the principal automatic correctness
  check: a violation is fatal, the calculation is discarded and nothing is
  persisted.

  Checks are explicit and exhaustive rather than reflective: every rule a
  downstream consumer relies on is named here.
*/
package engine

import "fmt"

// ValidateResult checks an assembled CalculationResult against the
// persisted-record schema. Returns nil when conformant, otherwise a
// *ResultValidationError listing every violation.
func ValidateResult(r *CalculationResult) error {
	var fields []FieldError

	add := func(field, reason string) {
		fields = append(fields, FieldError{Field: field, Reason: reason})
	}

	if r.ID == "" {
		add("id", "must be set")
	}
	if r.ProcessID == "" {
		add("processId", "must be set")
	}
	if r.InputHash == "" {
		add("inputHash", "must be set")
	}
	if r.Status == "" {
		add("status", "must be set")
	}
	if r.Movements == nil {
		add("movements", "must be a list, not null")
	}
	if r.Expenses == nil {
		add("expenses", "must be a list, not null")
	}
	if r.EnrichedPayments == nil {
		add("enrichedPayments", "must be a list, not null")
	}

	// Costs are internally consistent.
	if !r.Costs.CIF.Equal(r.Costs.FOB.Add(r.Costs.Freight).Add(r.Costs.Insurance)) {
		add("costs.cif", "must equal fob + freight + insurance")
	}

	// Each movement carries its own arithmetic.
	for i, m := range r.Movements {
		if !m.Total.Equal(m.Principal.Add(m.Interest)) {
			add(indexed("movements", i, "total"), "must equal principal + interest")
		}
	}

	// Totals agree with the parts they summarize.
	if !r.Totals.Charges.Equal(r.Totals.Disburse.Add(r.Totals.Interest)) {
		add("totals.charges", "must equal disburse + interest")
	}

	// The summary block is always present and counts the movements.
	if r.Summary.Count != len(r.Movements) {
		add("summary.count", "must equal the number of movements")
	}
	if r.Summary.CalculatedAt.IsZero() {
		add("summary.calculatedAt", "must be set")
	}

	if len(fields) == 0 {
		return nil
	}
	return &ResultValidationError{Fields: fields}
}

func indexed(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}
