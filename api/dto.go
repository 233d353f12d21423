/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  engine's domain model from the external contract. Field names follow the
  frontend's Portuguese vocabulary where it already existed (taxaCDI,
  taxaConecta) so existing clients keep working.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/comexflow/encargos/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PaymentRequest is one caller-supplied installment (manual override of the
// fetched ERP parcels).
type PaymentRequest struct {
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
	DueDate     engine.Date     `json:"dueDate"`
	Days        int             `json:"days"`
}

// CalculateRequest asks for one calculation run.
type CalculateRequest struct {
	ProcessID    string           `json:"processId"`
	ClientID     string           `json:"clienteId"`
	EmissionDate engine.Date      `json:"emissionDate"`
	TaxaCDI      decimal.Decimal  `json:"taxaCDI"`     // manual daily CDI override, percent per day
	TaxaConecta  decimal.Decimal  `json:"taxaConecta"` // contracted spot rate, percent
	Payments     []PaymentRequest `json:"payments"`
}

func (r CalculateRequest) toInput() engine.CalculationInput {
	payments := make([]engine.Installment, 0, len(r.Payments))
	for _, p := range r.Payments {
		payments = append(payments, engine.Installment{
			Principal:     p.Value,
			ScheduledDate: p.DueDate,
			ElapsedDays:   p.Days,
			Description:   p.Description,
		})
	}
	return engine.CalculationInput{
		ProcessID:        r.ProcessID,
		ClientID:         r.ClientID,
		EmissionDate:     r.EmissionDate,
		DailyCDIOverride: r.TaxaCDI,
		SpotRate:         r.TaxaConecta,
		Payments:         payments,
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CalculationSummaryDTO is one row of the history listing.
type CalculationSummaryDTO struct {
	ID            string          `json:"id"`
	ProcessID     string          `json:"processId"`
	ClientID      string          `json:"clientId,omitempty"`
	InputHash     string          `json:"inputHash"`
	TotalDisburse decimal.Decimal `json:"totalDisburse"`
	TotalCharges  decimal.Decimal `json:"totalCharges"`
	CalculatedAt  time.Time       `json:"calculatedAt"`
	Status        string          `json:"status"`
}

func toSummaryDTO(rec engine.StoredCalculation) CalculationSummaryDTO {
	return CalculationSummaryDTO{
		ID:            rec.ID,
		ProcessID:     rec.ProcessID,
		ClientID:      rec.ClientID,
		InputHash:     rec.InputHash,
		TotalDisburse: rec.TotalDisburse,
		TotalCharges:  rec.TotalCharges,
		CalculatedAt:  rec.CalculatedAt,
		Status:        rec.Status,
	}
}

// ProcessDTO is the normalized process detail plus its scheduled parcels.
type ProcessDTO struct {
	Process  engine.ProcessRecord `json:"process"`
	Payments []engine.Installment `json:"payments"`

	// ParcelsError carries the diagnostic when the parcel fetch failed;
	// the route still answers with the process.
	ParcelsError string `json:"parcelsError,omitempty"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	Status        string `json:"status"`
	CalculationID string `json:"calculationId"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
