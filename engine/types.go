/*
Package engine computes financial carrying charges (encargos) on
import-process payment installments.

PURPOSE:
  This package contains the calculation core: CDI rate compounding, lost
  interest on late payments, straight-line financing interest on scheduled
  installments, and the orchestration that reconciles ERP data into a single
  persisted calculation record.

KEY CONCEPTS IN THIS FILE (types.go):
  - Date: A calendar day (all rate and due dates are day-granular)
  - RateSample: One daily CDI rate, as a percentage per day
  - Installment: A scheduled payment leg (principal + elapsed days)
  - Movement: The financing interest computed for one installment
  - FinancialTitle/Discharge: A receivable and its settlement events
  - CalculationResult: The top-level persisted aggregate

DESIGN PRINCIPLES:
  1. Immutability: Movements and enriched payments are built once, never mutated
  2. Precision: Uses decimal.Decimal for all money and rate arithmetic
  3. Canonical shapes: The engine never sees raw ERP field names; the erp
     package normalizes everything before it gets here
  4. Auditability: Every persisted result carries a content hash of its input

SEE ALSO:
  - rates.go: CDI factor compounding
  - movements.go: Straight-line installment interest
  - reconcile.go: Title/discharge reconciliation
  - orchestrator.go: Top-level calculation flow
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Calendar day (the engine never needs finer granularity)
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// Comparison
func (d Date) Before(other Date) bool { return d.normalize().Before(other.normalize()) }
func (d Date) After(other Date) bool  { return d.normalize().After(other.normalize()) }
func (d Date) Equal(other Date) bool  { return d.normalize().Equal(other.normalize()) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string { return d.normalize().Format("2006-01-02") }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == `""` || s == "null" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(`"2006-01-02"`, s)
	if err != nil {
		// Accept full timestamps too; callers sometimes hand us RFC3339.
		t, err = time.Parse(`"`+time.RFC3339+`"`, s)
		if err != nil {
			return err
		}
	}
	*d = DateOf(t)
	return nil
}

// =============================================================================
// RATE SAMPLE - One daily CDI rate
// =============================================================================

// RateSample is a published daily CDI rate. DailyRate is a percentage per
// day (0.045 means 0.045% per day). At most one sample per calendar day is
// meaningful; the accumulator dedupes by day before compounding.
type RateSample struct {
	Date      Date            `json:"date"`
	DailyRate decimal.Decimal `json:"dailyRate"`
}

// =============================================================================
// INSTALLMENT / MOVEMENT - Scheduled financing legs
// =============================================================================

// Installment is a scheduled payment leg, either supplied by the caller or
// derived from fetched ERP parcels. Principal is in the process currency
// (typically USD). Consumed once into a Movement.
type Installment struct {
	Principal     decimal.Decimal `json:"principal"`
	ScheduledDate Date            `json:"scheduledDate"`
	ElapsedDays   int             `json:"elapsedDays"`
	Description   string          `json:"description"`
}

// Movement is the result of applying a daily rate to an Installment.
type Movement struct {
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	ElapsedDays int             `json:"elapsedDays"`
	SpotRate    decimal.Decimal `json:"spotRate"`
	Principal   decimal.Decimal `json:"principal"`
	Interest    decimal.Decimal `json:"interest"`
	Total       decimal.Decimal `json:"total"`
}

// =============================================================================
// FINANCIAL TITLE / DISCHARGE - Receivables and their settlements
// =============================================================================

// FinancialTitle is a scheduled receivable/payable document with a due date.
type FinancialTitle struct {
	CompanyCode  string          `json:"companyCode"`
	DocumentCode string          `json:"documentCode"`
	DocumentType int             `json:"documentType"`
	TitleCode    string          `json:"titleCode"`
	DueDate      Date            `json:"dueDate"`
	ProcessRef   string          `json:"processRef"`
	Amount       decimal.Decimal `json:"amount"`
}

// Discharge is a settlement event against a title, possibly partial.
// Either MovementDate or SettlementDate may be absent in the source.
type Discharge struct {
	MovementDate   Date            `json:"movementDate"`
	SettlementDate Date            `json:"settlementDate"`
	Amount         decimal.Decimal `json:"amount"`
}

// PaymentDate resolves the effective payment date: movement date when
// present, settlement date otherwise.
func (d Discharge) PaymentDate() Date {
	if !d.MovementDate.IsZero() {
		return d.MovementDate
	}
	return d.SettlementDate
}

// DischargeDetail is a Discharge annotated with its lost-interest figures.
type DischargeDetail struct {
	Discharge
	LostInterest      decimal.Decimal `json:"lostInterest"`
	LateDays          int             `json:"lateDays"`
	AccumulatedFactor decimal.Decimal `json:"accumulatedFactor"`
}

// EnrichedPayment is a title joined with its annotated discharges.
// LostInterest and LateDays are additive across partial discharges.
type EnrichedPayment struct {
	Title        FinancialTitle    `json:"title"`
	Discharges   []DischargeDetail `json:"discharges"`
	LostInterest decimal.Decimal   `json:"lostInterest"`
	LateDays     int               `json:"lateDays"`
}

// =============================================================================
// PROCESS / EXPENSE - External collaborator records (canonical shapes)
// =============================================================================

type ProcessRecord struct {
	ID                 string          `json:"id"`
	ClientRef          string          `json:"clientRef"`
	FOBValue           decimal.Decimal `json:"fobValue"`
	FreightValue       decimal.Decimal `json:"freightValue"`
	InsuranceValue     decimal.Decimal `json:"insuranceValue"`
	FiscalExchangeRate decimal.Decimal `json:"fiscalExchangeRate"`
}

type Expense struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// =============================================================================
// CALCULATION INPUT / RESULT - The orchestrator's contract
// =============================================================================

// CalculationInput is the caller-supplied request for one calculation.
//
// DailyCDIOverride, when non-zero, wins over the most recent fetched rate
// sample for the scheduled-installment path. It never affects the
// late-payment reconciliation path, which always prices against actual
// market rates.
type CalculationInput struct {
	ProcessID        string          `json:"processId"`
	ClientID         string          `json:"clientId"`
	EmissionDate     Date            `json:"emissionDate"`
	DailyCDIOverride decimal.Decimal `json:"dailyCDIOverride"`
	SpotRate         decimal.Decimal `json:"spotRate"`
	Payments         []Installment   `json:"payments"`
}

type Costs struct {
	FOB       decimal.Decimal `json:"fob"`
	Freight   decimal.Decimal `json:"freight"`
	Insurance decimal.Decimal `json:"insurance"`
	CIF       decimal.Decimal `json:"cif"`
}

type Exchange struct {
	CDIDaily         decimal.Decimal `json:"cdiDaily"`
	SpotRate         decimal.Decimal `json:"spotRate"`
	ForwardRate      decimal.Decimal `json:"forwardRate"`
	FiscalDollarRate decimal.Decimal `json:"fiscalDollarRate"`
	CIFInBRL         decimal.Decimal `json:"cifInBRL"`
}

type Totals struct {
	Disburse     decimal.Decimal `json:"disburse"`
	Interest     decimal.Decimal `json:"interest"`
	LostInterest decimal.Decimal `json:"lostInterest"`
	Charges      decimal.Decimal `json:"charges"`
}

// Summary is always present, even when there are zero movements.
type Summary struct {
	Count         int             `json:"count"`
	CalculatedAt  time.Time       `json:"calculatedAt"`
	EffectiveRate decimal.Decimal `json:"effectiveRate"`
}

const StatusCalculated = "calculated"

// CalculationResult is the top-level aggregate. Built exclusively by the
// Orchestrator, persisted once as an insert, never updated.
type CalculationResult struct {
	ID                        string            `json:"id"`
	ProcessID                 string            `json:"processId"`
	ClientID                  string            `json:"clientId"`
	InputHash                 string            `json:"inputHash"`
	EmissionDate              Date              `json:"emissionDate"`
	Costs                     Costs             `json:"costs"`
	Exchange                  Exchange          `json:"exchange"`
	Movements                 []Movement        `json:"movements"`
	Expenses                  []Expense         `json:"expenses"`
	EnrichedPayments          []EnrichedPayment `json:"enrichedPayments"`
	Totals                    Totals            `json:"totals"`
	HasExistingInterestCharge bool              `json:"hasExistingInterestCharge"`
	Summary                   Summary           `json:"summary"`
	Status                    string            `json:"status"`
}
