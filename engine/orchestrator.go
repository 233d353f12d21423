/*
orchestrator.go - Top-level calculation flow

PURPOSE:
  One orchestration call handles one process, in a single pass:

    Fetch -> Normalize -> ComputeMovements -> Reconcile -> Aggregate
          -> Validate -> Persist

  Any fetch failing is fatal for the calculation; no partial result is
  ever persisted. Failures after fetch surface with their stage attached
  so callers can tell "no data" from "computation error" from "validation
  error".

RATE PRIORITY:
  The daily CDI rate for scheduled movements is the caller's override when
  supplied, else the most recent fetched sample, else zero. The spot rate
  always comes from caller input. Reconciliation ignores the override and
  always prices against fetched market rates.

IDEMPOTENCE:
  The persisted record carries a content hash of the input. Identical
  resubmissions produce distinct records with equal hashes; the engine
  enforces nothing beyond that.
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// existingChargeMarker flags expenses already booked as financing interest,
// guarding against double-charging a process.
const existingChargeMarker = "ENCARGOS FINANCEIROS"

// Orchestrator owns construction of CalculationResult. No shared mutable
// state: each Calculate call computes into its own local result.
type Orchestrator struct {
	Processes    ProcessSource
	Rates        RateSource
	Installments InstallmentSource
	Expenses     ExpenseSource
	Reconciler   *Reconciler
	Store        CalculationStore
	Log          *slog.Logger

	// Now and NewID exist for deterministic tests. Nil means the defaults.
	Now   func() time.Time
	NewID func() string
}

// processData is everything FetchProcessData gathers.
type processData struct {
	process      ProcessRecord
	latestRates  []RateSample
	installments []Installment
	expenses     []Expense
}

// Calculate runs one full calculation for the input and persists the
// result. The returned result is already stored when err is nil.
func (o *Orchestrator) Calculate(ctx context.Context, in CalculationInput) (*CalculationResult, error) {
	data, err := o.fetchProcessData(ctx, in.ProcessID)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}

	result := o.normalize(in, data)

	// Scheduled financing interest uses the resolved (possibly overridden)
	// daily rate; reconciliation below deliberately does not.
	result.Movements = ComputeMovements(o.resolveInstallments(in, data), result.Exchange.CDIDaily, result.Exchange.SpotRate)

	recon, err := o.Reconciler.Reconcile(ctx, result.ProcessID)
	if err != nil {
		return nil, err
	}
	result.EnrichedPayments = recon.Payments

	o.aggregate(result, recon, data.expenses)

	if err := ValidateResult(result); err != nil {
		return nil, &StageError{Stage: StageValidate, Err: err}
	}

	if err := o.persist(ctx, result); err != nil {
		return nil, &StageError{Stage: StagePersist, Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
	}

	o.logger().Info("calculation persisted",
		"id", result.ID, "process", result.ProcessID,
		"movements", len(result.Movements), "hash", result.InputHash)

	return result, nil
}

// fetchProcessData issues the four independent reads concurrently. Any
// single failure fails the whole fetch.
func (o *Orchestrator) fetchProcessData(ctx context.Context, processID string) (processData, error) {
	var (
		data processData
		wg   sync.WaitGroup
		errs [4]error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		data.process, errs[0] = o.Processes.Process(ctx, processID)
	}()
	go func() {
		defer wg.Done()
		data.latestRates, errs[1] = o.Rates.Latest(ctx)
	}()
	go func() {
		defer wg.Done()
		data.installments, errs[2] = o.Installments.Installments(ctx, processID)
	}()
	go func() {
		defer wg.Done()
		data.expenses, errs[3] = o.Expenses.Expenses(ctx, processID)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return processData{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}
	return data, nil
}

// normalize resolves identifiers, costs and rates into the result shell.
func (o *Orchestrator) normalize(in CalculationInput, data processData) *CalculationResult {
	processID := data.process.ID
	if processID == "" {
		processID = in.ProcessID
	}
	clientID := data.process.ClientRef
	if clientID == "" {
		clientID = in.ClientID
	}
	if clientID == "" {
		clientID = "N/A"
	}

	costs := Costs{
		FOB:       data.process.FOBValue,
		Freight:   data.process.FreightValue,
		Insurance: data.process.InsuranceValue,
	}
	costs.CIF = costs.FOB.Add(costs.Freight).Add(costs.Insurance)

	// Manual override wins; else the current fetched sample; else zero.
	cdiDaily := in.DailyCDIOverride
	if cdiDaily.IsZero() && len(data.latestRates) > 0 {
		cdiDaily = data.latestRates[0].DailyRate
	}

	return &CalculationResult{
		ID:           o.newID(),
		ProcessID:    processID,
		ClientID:     clientID,
		InputHash:    InputHash(in),
		EmissionDate: in.EmissionDate,
		Costs:        costs,
		Exchange: Exchange{
			CDIDaily:         cdiDaily,
			SpotRate:         in.SpotRate,
			ForwardRate:      decimal.Zero,
			FiscalDollarRate: data.process.FiscalExchangeRate,
			CIFInBRL:         costs.CIF.Mul(data.process.FiscalExchangeRate),
		},
		Expenses: normalizeExpenses(data.expenses),
		Status:   StatusCalculated,
	}
}

// resolveInstallments applies the source priority: a non-empty caller list
// overrides fetched ERP parcels. Both empty means zero movements, not an
// error.
func (o *Orchestrator) resolveInstallments(in CalculationInput, data processData) []Installment {
	if len(in.Payments) > 0 {
		return in.Payments
	}
	return data.installments
}

func normalizeExpenses(expenses []Expense) []Expense {
	out := make([]Expense, 0, len(expenses))
	out = append(out, expenses...)
	return out
}

// aggregate fills totals, the double-charge guard and the summary block.
func (o *Orchestrator) aggregate(result *CalculationResult, recon ReconcileResult, expenses []Expense) {
	totals := Totals{
		Disburse:     decimal.Zero,
		Interest:     decimal.Zero,
		LostInterest: recon.TotalLostInterest,
	}
	for _, m := range result.Movements {
		totals.Disburse = totals.Disburse.Add(m.Principal)
		totals.Interest = totals.Interest.Add(m.Interest)
	}
	totals.Charges = totals.Disburse.Add(totals.Interest)
	result.Totals = totals

	result.HasExistingInterestCharge = hasExistingCharge(expenses)

	effectiveRate := decimal.Zero
	if totals.Disburse.IsPositive() {
		effectiveRate = totals.Interest.Div(totals.Disburse).Mul(hundred)
	}
	result.Summary = Summary{
		Count:         len(result.Movements),
		CalculatedAt:  o.now(),
		EffectiveRate: effectiveRate,
	}

	if result.Movements == nil {
		result.Movements = []Movement{}
	}
	if result.EnrichedPayments == nil {
		result.EnrichedPayments = []EnrichedPayment{}
	}
}

func hasExistingCharge(expenses []Expense) bool {
	for _, e := range expenses {
		if strings.Contains(strings.ToUpper(e.Description), existingChargeMarker) ||
			strings.Contains(strings.ToUpper(e.Type), existingChargeMarker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) persist(ctx context.Context, result *CalculationResult) error {
	return o.Store.Save(ctx, StoredCalculation{
		ID:            result.ID,
		ProcessID:     result.ProcessID,
		ClientID:      result.ClientID,
		InputHash:     result.InputHash,
		Payload:       *result,
		TotalDisburse: result.Totals.Disburse,
		TotalCharges:  result.Totals.Charges,
		CalculatedAt:  result.Summary.CalculatedAt,
		Status:        result.Status,
	})
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}
