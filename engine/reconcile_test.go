package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comexflow/encargos/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReconciler(titles *stubTitles, rates engine.RateSource) *engine.Reconciler {
	r := engine.NewReconciler(titles, newLateCalc(rates))
	r.Log = quietLog()
	return r
}

func title(code string, due engine.Date, amount string) engine.FinancialTitle {
	return engine.FinancialTitle{
		CompanyCode:  "2",
		DocumentCode: "DOC-" + code,
		DocumentType: 22,
		TitleCode:    code,
		DueDate:      due,
		ProcessRef:   "IMP-001",
		Amount:       dec(amount),
	}
}

// =============================================================================
// LATENESS DECISION TESTS
// =============================================================================

func TestReconcile_OnTimePayment_ZeroValues(t *testing.T) {
	// GIVEN: A title paid exactly on its due date
	// WHEN: Reconciling
	// THEN: Zero lost interest, zero late days, factor 1

	titles := &stubTitles{
		titles: []engine.FinancialTitle{title("T1", jan(10), "5000")},
		discharges: map[string][]engine.Discharge{
			"T1": {{MovementDate: jan(10), Amount: dec("5000")}},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	require.Len(t, result.Payments[0].Discharges, 1)

	d := result.Payments[0].Discharges[0]
	assert.True(t, d.LostInterest.IsZero())
	assert.Equal(t, 0, d.LateDays)
	assert.True(t, d.AccumulatedFactor.Equal(dec("1")))
	assert.True(t, result.TotalLostInterest.IsZero())
}

func TestReconcile_ZeroAmountDischarge_NotPriced(t *testing.T) {
	// GIVEN: A late discharge carrying a zero amount
	// WHEN: Reconciling
	// THEN: It is recorded but never priced

	titles := &stubTitles{
		titles: []engine.FinancialTitle{title("T1", jan(10), "5000")},
		discharges: map[string][]engine.Discharge{
			"T1": {{MovementDate: jan(20), Amount: dec("0")}},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	require.Len(t, result.Payments[0].Discharges, 1)
	assert.True(t, result.Payments[0].LostInterest.IsZero())
	assert.Equal(t, 0, result.Payments[0].LateDays)
}

func TestReconcile_LatePayment_Priced(t *testing.T) {
	// GIVEN: A 10,000 title due Jan 10, settled Jan 15, 0.04%/day market
	// WHEN: Reconciling
	// THEN: The discharge carries factor 1.0004^5 and 5 late days

	titles := &stubTitles{
		titles: []engine.FinancialTitle{title("T1", jan(10), "10000")},
		discharges: map[string][]engine.Discharge{
			"T1": {{MovementDate: jan(15), Amount: dec("10000")}},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	payment := result.Payments[0]
	require.Len(t, payment.Discharges, 1)

	wantFactor := 1.0004 * 1.0004 * 1.0004 * 1.0004 * 1.0004
	assert.InDelta(t, wantFactor, payment.Discharges[0].AccumulatedFactor.InexactFloat64(), 1e-9)
	assert.Equal(t, 5, payment.LateDays)
	assert.InDelta(t, 10000*(wantFactor-1), result.TotalLostInterest.InexactFloat64(), 1e-6)
}

func TestReconcile_SettlementDateFallback(t *testing.T) {
	// GIVEN: A discharge with no movement date, only a settlement date
	// WHEN: Reconciling
	// THEN: Lateness is judged against the settlement date

	titles := &stubTitles{
		titles: []engine.FinancialTitle{title("T1", jan(10), "10000")},
		discharges: map[string][]engine.Discharge{
			"T1": {{SettlementDate: jan(12), Amount: dec("10000")}},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Payments[0].LateDays)
	assert.True(t, result.Payments[0].LostInterest.IsPositive())
}

// =============================================================================
// PARTIAL DISCHARGE TESTS
// =============================================================================

func TestReconcile_PartialDischarges_Additive(t *testing.T) {
	// GIVEN: One title settled through two partial discharges, 2 and 5 days late
	// WHEN: Reconciling
	// THEN: Lost interest and late days sum across the partials

	titles := &stubTitles{
		titles: []engine.FinancialTitle{title("T1", jan(10), "10000")},
		discharges: map[string][]engine.Discharge{
			"T1": {
				{MovementDate: jan(12), Amount: dec("4000")},
				{MovementDate: jan(15), Amount: dec("6000")},
			},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	payment := result.Payments[0]
	require.Len(t, payment.Discharges, 2)

	assert.Equal(t, 7, payment.LateDays, "2 + 5 late days across partials")

	sum := payment.Discharges[0].LostInterest.Add(payment.Discharges[1].LostInterest)
	assert.True(t, payment.LostInterest.Equal(sum))
	assert.True(t, result.TotalLostInterest.Equal(sum))
}

// =============================================================================
// FAILURE ISOLATION TESTS
// =============================================================================

func TestReconcile_DischargeFetchFailure_IsolatedToTitle(t *testing.T) {
	// GIVEN: Two titles; the discharge fetch for the first fails
	// WHEN: Reconciling
	// THEN: The first title appears with an empty discharge list, the second
	//       is still priced, and no error surfaces

	titles := &stubTitles{
		titles: []engine.FinancialTitle{
			title("T1", jan(10), "10000"),
			title("T2", jan(10), "10000"),
		},
		dischargeErr: map[string]error{"T1": errors.New("timeout")},
		discharges: map[string][]engine.Discharge{
			"T2": {{MovementDate: jan(15), Amount: dec("10000")}},
		},
	}

	result, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	require.Len(t, result.Payments, 2, "failed title must still appear")

	assert.Equal(t, "T1", result.Payments[0].Title.TitleCode)
	assert.Empty(t, result.Payments[0].Discharges)
	assert.True(t, result.Payments[0].LostInterest.IsZero())

	assert.Equal(t, "T2", result.Payments[1].Title.TitleCode)
	assert.Equal(t, 5, result.Payments[1].LateDays)
}

func TestReconcile_TitleFetchFailure_IsFatal(t *testing.T) {
	// GIVEN: The title listing itself fails
	// WHEN: Reconciling
	// THEN: The whole reconciliation fails at the reconcile stage

	titles := &stubTitles{err: errors.New("erp down")}

	_, err := newTestReconciler(titles, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.Error(t, err)
	assert.Equal(t, engine.StageReconcile, engine.StageOf(err))
}

func TestReconcile_NoTitles_EmptyResult(t *testing.T) {
	result, err := newTestReconciler(&stubTitles{}, &flatRates{rate: dec("0.04")}).
		Reconcile(context.Background(), "IMP-001")

	require.NoError(t, err)
	assert.NotNil(t, result.Payments)
	assert.Empty(t, result.Payments)
	assert.True(t, result.TotalLostInterest.IsZero())
}
