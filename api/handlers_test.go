package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comexflow/encargos/api"
	"github.com/comexflow/encargos/engine"
	"github.com/comexflow/encargos/engine/store"
)

// =============================================================================
// TEST SETUP - Real engine and in-memory store behind stubbed ERP sources
// =============================================================================

type stubERP struct {
	process        engine.ProcessRecord
	processErr     error
	rate           decimal.Decimal
	latest         []engine.RateSample
	installments   []engine.Installment
	installmentErr error
	expenses       []engine.Expense
	titles         []engine.FinancialTitle

	submitted     int
	submitErr     error
	submittedAmt  decimal.Decimal
	submittedDate engine.Date
}

func (s *stubERP) Process(context.Context, string) (engine.ProcessRecord, error) {
	return s.process, s.processErr
}

func (s *stubERP) DailyRates(_ context.Context, from, to engine.Date) ([]engine.RateSample, error) {
	var out []engine.RateSample
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, engine.RateSample{Date: d, DailyRate: s.rate})
	}
	return out, nil
}

func (s *stubERP) Latest(context.Context) ([]engine.RateSample, error) {
	return s.latest, nil
}

func (s *stubERP) Installments(context.Context, string) ([]engine.Installment, error) {
	return s.installments, s.installmentErr
}

func (s *stubERP) Expenses(context.Context, string) ([]engine.Expense, error) {
	return s.expenses, nil
}

func (s *stubERP) FinancialTitles(context.Context, string) ([]engine.FinancialTitle, error) {
	return s.titles, nil
}

func (s *stubERP) Discharges(context.Context, engine.FinancialTitle) ([]engine.Discharge, error) {
	return nil, nil
}

func (s *stubERP) SubmitExpense(_ context.Context, _ string, amount, _ decimal.Decimal, date engine.Date) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted++
	s.submittedAmt = amount
	s.submittedDate = date
	return nil
}

type fixture struct {
	erp    *stubERP
	store  *store.Memory
	server *httptest.Server
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	erp := &stubERP{
		process: engine.ProcessRecord{
			ID:                 "IMP-001",
			ClientRef:          "ACME",
			FOBValue:           decimal.RequireFromString("40000"),
			FreightValue:       decimal.RequireFromString("8000"),
			InsuranceValue:     decimal.RequireFromString("2000"),
			FiscalExchangeRate: decimal.RequireFromString("5.2"),
		},
		rate: decimal.RequireFromString("0.04"),
		latest: []engine.RateSample{
			{Date: engine.NewDate(2025, time.January, 30), DailyRate: decimal.RequireFromString("0.04")},
		},
	}

	mem := store.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	accumulator := &engine.Accumulator{Rates: erp, Log: quiet}
	reconciler := engine.NewReconciler(erp, engine.NewLateInterestCalculator(accumulator))
	reconciler.Log = quiet

	orch := &engine.Orchestrator{
		Processes:    erp,
		Rates:        erp,
		Installments: erp,
		Expenses:     erp,
		Reconciler:   reconciler,
		Store:        mem,
		Log:          quiet,
	}

	handler := &api.Handler{
		Orchestrator: orch,
		Store:        mem,
		Rates:        erp,
		Processes:    erp,
		Installments: erp,
		Submitter:    erp,
	}

	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)

	return &fixture{erp: erp, store: mem, server: server}
}

func calculateBody() []byte {
	return []byte(`{
		"processId": "IMP-001",
		"emissionDate": "2025-01-01",
		"taxaCDI": "0.05",
		"taxaConecta": "5.45",
		"payments": [
			{"description": "Parcela 1", "value": "50000", "dueDate": "2025-01-31", "days": 60}
		]
	}`)
}

func (f *fixture) post(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// CALCULATION ROUTE TESTS
// =============================================================================

func TestCreateCalculation_OK(t *testing.T) {
	f := newTestServer(t)

	resp := f.post(t, "/api/calculations", calculateBody())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[engine.CalculationResult](t, resp)

	assert.Equal(t, "IMP-001", result.ProcessID)
	assert.Equal(t, engine.StatusCalculated, result.Status)
	assert.True(t, result.Totals.Charges.Equal(decimal.RequireFromString("51500")))
	assert.Equal(t, 1, f.store.Len(), "result must be persisted")
}

func TestCreateCalculation_InvalidBody(t *testing.T) {
	f := newTestServer(t)

	resp := f.post(t, "/api/calculations", []byte(`{not json`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateCalculation_MissingProcessID(t *testing.T) {
	f := newTestServer(t)

	resp := f.post(t, "/api/calculations", []byte(`{"taxaCDI": "0.05"}`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "processId is required", body.Error)
}

func TestCreateCalculation_ERPDown_BadGateway(t *testing.T) {
	f := newTestServer(t)
	f.erp.processErr = errors.New("connection refused")

	resp := f.post(t, "/api/calculations", calculateBody())

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 0, f.store.Len(), "nothing persisted on fetch failure")
}

func TestListCalculations(t *testing.T) {
	f := newTestServer(t)
	f.post(t, "/api/calculations", calculateBody())
	f.post(t, "/api/calculations", calculateBody())

	resp := f.get(t, "/api/calculations?processId=IMP-001")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Data []api.CalculationSummaryDTO `json:"data"`
	}](t, resp)
	require.Len(t, body.Data, 2)
	assert.Equal(t, body.Data[0].InputHash, body.Data[1].InputHash, "identical input, identical hash")
	assert.NotEqual(t, body.Data[0].ID, body.Data[1].ID)
}

func TestGetCalculation_ByRecordID(t *testing.T) {
	f := newTestServer(t)
	created := decodeBody[engine.CalculationResult](t, f.post(t, "/api/calculations", calculateBody()))

	resp := f.get(t, "/api/calculations/"+created.ID)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[engine.CalculationResult](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetCalculation_ByProcessID_LatestWins(t *testing.T) {
	// GIVEN: Two calculations for the same process
	// WHEN: Fetching by process id (not a UUID)
	// THEN: The most recent record is returned

	f := newTestServer(t)
	f.post(t, "/api/calculations", calculateBody())
	second := decodeBody[engine.CalculationResult](t, f.post(t, "/api/calculations", calculateBody()))

	resp := f.get(t, "/api/calculations/IMP-001")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[engine.CalculationResult](t, resp)
	assert.Equal(t, second.ID, got.ID)
}

func TestGetCalculation_Missing(t *testing.T) {
	f := newTestServer(t)

	resp := f.get(t, "/api/calculations/IMP-404")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// SUBMIT ROUTE TESTS
// =============================================================================

func TestSubmitCalculation(t *testing.T) {
	f := newTestServer(t)
	created := decodeBody[engine.CalculationResult](t, f.post(t, "/api/calculations", calculateBody()))

	resp := f.post(t, "/api/calculations/"+created.ID+"/submit", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[api.SubmitResponse](t, resp)
	assert.Equal(t, "submitted", body.Status)
	assert.Equal(t, created.ID, body.CalculationID)

	assert.Equal(t, 1, f.erp.submitted)
	assert.True(t, f.erp.submittedAmt.Equal(decimal.RequireFromString("1500")), "submits the interest total")
	assert.True(t, f.erp.submittedDate.Equal(engine.NewDate(2025, time.January, 1)),
		"expense is dated with the calculation's emission date")
}

func TestSubmitCalculation_ERPFailure(t *testing.T) {
	f := newTestServer(t)
	created := decodeBody[engine.CalculationResult](t, f.post(t, "/api/calculations", calculateBody()))
	f.erp.submitErr = errors.New("session rejected")

	resp := f.post(t, "/api/calculations/"+created.ID+"/submit", nil)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// =============================================================================
// REFERENCE DATA ROUTE TESTS
// =============================================================================

func TestGetCurrentCDI(t *testing.T) {
	f := newTestServer(t)

	resp := f.get(t, "/api/cdi")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Data []engine.RateSample `json:"data"`
	}](t, resp)
	require.Len(t, body.Data, 1)
	assert.True(t, body.Data[0].DailyRate.Equal(decimal.RequireFromString("0.04")))
}

func TestGetProcess_ParcelFailureIsTolerated(t *testing.T) {
	// GIVEN: The process loads but the parcel fetch fails
	// WHEN: Fetching the process detail
	// THEN: 200 with the process and a parcel diagnostic, never a 5xx

	f := newTestServer(t)
	f.erp.installmentErr = errors.New("log009 timeout")

	resp := f.get(t, "/api/processes/IMP-001")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decodeBody[api.ProcessDTO](t, resp)
	assert.Equal(t, "IMP-001", dto.Process.ID)
	assert.Empty(t, dto.Payments)
	assert.NotEmpty(t, dto.ParcelsError)
}

func TestHealthz(t *testing.T) {
	f := newTestServer(t)

	resp := f.get(t, "/healthz")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
