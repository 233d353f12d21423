/*
handlers.go - HTTP API handlers for the charges calculation service

PURPOSE:
  Exposes the calculation engine via REST. Handles request parsing, JSON
  serialization, and status-code mapping; all decision logic lives in the
  engine.

ENDPOINTS:
  Calculations:
    POST   /api/calculations            Run a calculation for a process
    GET    /api/calculations            History listing (limit, processId)
    GET    /api/calculations/{id}       By record id, falling back to the
                                        latest record for a process id
    POST   /api/calculations/{id}/submit  Submit a finalized calculation

  Reference data:
    GET    /api/cdi                     Current CDI rate samples
    GET    /api/processes/{id}          Normalized process + parcels

  Infrastructure:
    GET    /healthz
    GET    /metrics

ERROR HANDLING:
  Engine errors map onto status codes by kind:
  - SourceUnavailable -> 502 (the ERP is the failing party)
  - Validation        -> 422
  - NotFound          -> 404
  - anything else     -> 500

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comexflow/encargos/engine"
	"github.com/comexflow/encargos/logger"
	"github.com/comexflow/encargos/metrics"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orchestrator *engine.Orchestrator
	Store        engine.CalculationStore
	Rates        engine.RateSource
	Processes    engine.ProcessSource
	Installments engine.InstallmentSource
	Submitter    engine.ExpenseSubmitter
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// CreateCalculation runs one orchestration call.
// POST /api/calculations
func (h *Handler) CreateCalculation(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ProcessID == "" {
		writeError(w, http.StatusBadRequest, "processId is required", nil)
		return
	}

	start := time.Now()
	result, err := h.Orchestrator.Calculate(r.Context(), req.toInput())
	metrics.CalculationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		stage := string(engine.StageOf(err))
		if stage == "" {
			stage = "unknown"
		}
		metrics.CalculationsTotal.WithLabelValues(stage).Inc()
		logger.FromContext(r.Context()).Error("calculation failed",
			"process", req.ProcessID, "stage", stage, "err", err)
		writeEngineError(w, err)
		return
	}

	metrics.CalculationsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// ListCalculations returns the calculation history, most recent first.
// GET /api/calculations?limit=100&processId=123
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	opts := engine.ListOptions{ProcessID: r.URL.Query().Get("processId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts.Limit = n
		}
	}

	records, err := h.Store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list calculations", err)
		return
	}

	dtos := make([]CalculationSummaryDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toSummaryDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": dtos})
}

// GetCalculation returns one stored calculation. The path segment is
// usually a record id; anything that isn't a UUID is treated as a process
// id and resolved to its most recent calculation.
// GET /api/calculations/{id}
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(r, chi.URLParam(r, "id"))
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "calculation not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load calculation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Payload)
}

// SubmitCalculation books the calculated charges back into the ERP as a
// financing-interest expense.
// POST /api/calculations/{id}/submit
func (h *Handler) SubmitCalculation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.lookup(r, chi.URLParam(r, "id"))
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "calculation not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load calculation", err)
		return
	}

	// The expense is dated with the calculation's emission date; older
	// records without one fall back to today.
	date := rec.Payload.EmissionDate
	if date.IsZero() {
		date = engine.Today()
	}

	err = h.Submitter.SubmitExpense(r.Context(), rec.ProcessID,
		rec.Payload.Totals.Interest, rec.Payload.Exchange.FiscalDollarRate, date)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to submit expense to ERP", err)
		return
	}

	logger.FromContext(r.Context()).Info("calculation submitted",
		"calculation", rec.ID, "process", rec.ProcessID)
	writeJSON(w, http.StatusOK, SubmitResponse{Status: "submitted", CalculationID: rec.ID})
}

func (h *Handler) lookup(r *http.Request, id string) (engine.StoredCalculation, error) {
	if _, err := uuid.Parse(id); err == nil {
		rec, err := h.Store.GetByID(r.Context(), id)
		if err == nil || !engine.IsNotFound(err) {
			return rec, err
		}
	}
	return h.Store.LatestForProcess(r.Context(), id)
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// GetCurrentCDI returns the most recent CDI samples.
// GET /api/cdi
func (h *Handler) GetCurrentCDI(w http.ResponseWriter, r *http.Request) {
	samples, err := h.Rates.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch CDI rates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": samples})
}

// GetProcess returns the normalized process and its scheduled parcels.
// A parcel-fetch failure does not fail the route; the response carries the
// diagnostic instead.
// GET /api/processes/{id}
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	process, err := h.Processes.Process(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch process", err)
		return
	}

	dto := ProcessDTO{Process: process, Payments: []engine.Installment{}}
	installments, err := h.Installments.Installments(r.Context(), id)
	if err != nil {
		logger.FromContext(r.Context()).Warn("parcel fetch failed", "process", id, "err", err)
		dto.ParcelsError = err.Error()
	} else {
		dto.Payments = installments
	}

	writeJSON(w, http.StatusOK, dto)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, "calculation failed validation", err)
	case engine.IsUnavailable(err):
		writeError(w, http.StatusBadGateway, "external source unavailable", err)
	case engine.IsPersistence(err):
		writeError(w, http.StatusInternalServerError, "failed to persist calculation", err)
	default:
		writeError(w, http.StatusInternalServerError, "calculation failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
