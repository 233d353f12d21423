package engine_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comexflow/encargos/engine"
)

// =============================================================================
// SHARED TEST STUBS - In-memory implementations of the source interfaces
// =============================================================================

// flatRates publishes one sample per calendar day of the requested window, all
// at the same rate. Mirrors a healthy feed with a sample every day.
type flatRates struct {
	rate   decimal.Decimal
	latest []engine.RateSample
	err    error
}

func (s *flatRates) DailyRates(_ context.Context, from, to engine.Date) ([]engine.RateSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []engine.RateSample
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, engine.RateSample{Date: d, DailyRate: s.rate})
	}
	return out, nil
}

func (s *flatRates) Latest(context.Context) ([]engine.RateSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.latest, nil
}

// fixedRates serves an explicit sample list, filtered to the requested window.
// Used when a test needs gaps, duplicates or unsorted input.
type fixedRates struct {
	samples []engine.RateSample
	latest  []engine.RateSample
	err     error
}

func (s *fixedRates) DailyRates(_ context.Context, from, to engine.Date) ([]engine.RateSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []engine.RateSample
	for _, smp := range s.samples {
		if smp.Date.Before(from) || smp.Date.After(to) {
			continue
		}
		out = append(out, smp)
	}
	return out, nil
}

func (s *fixedRates) Latest(context.Context) ([]engine.RateSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.latest, nil
}

type stubProcesses struct {
	rec engine.ProcessRecord
	err error
}

func (s *stubProcesses) Process(context.Context, string) (engine.ProcessRecord, error) {
	return s.rec, s.err
}

type stubInstallments struct {
	items []engine.Installment
	err   error
}

func (s *stubInstallments) Installments(context.Context, string) ([]engine.Installment, error) {
	return s.items, s.err
}

type stubExpenses struct {
	items []engine.Expense
	err   error
}

func (s *stubExpenses) Expenses(context.Context, string) ([]engine.Expense, error) {
	return s.items, s.err
}

// stubTitles keys discharges by title code, with optional per-title fetch
// failures to exercise partial-failure tolerance.
type stubTitles struct {
	titles       []engine.FinancialTitle
	err          error
	discharges   map[string][]engine.Discharge
	dischargeErr map[string]error
}

func (s *stubTitles) FinancialTitles(context.Context, string) ([]engine.FinancialTitle, error) {
	return s.titles, s.err
}

func (s *stubTitles) Discharges(_ context.Context, title engine.FinancialTitle) ([]engine.Discharge, error) {
	if err, ok := s.dischargeErr[title.TitleCode]; ok {
		return nil, err
	}
	return s.discharges[title.TitleCode], nil
}

// =============================================================================
// HELPERS
// =============================================================================

// jan returns a day in January 2025; every date-sensitive test uses the same
// month so the fixtures read naturally.
func jan(day int) engine.Date {
	return engine.NewDate(2025, time.January, day)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// quietLog discards diagnostics; tests that assert on fallback behavior do
// not need the warnings on stderr.
func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
