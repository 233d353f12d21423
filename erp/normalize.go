/*
normalize.go - Canonical mapping of raw ERP rows

PURPOSE:
  ERP rows are heterogeneous: the same value may arrive under several
  alternate field names, dates may be epoch milliseconds or ISO strings,
  numbers may be JSON numbers or numeric strings, and some endpoints
  answer {rows: [...]}, a bare array, or a single object. All of that
  variance is resolved HERE, at the adapter boundary, into one canonical
  record shape. The fallback chains below are the documented field
  priority, not duck typing leaking upward.
*/
package erp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comexflow/encargos/engine"
)

// rawRow is one undecoded ERP row.
type rawRow map[string]any

// decodeRows accepts the three payload shapes the ERP produces and always
// yields a list: {rows: [...]}, [...], or a single object (normalized to a
// list of size 1). Empty or null payloads yield an empty list.
func decodeRows(raw []byte) ([]rawRow, error) {
	trimmed := firstByte(raw)
	switch trimmed {
	case 0: // empty body
		return nil, nil
	case '[':
		var rows []rawRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decoding row list: %w", err)
		}
		return rows, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("decoding row object: %w", err)
		}
		// An object carrying a "rows" key is the envelope, even when rows
		// is null or empty; it never doubles as a data row.
		if rowsRaw, ok := probe["rows"]; ok {
			var rows []rawRow
			if err := json.Unmarshal(rowsRaw, &rows); err != nil {
				return nil, fmt.Errorf("decoding row envelope: %w", err)
			}
			return rows, nil
		}
		if len(probe) == 0 {
			return nil, nil
		}
		var row rawRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decoding row object: %w", err)
		}
		return []rawRow{row}, nil
	default:
		// "null" and other scalars carry no rows.
		return nil, nil
	}
}

func firstByte(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// str returns the first non-empty string among the given keys.
func (r rawRow) str(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

// num returns the first parseable number among the given keys, else zero.
func (r rawRow) num(keys ...string) decimal.Decimal {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return decimal.NewFromFloat(v)
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d
			}
		case json.Number:
			if d, err := decimal.NewFromString(v.String()); err == nil {
				return d
			}
		}
	}
	return decimal.Zero
}

// intVal returns the first parseable integer among the given keys, else zero.
// Non-numeric values default to zero; negative values pass through as-is.
func (r rawRow) intVal(keys ...string) int {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return int(v)
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return int(d.IntPart())
			}
		}
	}
	return 0
}

// date returns the first parseable date among the given keys. Epoch
// milliseconds and ISO strings are both accepted.
func (r rawRow) date(keys ...string) engine.Date {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			if v > 0 {
				return engine.DateOf(time.UnixMilli(int64(v)).UTC())
			}
		case string:
			if v == "" {
				continue
			}
			if t, err := time.Parse("2006-01-02", v); err == nil {
				return engine.DateOf(t)
			}
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return engine.DateOf(t)
			}
		}
	}
	return engine.Date{}
}

// =============================================================================
// CANONICAL RECORDS
// =============================================================================

func decodeRates(raw []byte) ([]engine.RateSample, error) {
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}
	samples := make([]engine.RateSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, engine.RateSample{
			Date:      row.date("ftxDtaTaxa", "data"),
			DailyRate: row.num("ftxNumFatDiario", "taxa"),
		})
	}
	return samples, nil
}

func normalizeProcess(row rawRow) engine.ProcessRecord {
	return engine.ProcessRecord{
		ID:                 row.str("imcCod", "priCod", "id"),
		ClientRef:          row.str("cliCod", "dpeNomPessoa", "clientName"),
		FOBValue:           row.num("vlrMneg", "fobTotal"),
		FreightValue:       row.num("freteTotal", "vlrFrete"),
		InsuranceValue:     row.num("seguroTotal", "vlrSeguro"),
		FiscalExchangeRate: row.num("taxaDolarFiscal", "imcMnyTaxa"),
	}
}

func normalizeInstallment(row rawRow) engine.Installment {
	description := row.str("historico", "descricao", "hist")
	if description == "" {
		description = "Parcela"
	}
	return engine.Installment{
		Principal:     row.num("pipMnyValor", "valorUSD", "valor"),
		ScheduledDate: row.date("pipDtaVcto", "data", "dtaVcto", "dta"),
		ElapsedDays:   row.intVal("pipNumDiasVcto", "diasCorridos"),
		Description:   description,
	}
}

func normalizeExpense(row rawRow) engine.Expense {
	return engine.Expense{
		Type:        row.str("ctpDesNome", "tipo"),
		Description: row.str("impDesNome", "descricao"),
		Amount:      row.num("pidMnyValormn", "valor"),
	}
}

func normalizeTitle(row rawRow, processID string) engine.FinancialTitle {
	ref := row.str("priCod")
	if ref == "" {
		ref = processID
	}
	return engine.FinancialTitle{
		CompanyCode:  row.str("filCod"),
		DocumentCode: row.str("docCod"),
		DocumentType: row.intVal("docTip"),
		TitleCode:    row.str("titCod"),
		DueDate:      row.date("titDtaVencimento"),
		ProcessRef:   ref,
		Amount:       row.num("titMnyValor"),
	}
}

func normalizeDischarge(row rawRow) engine.Discharge {
	return engine.Discharge{
		MovementDate:   row.date("borDtaMvto"),
		SettlementDate: row.date("bxaDtaBaixa"),
		Amount:         row.num("bxaMnyValor"),
	}
}
