/*
Package erp adapts the Conexos ERP HTTP API to the engine's source
interfaces.

PURPOSE:
  The ERP exposes paginated list endpoints that take a JSON query body
  (fieldList/filterList/pageNumber/pageSize/orderList) and answer either
  {rows: [...]}, a bare array, or a single object. This package owns all
  of that: session cookies, refresh-and-retry-once on 401, request
  throttling, short-lived caching of rate windows, and normalization of
  the raw heterogeneous rows into the engine's canonical records.

  The engine never sees a raw ERP field name.

IMPLEMENTS:
  engine.RateSource, engine.ProcessSource, engine.InstallmentSource,
  engine.ExpenseSource, engine.TitleSource, engine.ExpenseSubmitter

SEE ALSO:
  - session.go: Session lifecycle
  - normalize.go: Canonical record mapping
*/
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/comexflow/encargos/engine"
	"github.com/comexflow/encargos/metrics"
)

// errStatus reports a non-2xx ERP response.
type errStatus struct {
	Status int
	Body   string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("ERP returned status %d: %s", e.Status, e.Body)
}

// Config holds the client settings, typically sourced from the environment.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Timeout           time.Duration // per-request; zero means 10s
	RequestsPerSecond float64       // throttle; zero means 10
	CacheTTL          time.Duration // rate/process cache; zero means 60s
}

// Client is the production implementation of the engine's sources.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
	limiter  *rate.Limiter
	cache    *gocache.Cache
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session Session
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		cache:    gocache.New(ttl, 2*ttl),
		log:      log,
		now:      time.Now,
	}
}

// =============================================================================
// LIST QUERY PLUMBING
// =============================================================================

type orderSpec struct {
	PropertyName string `json:"propertyName"`
	Order        string `json:"order"`
}

type orderList struct {
	OrderList []orderSpec `json:"orderList"`
}

type listQuery struct {
	FieldList   []string       `json:"fieldList"`
	FilterList  map[string]any `json:"filterList"`
	PageNumber  int            `json:"pageNumber"`
	PageSize    int            `json:"pageSize"`
	ServiceName string         `json:"serviceName,omitempty"`
	OrderList   *orderList     `json:"orderList,omitempty"`
}

func orderBy(property, order string) *orderList {
	return &orderList{OrderList: []orderSpec{{PropertyName: property, Order: order}}}
}

// doJSON performs one authenticated request with refresh-and-retry-once on
// 401. The response body is returned raw; row extraction happens in
// normalize.go.
func (c *Client) doJSON(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.send(ctx, method, path, body, session)
	var se *errStatus
	if err != nil && asStatus(err, &se) && se.Status == http.StatusUnauthorized {
		metrics.ERPSessionRetries.Inc()
		c.log.Warn("ERP session expired, refreshing and retrying once", "path", path)

		session, err = c.refreshSession(ctx, session)
		if err != nil {
			return nil, err
		}
		raw, err = c.send(ctx, method, path, body, session)
	}
	return raw, err
}

func (c *Client) send(ctx context.Context, method, path string, body any, session Session) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("cnx-filcod", "2")
	req.Header.Set("cnx-usncod", "97")
	req.Header.Set("cnx-datalanguage", "pt")
	req.AddCookie(&http.Cookie{Name: "sid", Value: session.SID})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errStatus{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

// =============================================================================
// RATE SOURCE
// =============================================================================

// Latest returns CDI samples most-recent-first.
func (c *Client) Latest(ctx context.Context) ([]engine.RateSample, error) {
	const cacheKey = "cdi:latest"
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]engine.RateSample), nil
	}

	body := listQuery{
		FieldList:   []string{},
		FilterList:  map[string]any{},
		PageNumber:  1,
		PageSize:    20,
		ServiceName: "fin101.FinTaxasCDI",
		OrderList:   orderBy("ftxDtaTaxa", "desc"),
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/fin101/FinTaxasCDI/list", body)
	if err != nil {
		return nil, err
	}

	samples, err := decodeRates(raw)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey, samples)
	return samples, nil
}

// DailyRates returns CDI samples for the inclusive window [from, to].
// Windows repeat heavily during reconciliation, so results are cached for
// the configured TTL.
func (c *Client) DailyRates(ctx context.Context, from, to engine.Date) ([]engine.RateSample, error) {
	cacheKey := "cdi:" + from.String() + ":" + to.String()
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]engine.RateSample), nil
	}

	body := listQuery{
		FieldList: []string{},
		FilterList: map[string]any{
			"ftxDtaTaxa#GE": epochMillis(from),
			"ftxDtaTaxa#LE": epochMillis(to),
		},
		PageNumber:  1,
		PageSize:    200,
		ServiceName: "fin101.FinTaxasCDI",
		OrderList:   orderBy("ftxDtaTaxa", "asc"),
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/fin101/FinTaxasCDI/list", body)
	if err != nil {
		return nil, err
	}

	samples, err := decodeRates(raw)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey, samples)
	return samples, nil
}

// =============================================================================
// PROCESS / INSTALLMENT / EXPENSE SOURCES
// =============================================================================

func (c *Client) Process(ctx context.Context, id string) (engine.ProcessRecord, error) {
	body := listQuery{
		FieldList:  []string{},
		FilterList: map[string]any{"priCod#EQ": id},
		PageNumber: 1,
		PageSize:   1,
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/imp021/list", body)
	if err != nil {
		return engine.ProcessRecord{}, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return engine.ProcessRecord{}, err
	}
	if len(rows) == 0 {
		return engine.ProcessRecord{}, fmt.Errorf("process %s not found", id)
	}
	return normalizeProcess(rows[0]), nil
}

func (c *Client) Installments(ctx context.Context, processID string) ([]engine.Installment, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/log009/parcelas/list?imcCod="+url.QueryEscape(processID), nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	installments := make([]engine.Installment, 0, len(rows))
	for _, row := range rows {
		installments = append(installments, normalizeInstallment(row))
	}
	return installments, nil
}

func (c *Client) Expenses(ctx context.Context, processID string) ([]engine.Expense, error) {
	body := listQuery{
		FieldList:   []string{},
		FilterList:  map[string]any{"pidVldStatus#EQ": "1"},
		PageNumber:  1,
		PageSize:    100,
		ServiceName: "imp021.ImpProcessoDespesas",
		OrderList:   orderBy("prjCod", "asc"),
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/imp021/DespesasProcesso/"+processID, body)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	expenses := make([]engine.Expense, 0, len(rows))
	for _, row := range rows {
		expenses = append(expenses, normalizeExpense(row))
	}
	return expenses, nil
}

// =============================================================================
// TITLE SOURCE
// =============================================================================

func (c *Client) FinancialTitles(ctx context.Context, processID string) ([]engine.FinancialTitle, error) {
	body := listQuery{
		FieldList: []string{"filCod", "priCod", "titDtaVencimento", "docCod", "titCod", "docTip", "docVldTipoFisFin"},
		FilterList: map[string]any{
			"fExibirRenegociados#EQ": "0",
			"fExibirAgrupados#EQ":    "0",
			"fPriCod#EQ":             processID,
			"vldSituacao#IN":         []string{"1"},
			"docVldPrevisao#EQ":      "0",
			"filCod#IN":              []int{2},
		},
		PageNumber:  1,
		PageSize:    20,
		ServiceName: "psq015",
		OrderList:   orderBy("filCod", "asc"),
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/psq015/list", body)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	titles := make([]engine.FinancialTitle, 0, len(rows))
	for _, row := range rows {
		titles = append(titles, normalizeTitle(row, processID))
	}
	return titles, nil
}

// Discharges fetches settlement events for one title. A 404 means the
// title simply has no discharge data yet and is an empty list, not an
// error; anything else surfaces so the reconciler can decide the fallback.
func (c *Client) Discharges(ctx context.Context, title engine.FinancialTitle) ([]engine.Discharge, error) {
	if title.CompanyCode == "" || title.DocumentCode == "" || title.TitleCode == "" {
		return nil, nil
	}

	docTip := title.DocumentType
	if docTip == 0 {
		docTip = 1
	}
	path := fmt.Sprintf("/psq015/%s/%d/%s/%s", title.CompanyCode, docTip, title.DocumentCode, title.TitleCode)

	raw, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		var se *errStatus
		if asStatus(err, &se) && se.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	discharges := make([]engine.Discharge, 0, len(rows))
	for _, row := range rows {
		discharges = append(discharges, normalizeDischarge(row))
	}
	return discharges, nil
}

// =============================================================================
// EXPENSE SUBMITTER (the single ERP write path)
// =============================================================================

// SubmitExpense books the financing-interest expense on the process. The
// amount is converted to BRL with the given fiscal rate when present.
func (c *Client) SubmitExpense(ctx context.Context, processID string, amount, fiscalRate decimal.Decimal, date engine.Date) error {
	amountBRL := amount
	if fiscalRate.IsPositive() {
		amountBRL = amount.Mul(fiscalRate)
	}
	value, _ := amountBRL.Round(2).Float64()

	body := map[string]any{
		"moeCod":             790,
		"gerVldFeatureCliente": 0,
		"priCod":             processID,
		"priVldTipo":         3,
		"frontModelName":     "despesasProcesso",
		"prjCod":             1,
		"idtCod":             1,
		"pidVldStatus":       1,
		"impCod":             1081,
		"pidVldFormaReteio":  2,
		"pidDtaTaxas":        epochMillis(date),
		"pdiVldOrigemDesp":   1,
		"pidVldTipo":         1,
		"pidVldLibera":       1,
		"pidVldNfserv":       0,
		"pidVldFonte":        1,
		"impDesNome":         "ENCARGOS FINANCEIROS",
		"moeEspNome":         "REAL/BRASIL",
		"pidFltTxMneg":       1,
		"ctpDesNome":         "ENCARGOS FINANCEIROS",
		"ctpCod":             672,
		"pidMnyValormn":      value,
		"pidMnyValorMneg":    value,
		"filCod":             "2",
	}

	_, err := c.doJSON(ctx, http.MethodPost, "/imp021/ProcessoDespesas", body)
	return err
}

// =============================================================================
// SMALL HELPERS
// =============================================================================

func epochMillis(d engine.Date) int64 {
	return d.Time.UTC().Truncate(24 * time.Hour).UnixMilli()
}

func asStatus(err error, target **errStatus) bool {
	return errors.As(err, target)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
