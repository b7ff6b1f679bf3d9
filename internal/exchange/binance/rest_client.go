// Package binance implements the Binance USDⓈ-M Futures adapter.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradepulse/internal/config"
	"tradepulse/internal/errs"
	"tradepulse/internal/exchange"
	"tradepulse/internal/logger"
	"tradepulse/internal/models"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	exchangeName       = "binance"
	accountEndpoint    = "/fapi/v2/account"
	userTradesEndpoint = "/fapi/v1/userTrades"
	defaultRecvWindow  = 5000 // How long a request is valid in milliseconds
	userTradesLimit    = 1000
)

// RestClient is a client for the Binance Futures REST API.
// It implements exchange.Adapter.
type RestClient struct {
	transport      *exchange.Transport
	logger         *zap.Logger
	recvWindow     string
	verifyDisabled bool
	symbols        []string
	pageLimit      int
	now            func() time.Time
}

// ensure RestClient implements the interface
var _ exchange.Adapter = (*RestClient)(nil)

// NewRestClient creates a new Binance Futures REST API client.
func NewRestClient(cfg *config.Binance, syncCfg config.Sync, logger *zap.Logger) *RestClient {
	transport := exchange.NewTransport(exchange.TransportConfig{
		Exchange:       exchangeName,
		BaseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		RequestTimeout: syncCfg.RequestTimeout,
		MaxRetries:     syncCfg.MaxRetries,
	}, logger)
	return newRestClient(transport, cfg, logger)
}

func newRestClient(transport *exchange.Transport, cfg *config.Binance, logger *zap.Logger) *RestClient {
	recvWindow := cfg.RecvWindowMs
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return &RestClient{
		transport:      transport,
		logger:         logger.Named(exchangeName),
		recvWindow:     strconv.FormatInt(recvWindow, 10),
		verifyDisabled: cfg.VerifyDisabled,
		symbols:        symbols,
		pageLimit:      userTradesLimit,
		now:            time.Now,
	}
}

// Exchange returns the exchange name.
func (c *RestClient) Exchange() string { return exchangeName }

// sign creates a HMAC-SHA256 signature for the request.
func sign(secret, data string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery adds timestamp and recvWindow to params and appends the
// signature computed over the canonical query string as the last parameter.
func (c *RestClient) signedQuery(secret string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("recvWindow", c.recvWindow)

	queryString := q.Encode()
	return queryString + "&signature=" + sign(secret, queryString)
}

func (c *RestClient) signedGet(creds exchange.Credentials, path string, params url.Values) exchange.RequestFunc {
	return func() (*resty.Request, string) {
		req := c.transport.R().
			SetHeader("X-MBX-APIKEY", creds.APIKey).
			SetHeader("Accept", "application/json")
		return req, path + "?" + c.signedQuery(creds.APISecret, params)
	}
}

// apiError is the error body Binance returns with non-2xx statuses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// VerifyCredentials calls the account endpoint. HTTP 200 means valid; 451 is
// a region block; other non-200 responses reject the key.
func (c *RestClient) VerifyCredentials(ctx context.Context, creds exchange.Credentials) error {
	l := c.logger.With(logger.KeyHint(creds.APIKey))
	if c.verifyDisabled {
		l.Warn("Binance key verification disabled by configuration")
		return nil
	}

	resp, err := c.transport.Do(ctx, http.MethodGet, c.signedGet(creds, accountEndpoint, url.Values{}), false)
	if err != nil {
		l.Error("Failed to verify Binance key", zap.Error(err))
		return err
	}

	status := resp.StatusCode()
	if status == http.StatusOK {
		l.Info("Binance key verified")
		return nil
	}
	l.Warn("Binance key verification failed", zap.Int("status", status))
	if status == http.StatusUnavailableForLegalReasons || status >= 500 || status == http.StatusTooManyRequests {
		return exchange.StatusError(exchangeName, resp)
	}

	opts := []errs.Option{
		errs.WithExchange(exchangeName),
		errs.WithReason(errs.ReasonRejected),
		errs.WithHTTP(status),
		errs.WithMessage("Binance futures API key verification failed"),
	}
	var body apiError
	if json.Unmarshal(resp.Body(), &body) == nil && body.Code != 0 {
		opts = append(opts, errs.WithRawCode(strconv.Itoa(body.Code)), errs.WithRawMessage(body.Msg))
	} else {
		opts = append(opts, errs.WithRawMessage(resp.String()))
	}
	return errs.New(errs.KindCredential, opts...)
}

// userTrade is one row of GET /fapi/v1/userTrades.
type userTrade struct {
	Symbol      string `json:"symbol"`
	ID          int64  `json:"id"`
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	RealizedPnl string `json:"realizedPnl"`
	Commission  string `json:"commission"`
	Time        int64  `json:"time"`
}

// FetchHistory returns one page of account trades inside w.
//
// The cursor is "<symbolIndex>:<fromId>". A zero fromId queries the window by
// time; a full page continues by trade id, dropping rows past the window end.
func (c *RestClient) FetchHistory(ctx context.Context, creds exchange.Credentials, w exchange.Window, cursor string) (exchange.Page, error) {
	if len(c.symbols) == 0 {
		return exchange.Page{}, nil
	}
	idx, fromID, err := parseCursor(cursor, len(c.symbols))
	if err != nil {
		return exchange.Page{}, err
	}
	symbol := c.symbols[idx]

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(c.pageLimit))
	if fromID > 0 {
		params.Set("fromId", strconv.FormatInt(fromID, 10))
	} else {
		params.Set("startTime", strconv.FormatInt(w.StartMs(), 10))
		params.Set("endTime", strconv.FormatInt(w.EndMs(), 10))
	}

	resp, err := c.transport.Do(ctx, http.MethodGet, c.signedGet(creds, userTradesEndpoint, params), true)
	if err != nil {
		return exchange.Page{}, fmt.Errorf("fetch %s trades: %w", symbol, err)
	}
	if !resp.IsSuccess() {
		return exchange.Page{}, historyError(resp)
	}

	var rows []userTrade
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return exchange.Page{}, errs.New(errs.KindParse,
			errs.WithExchange(exchangeName),
			errs.WithMessage("malformed userTrades response"),
			errs.WithRawMessage(resp.String()),
			errs.WithCause(err))
	}

	page := exchange.Page{Executions: make([]models.ExecutionInput, 0, len(rows))}
	pastEnd := false
	for _, row := range rows {
		if row.Time > w.EndMs() {
			pastEnd = true
			continue
		}
		if row.Time < w.StartMs() {
			continue
		}
		page.Executions = append(page.Executions, row.toInput())
	}

	switch {
	case len(rows) >= c.pageLimit && !pastEnd:
		page.NextCursor = fmt.Sprintf("%d:%d", idx, rows[len(rows)-1].ID+1)
	case idx+1 < len(c.symbols):
		page.NextCursor = fmt.Sprintf("%d:0", idx+1)
	}
	c.logger.Debug("Fetched userTrades page",
		zap.String("symbol", symbol),
		zap.Int("rows", len(rows)),
		zap.String("next_cursor", page.NextCursor))
	return page, nil
}

func (t userTrade) toInput() models.ExecutionInput {
	return models.ExecutionInput{
		Symbol:      t.Symbol,
		Side:        models.ParseSide(t.Side),
		Qty:         parseFloat(t.Qty),
		Price:       parseFloat(t.Price),
		Fee:         parseFloat(t.Commission),
		RealizedPnl: parseFloat(t.RealizedPnl),
		ExecTime:    time.UnixMilli(t.Time).UTC(),
	}
}

func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseCursor(cursor string, symbols int) (int, int64, error) {
	if cursor == "" {
		return 0, 0, nil
	}
	idxStr, fromStr, ok := strings.Cut(cursor, ":")
	idx, err1 := strconv.Atoi(idxStr)
	fromID, err2 := strconv.ParseInt(fromStr, 10, 64)
	if !ok || err1 != nil || err2 != nil || idx < 0 || idx >= symbols || fromID < 0 {
		return 0, 0, errs.New(errs.KindInvalid, errs.WithExchange(exchangeName), errs.WithMessage("invalid pagination cursor "+strconv.Quote(cursor)))
	}
	return idx, fromID, nil
}

// historyError classifies a failed history call: key problems are credential
// errors, other 4xx bodies with a Binance code are business errors.
func historyError(resp *resty.Response) error {
	status := resp.StatusCode()
	var body apiError
	if status >= 500 || json.Unmarshal(resp.Body(), &body) != nil || body.Code == 0 {
		return exchange.StatusError(exchangeName, resp)
	}
	kind := errs.KindExchange
	reason := ""
	switch body.Code {
	case -1022, -2014, -2015:
		kind, reason = errs.KindCredential, errs.ReasonRejected
	}
	if status == http.StatusUnavailableForLegalReasons {
		kind, reason = errs.KindCredential, errs.ReasonRegionBlocked
	}
	return errs.New(kind,
		errs.WithExchange(exchangeName),
		errs.WithReason(reason),
		errs.WithHTTP(status),
		errs.WithMessage("Binance error"),
		errs.WithRawCode(strconv.Itoa(body.Code)),
		errs.WithRawMessage(body.Msg))
}
