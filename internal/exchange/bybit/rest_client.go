// Package bybit implements the Bybit v5 closed-PnL adapter.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	exchangeName      = "bybit"
	closedPnlEndpoint = "/v5/position/closed-pnl"

	defaultRecvWindow = 10000
	defaultClockSkew  = 2 * time.Second
	defaultPageLimit  = 100
	maxPageLimit      = 100

	CategoryLinear  = "linear"
	CategoryInverse = "inverse"
)

// retCodes Bybit uses for key, signature, permission and IP problems.
var credentialCodes = map[int]bool{
	10003: true, // invalid api key
	10004: true, // signature error
	10005: true, // permission denied
	10007: true, // user authentication failed
	10009: true, // ip banned
	10010: true, // unmatched ip
	33004: true, // api key expired
}

// RestClient talks to the Bybit v5 REST API. It implements exchange.Adapter.
type RestClient struct {
	transport  *exchange.Transport
	logger     *zap.Logger
	recvWindow string
	clockSkew  time.Duration
	pageLimit  int
	now        func() time.Time
}

var _ exchange.Adapter = (*RestClient)(nil)

// NewRestClient creates a Bybit client.
func NewRestClient(cfg *config.Bybit, syncCfg config.Sync, logger *zap.Logger) *RestClient {
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

func newRestClient(transport *exchange.Transport, cfg *config.Bybit, logger *zap.Logger) *RestClient {
	recv := cfg.RecvWindowMs
	if recv <= 0 {
		recv = defaultRecvWindow
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	limit := cfg.PageLimit
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	return &RestClient{
		transport:  transport,
		logger:     logger.Named(exchangeName),
		recvWindow: strconv.FormatInt(recv, 10),
		clockSkew:  skew,
		pageLimit:  limit,
		now:        time.Now,
	}
}

// Exchange returns the exchange name.
func (c *RestClient) Exchange() string { return exchangeName }

// NormalizeCategory validates an account category, defaulting to linear.
func NormalizeCategory(category string) (string, error) {
	switch c := strings.ToLower(strings.TrimSpace(category)); c {
	case "":
		return CategoryLinear, nil
	case CategoryLinear, CategoryInverse:
		return c, nil
	}
	return "", errs.New(errs.KindInvalid,
		errs.WithExchange(exchangeName),
		errs.WithMessage("unsupported Bybit category "+strconv.Quote(category)+"; use linear or inverse"))
}

// PreSign builds the string Bybit signs for GET requests. query must already
// be sorted by key.
func PreSign(timestamp, apiKey, recvWindow, query string) string {
	return timestamp + apiKey + recvWindow + query
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *RestClient) signedGet(creds exchange.Credentials, path string, params url.Values) exchange.RequestFunc {
	return func() (*resty.Request, string) {
		// Encode sorts by key.
		query := params.Encode()
		ts := strconv.FormatInt(c.now().Add(-c.clockSkew).UnixMilli(), 10)
		signature := Sign(creds.APISecret, PreSign(ts, creds.APIKey, c.recvWindow, query))
		req := c.transport.R().
			SetHeader("X-BAPI-API-KEY", creds.APIKey).
			SetHeader("X-BAPI-SIGN", signature).
			SetHeader("X-BAPI-SIGN-TYPE", "2").
			SetHeader("X-BAPI-TIMESTAMP", ts).
			SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow).
			SetHeader("Accept", "application/json")
		if query == "" {
			return req, path
		}
		return req, path + "?" + query
	}
}

type envelope struct {
	RetCode *int            `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  closedPnlResult `json:"result"`
}

type closedPnlResult struct {
	Category       string      `json:"category"`
	List           []closedPnl `json:"list"`
	NextPageCursor string      `json:"nextPageCursor"`
}

// closedPnl is one row of GET /v5/position/closed-pnl.
type closedPnl struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	OrderPrice    string `json:"orderPrice"`
	ClosedSize    string `json:"closedSize"`
	AvgEntryPrice string `json:"avgEntryPrice"`
	AvgExitPrice  string `json:"avgExitPrice"`
	ClosedPnl     string `json:"closedPnl"`
	OpenFee       string `json:"openFee"`
	CloseFee      string `json:"closeFee"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

// get performs a signed GET and returns the decoded result. The response is
// valid only when the HTTP status is 2xx and retCode is zero.
func (c *RestClient) get(ctx context.Context, creds exchange.Credentials, params url.Values, retry bool) (closedPnlResult, error) {
	resp, err := c.transport.Do(ctx, http.MethodGet, c.signedGet(creds, closedPnlEndpoint, params), retry)
	if err != nil {
		return closedPnlResult{}, err
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)
	if !resp.IsSuccess() {
		if decodeErr == nil && env.RetCode != nil && *env.RetCode != 0 &&
			resp.StatusCode() != http.StatusUnavailableForLegalReasons && resp.StatusCode() < 500 {
			return closedPnlResult{}, retCodeError(*env.RetCode, env.RetMsg, resp.StatusCode())
		}
		return closedPnlResult{}, exchange.StatusError(exchangeName, resp)
	}
	if decodeErr != nil || env.RetCode == nil {
		opts := []errs.Option{
			errs.WithExchange(exchangeName),
			errs.WithHTTP(resp.StatusCode()),
			errs.WithMessage("malformed Bybit response"),
			errs.WithRawMessage(resp.String()),
		}
		if decodeErr != nil {
			opts = append(opts, errs.WithCause(decodeErr))
		}
		return closedPnlResult{}, errs.New(errs.KindParse, opts...)
	}
	if *env.RetCode != 0 {
		return closedPnlResult{}, retCodeError(*env.RetCode, env.RetMsg, resp.StatusCode())
	}
	return env.Result, nil
}

func retCodeError(code int, msg string, status int) error {
	kind, reason := errs.KindExchange, ""
	if credentialCodes[code] {
		kind, reason = errs.KindCredential, errs.ReasonRejected
	}
	return errs.New(kind,
		errs.WithExchange(exchangeName),
		errs.WithReason(reason),
		errs.WithHTTP(status),
		errs.WithMessage("Bybit error"),
		errs.WithRawCode(strconv.Itoa(code)),
		errs.WithRawMessage(msg))
}

func (c *RestClient) closedPnlParams(category string, w exchange.Window, limit int, cursor string) url.Values {
	params := url.Values{}
	params.Set("category", category)
	params.Set("startTime", strconv.FormatInt(w.StartMs(), 10))
	params.Set("endTime", strconv.FormatInt(w.EndMs(), 10))
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}

// VerifyCredentials probes closed PnL for the last 24 hours in the account's
// category. It is never retried.
func (c *RestClient) VerifyCredentials(ctx context.Context, creds exchange.Credentials) error {
	category, err := NormalizeCategory(creds.Category)
	if err != nil {
		return err
	}
	l := c.logger.With(logger.KeyHint(creds.APIKey), zap.String("category", category))

	end := c.now().UTC()
	w := exchange.Window{Start: end.Add(-24 * time.Hour), End: end}
	if _, err := c.get(ctx, creds, c.closedPnlParams(category, w, 1, ""), false); err != nil {
		l.Warn("Bybit key verification failed", zap.Error(err))
		return err
	}
	l.Info("Bybit key verified")
	return nil
}

// FetchHistory returns one page of closed-PnL rows inside w.
func (c *RestClient) FetchHistory(ctx context.Context, creds exchange.Credentials, w exchange.Window, cursor string) (exchange.Page, error) {
	category, err := NormalizeCategory(creds.Category)
	if err != nil {
		return exchange.Page{}, err
	}
	result, err := c.get(ctx, creds, c.closedPnlParams(category, w, c.pageLimit, cursor), true)
	if err != nil {
		return exchange.Page{}, err
	}

	page := exchange.Page{
		Executions: make([]models.ExecutionInput, 0, len(result.List)),
		NextCursor: result.NextPageCursor,
	}
	for _, row := range result.List {
		in, err := row.toInput()
		if err != nil {
			return exchange.Page{}, err
		}
		page.Executions = append(page.Executions, in)
	}
	c.logger.Debug("Fetched closed-pnl page",
		zap.String("category", category),
		zap.Int("rows", len(result.List)),
		zap.Bool("more", page.NextCursor != ""))
	return page, nil
}

func (r closedPnl) toInput() (models.ExecutionInput, error) {
	qty := decimalOf(r.ClosedSize)
	if qty.IsZero() {
		qty = decimalOf(r.Qty)
	}
	price := decimalOf(r.AvgExitPrice)
	if price.IsZero() {
		price = decimalOf(r.OrderPrice)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(r.CreatedTime), 10, 64)
	if err != nil || ms <= 0 {
		return models.ExecutionInput{}, errs.New(errs.KindParse,
			errs.WithExchange(exchangeName),
			errs.WithMessage("closed-pnl row has invalid createdTime "+strconv.Quote(r.CreatedTime)))
	}
	return models.ExecutionInput{
		Symbol:      r.Symbol,
		Side:        models.ParseSide(r.Side),
		Qty:         qty.InexactFloat64(),
		Price:       price.InexactFloat64(),
		Fee:         decimalOf(r.OpenFee).Add(decimalOf(r.CloseFee)).InexactFloat64(),
		RealizedPnl: decimalOf(r.ClosedPnl).InexactFloat64(),
		ExecTime:    time.UnixMilli(ms).UTC(),
	}, nil
}

func decimalOf(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
