package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"tradepulse/internal/errs"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TransportConfig configures a Transport.
type TransportConfig struct {
	Exchange       string
	BaseURL        string
	RateLimit      float64 // requests per second, 0 disables limiting
	RateLimitBurst int
	RequestTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// RequestFunc builds a fresh request for one attempt. Signed requests must be
// rebuilt per attempt so the timestamp stays inside the receive window.
// The returned URL carries the exact query string that was signed.
type RequestFunc func() (*resty.Request, string)

// Transport executes exchange REST calls with rate limiting and bounded retry.
type Transport struct {
	client         *resty.Client
	limiter        *rate.Limiter
	logger         *zap.Logger
	exchange       string
	maxRetries     int
	initialBackoff time.Duration
}

// NewTransport creates a transport for one exchange.
func NewTransport(cfg TransportConfig, logger *zap.Logger) *Transport {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(cfg.RequestTimeout)
	}
	return NewTransportWithClient(client, cfg, logger)
}

// NewTransportWithClient wraps an existing resty client.
func NewTransportWithClient(client *resty.Client, cfg TransportConfig, logger *zap.Logger) *Transport {
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Transport{
		client:         client,
		limiter:        limiter,
		logger:         logger,
		exchange:       cfg.Exchange,
		maxRetries:     retries,
		initialBackoff: initial,
	}
}

// R starts a new request on the underlying client.
func (t *Transport) R() *resty.Request {
	return t.client.R()
}

// Do executes the request. Network failures and 429/418/5xx responses are
// retried with exponential backoff when retry is set; verification and other
// non-idempotent calls pass retry=false.
//
// A completed HTTP exchange is returned with a nil error whatever its status,
// so the caller can classify it. Errors returned are transport or timeout kinds.
func (t *Transport) Do(ctx context.Context, method string, build RequestFunc, retry bool) (*resty.Response, error) {
	var last *resty.Response
	attempt := 0

	operation := func() (*resty.Response, error) {
		attempt++
		// Wait for the rate limiter
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}

		req, url := build()
		t.logger.Debug("Executing request", zap.String("method", method), zap.String("path", stripQuery(url)), zap.Int("attempt", attempt))
		resp, err := req.SetContext(ctx).Execute(method, url)
		if err != nil {
			last = nil
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		// Analyze status and decide whether to retry
		statusCode := resp.StatusCode()
		if statusCode == http.StatusTooManyRequests || statusCode == 418 || statusCode >= 500 {
			last = resp
			statusErr := fmt.Errorf("request failed with status %s", resp.Status())
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil && seconds > 0 {
				return nil, backoff.RetryAfter(seconds)
			}
			return nil, statusErr
		}
		last = nil
		return resp, nil
	}

	tries := uint(1)
	if retry {
		tries = uint(t.maxRetries + 1)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initialBackoff

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Warn("Request failed, retrying...",
				zap.Int("attempt", attempt),
				zap.Duration("retry_after", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return resp, nil
	}
	if last != nil && ctx.Err() == nil {
		// Retries exhausted on an HTTP status; let the caller classify it.
		return last, nil
	}
	return nil, t.networkError(ctx, err)
}

func (t *Transport) networkError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.New(errs.KindTimeout,
			errs.WithExchange(t.exchange),
			errs.WithMessage(t.exchange+" request timed out"),
			errs.WithCause(err))
	}
	return errs.New(errs.KindTransport,
		errs.WithExchange(t.exchange),
		errs.WithMessage(t.exchange+" request failed"),
		errs.WithCause(err))
}

// StatusError classifies a non-2xx response that carries no usable
// application payload: 451 is a region block, 401/403 a credential
// rejection, anything else a transport failure.
func StatusError(exchange string, resp *resty.Response) error {
	status := resp.StatusCode()
	switch status {
	case http.StatusUnavailableForLegalReasons:
		return errs.New(errs.KindCredential,
			errs.WithExchange(exchange),
			errs.WithReason(errs.ReasonRegionBlocked),
			errs.WithHTTP(status),
			errs.WithMessage(exchange+" API is restricted in your region (HTTP 451); use CSV import instead"),
			errs.WithRawMessage(resp.String()))
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.New(errs.KindCredential,
			errs.WithExchange(exchange),
			errs.WithReason(errs.ReasonRejected),
			errs.WithHTTP(status),
			errs.WithMessage(exchange+" rejected the API key"),
			errs.WithRawMessage(resp.String()))
	}
	return errs.New(errs.KindTransport,
		errs.WithExchange(exchange),
		errs.WithHTTP(status),
		errs.WithMessage(fmt.Sprintf("%s HTTP %d", exchange, status)),
		errs.WithRawMessage(resp.String()))
}

func stripQuery(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return url[:i]
		}
	}
	return url
}
