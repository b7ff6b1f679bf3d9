// Package errs provides the structured error envelope shared by the
// ingestion pipeline: vault, exchange clients, CSV parsing and sync.
package errs

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Kind identifies a failure category.
type Kind string

const (
	// KindConfig indicates missing or malformed process configuration.
	KindConfig Kind = "config"
	// KindNotConnected indicates no broker account exists for the user.
	KindNotConnected Kind = "not_connected"
	// KindCredential indicates the exchange rejected the key or secret.
	KindCredential Kind = "credential"
	// KindTransport indicates a network failure or a non-2xx status without a usable payload.
	KindTransport Kind = "transport"
	// KindExchange indicates the transport succeeded but the exchange reported a failure.
	KindExchange Kind = "exchange"
	// KindParse indicates a malformed CSV file or response body.
	KindParse Kind = "parse"
	// KindIntegrity indicates a ciphertext failed authentication.
	KindIntegrity Kind = "integrity"
	// KindTimeout indicates a request or run deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindNoValidRows indicates an import file produced no acceptable rows.
	KindNoValidRows Kind = "no_valid_rows"
	// KindBusy indicates a sync is already running for the account.
	KindBusy Kind = "busy"
	// KindInvalid indicates invalid input provided by the caller.
	KindInvalid Kind = "invalid"
	// KindStorage indicates the ledger store failed.
	KindStorage Kind = "storage"
)

const (
	// ReasonRejected marks credentials refused by the exchange.
	ReasonRejected = "rejected"
	// ReasonRegionBlocked marks an exchange refusing service for the caller's region.
	ReasonRegionBlocked = "region_blocked"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Kind     Kind
	Exchange string
	HTTP     int
	RawCode  string
	RawMsg   string
	Message  string
	Reason   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope of the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithExchange records the exchange that produced the failure.
func WithExchange(exchange string) Option {
	trimmed := strings.TrimSpace(exchange)
	return func(e *E) {
		e.Exchange = trimmed
	}
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message, truncated.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = truncate(strings.TrimSpace(msg), 800)
	}
}

// WithReason sets the distinguishing reason of a credential failure.
func WithReason(reason string) Option {
	return func(e *E) {
		e.Reason = reason
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{"kind=" + string(e.Kind)}
	if e.Exchange != "" {
		parts = append(parts, "exchange="+e.Exchange)
	}
	if e.Reason != "" {
		parts = append(parts, "reason="+e.Reason)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// As returns the first envelope in err's chain.
func As(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err. Context deadline errors map to KindTimeout;
// anything else without an envelope is reported as an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage renders the user-facing message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return "sync failed: timed out"
		}
		return "sync failed: " + err.Error()
	}
	switch e.Kind {
	case KindNotConnected:
		return "not connected"
	case KindCredential:
		if e.Reason == ReasonRegionBlocked {
			return "region blocked"
		}
		return "credentials rejected"
	case KindNoValidRows:
		return "no valid rows found"
	case KindBusy:
		return "sync already in progress"
	case KindConfig:
		return "server misconfigured: " + e.detail()
	case KindInvalid, KindParse:
		return e.detail()
	default:
		return "sync failed: " + e.detail()
	}
}

func (e *E) detail() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.RawCode != "" || e.RawMsg != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		if e.RawCode != "" {
			b.WriteString(e.RawCode)
			if e.RawMsg != "" {
				b.WriteString(" ")
			}
		}
		b.WriteString(e.RawMsg)
	}
	if b.Len() == 0 && e.cause != nil {
		b.WriteString(e.cause.Error())
	}
	if b.Len() == 0 {
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
