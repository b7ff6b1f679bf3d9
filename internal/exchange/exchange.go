// Package exchange defines the capability set every exchange integration
// provides to the sync pipeline, and the signed-request transport they share.
package exchange

import (
	"context"
	"time"

	"tradepulse/internal/models"
)

// Credentials are the decrypted values of a broker account. They live only
// for the duration of a request.
type Credentials struct {
	APIKey    string
	APISecret string
	// Category is the exchange account category resolved at connect time.
	Category string
}

// Window is an inclusive [Start, End] time range at millisecond precision.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window from epoch milliseconds.
func NewWindow(startMs, endMs int64) Window {
	return Window{Start: time.UnixMilli(startMs).UTC(), End: time.UnixMilli(endMs).UTC()}
}

// StartMs returns the window start in epoch milliseconds.
func (w Window) StartMs() int64 { return w.Start.UnixMilli() }

// EndMs returns the inclusive window end in epoch milliseconds.
func (w Window) EndMs() int64 { return w.End.UnixMilli() }

// Page is one paginated response within a window. An empty NextCursor ends
// the window.
type Page struct {
	Executions []models.ExecutionInput
	NextCursor string
}

// Adapter is implemented by each exchange integration.
type Adapter interface {
	// Exchange returns the exchange name used in logs and errors.
	Exchange() string
	// VerifyCredentials checks the key pair against the exchange. It is never retried.
	VerifyCredentials(ctx context.Context, creds Credentials) error
	// FetchHistory returns one page of executions inside w, continuing from cursor.
	FetchHistory(ctx context.Context, creds Credentials, w Window, cursor string) (Page, error)
}
