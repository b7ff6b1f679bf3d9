// Package history drives an exchange adapter across a bounded time range in
// fixed-size windows, following pagination cursors inside each window.
package history

import (
	"context"
	"fmt"
	"time"

	"tradepulse/internal/errs"
	"tradepulse/internal/exchange"
	"tradepulse/internal/models"

	"go.uber.org/zap"
)

// maxPagesPerWindow bounds pagination inside one window.
const maxPagesPerWindow = 10_000

// Windows splits [fromMs, toMs] into ascending, disjoint, contiguous windows
// of at most spanMs milliseconds. It returns nil when fromMs >= toMs.
func Windows(fromMs, toMs, spanMs int64) []exchange.Window {
	if fromMs >= toMs || spanMs <= 0 {
		return nil
	}
	windows := make([]exchange.Window, 0, (toMs-fromMs+spanMs-1)/spanMs)
	for start := fromMs; start < toMs; {
		end := start + spanMs - 1
		if end >= toMs-1 {
			end = toMs
		}
		windows = append(windows, exchange.NewWindow(start, end))
		start = end + 1
	}
	return windows
}

// Range is the effective [From, To] a run covers after clamping.
type Range struct {
	FromMs int64
	ToMs   int64
}

// Stats summarizes a run.
type Stats struct {
	Range   Range
	Windows int
	Pages   int
	Rows    int
}

// WindowFunc receives every row of one window once the window is fully
// paginated. Returning an error aborts the run.
type WindowFunc func(ctx context.Context, w exchange.Window, rows []models.ExecutionInput) error

// Fetcher retrieves history in windows.
type Fetcher struct {
	span        time.Duration
	maxLookback time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewFetcher creates a fetcher. now may be nil to use the wall clock.
func NewFetcher(span, maxLookback time.Duration, now func() time.Time, logger *zap.Logger) *Fetcher {
	if now == nil {
		now = time.Now
	}
	return &Fetcher{span: span, maxLookback: maxLookback, now: now, logger: logger.Named("history")}
}

// Clamp bounds fromMs to the lookback horizon and toMs to now.
func (f *Fetcher) Clamp(fromMs, toMs int64) Range {
	nowMs := f.now().UnixMilli()
	if floor := nowMs - f.maxLookback.Milliseconds(); fromMs < floor {
		fromMs = floor
	}
	if toMs > nowMs {
		toMs = nowMs
	}
	return Range{FromMs: fromMs, ToMs: toMs}
}

// Run fetches [fromMs, toMs] window by window, in ascending order, handing
// each window's rows to fn before requesting the next window. The first error
// from the adapter or fn stops the run.
func (f *Fetcher) Run(ctx context.Context, adapter exchange.Adapter, creds exchange.Credentials, fromMs, toMs int64, fn WindowFunc) (Stats, error) {
	r := f.Clamp(fromMs, toMs)
	windows := Windows(r.FromMs, r.ToMs, f.span.Milliseconds())
	stats := Stats{Range: r}
	l := f.logger.With(zap.String("exchange", adapter.Exchange()))
	l.Debug("Starting history run",
		zap.Int64("from_ms", r.FromMs),
		zap.Int64("to_ms", r.ToMs),
		zap.Int("windows", len(windows)))

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return stats, errs.New(errs.KindTimeout, errs.WithExchange(adapter.Exchange()), errs.WithMessage("sync run cancelled"), errs.WithCause(err))
		}
		rows, pages, err := f.fetchWindow(ctx, adapter, creds, w)
		stats.Pages += pages
		if err != nil {
			l.Warn("Window fetch failed", zap.Int("window", i), zap.Int64("start_ms", w.StartMs()), zap.Error(err))
			return stats, err
		}
		if err := fn(ctx, w, rows); err != nil {
			return stats, err
		}
		stats.Windows++
		stats.Rows += len(rows)
	}
	return stats, nil
}

// Collect runs the fetcher and returns every row in discovery order.
func (f *Fetcher) Collect(ctx context.Context, adapter exchange.Adapter, creds exchange.Credentials, fromMs, toMs int64) ([]models.ExecutionInput, Stats, error) {
	var all []models.ExecutionInput
	stats, err := f.Run(ctx, adapter, creds, fromMs, toMs, func(_ context.Context, _ exchange.Window, rows []models.ExecutionInput) error {
		all = append(all, rows...)
		return nil
	})
	return all, stats, err
}

func (f *Fetcher) fetchWindow(ctx context.Context, adapter exchange.Adapter, creds exchange.Credentials, w exchange.Window) ([]models.ExecutionInput, int, error) {
	var rows []models.ExecutionInput
	seen := map[string]bool{}
	cursor := ""
	for pages := 1; ; pages++ {
		page, err := adapter.FetchHistory(ctx, creds, w, cursor)
		if err != nil {
			return nil, pages, err
		}
		rows = append(rows, page.Executions...)
		if page.NextCursor == "" {
			return rows, pages, nil
		}
		if seen[page.NextCursor] || pages >= maxPagesPerWindow {
			return nil, pages, errs.New(errs.KindExchange,
				errs.WithExchange(adapter.Exchange()),
				errs.WithMessage(fmt.Sprintf("pagination did not terminate in window starting %d", w.StartMs())))
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}
