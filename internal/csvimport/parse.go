// Package csvimport normalizes exchange CSV exports into canonical execution
// and trade records.
package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tradepulse/internal/errs"
	"tradepulse/internal/models"

	"github.com/shopspring/decimal"
)

// Options controls parsing.
type Options struct {
	// Now supplies the timestamp of rows without a time column. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Stats counts the data rows seen and kept. Warnings name rows excluded for
// reasons other than a missing required field.
type Stats struct {
	Considered int
	Accepted   int
	Warnings   []string
}

// ExecutionResult is the outcome of ParseExecutions.
type ExecutionResult struct {
	Stats
	Rows []models.ExecutionInput
}

// TradeResult is the outcome of ParseTrades.
type TradeResult struct {
	Stats
	Rows []models.TradeInput
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrNoValidRows is returned, wrapped in an envelope, when a file yields no rows.
var ErrNoValidRows = errors.New("no valid rows found in CSV (check headers mapping)")

// ParseExecutions reads a fill export. Rows missing symbol, side, quantity or
// price are skipped.
func ParseExecutions(r io.Reader, opts Options) (ExecutionResult, error) {
	var res ExecutionResult
	now := opts.now()
	err := scan(r, &res.Stats, func(row record) (bool, error) {
		symbol, sideRaw := row.get(symbolColumns), row.get(sideColumns)
		qtyRaw, priceRaw := row.get(execQtyColumns), row.get(execPriceColumns)
		if symbol == "" || sideRaw == "" || qtyRaw == "" || priceRaw == "" {
			return false, nil
		}
		execTime, err := row.timestamp(execTimeColumns, now)
		if err != nil {
			return false, err
		}
		res.Rows = append(res.Rows, models.ExecutionInput{
			Symbol:      symbol,
			Side:        models.ParseSide(sideRaw),
			Qty:         parseNumber(qtyRaw).InexactFloat64(),
			Price:       parseNumber(priceRaw).InexactFloat64(),
			Fee:         parseNumber(row.get(execFeeColumns)).InexactFloat64(),
			RealizedPnl: parseNumber(row.get(execPnlColumns)).InexactFloat64(),
			ExecTime:    execTime,
		})
		return true, nil
	})
	return res, err
}

// ParseTrades reads a closed-position export. Rows missing symbol, side,
// quantity or both prices are skipped. Net PnL is realized PnL minus fees.
func ParseTrades(r io.Reader, opts Options) (TradeResult, error) {
	var res TradeResult
	now := opts.now()
	err := scan(r, &res.Stats, func(row record) (bool, error) {
		symbol, sideRaw, qtyRaw := row.get(symbolColumns), row.get(sideColumns), row.get(tradeQtyColumns)
		entryRaw, exitRaw := row.get(tradeEntryColumns), row.get(tradeExitColumns)
		if symbol == "" || sideRaw == "" || qtyRaw == "" || (entryRaw == "" && exitRaw == "") {
			return false, nil
		}
		closeTime, err := row.timestamp(tradeCloseColumns, now)
		if err != nil {
			return false, err
		}
		openTime, err := row.timestamp(tradeOpenColumns, closeTime)
		if err != nil {
			return false, err
		}

		entry, exit := parseNumber(entryRaw), parseNumber(exitRaw)
		if entry.IsZero() {
			entry = exit
		}
		if exit.IsZero() {
			exit = entry
		}
		realized := parseNumber(row.get(tradePnlColumns))
		fee := parseNumber(row.get(tradeFeeColumns))

		res.Rows = append(res.Rows, models.TradeInput{
			Symbol:    symbol,
			Side:      models.ParseSide(sideRaw),
			OpenTime:  openTime,
			CloseTime: closeTime,
			Qty:       parseNumber(qtyRaw).InexactFloat64(),
			AvgEntry:  entry.InexactFloat64(),
			AvgExit:   exit.InexactFloat64(),
			GrossPnl:  realized.InexactFloat64(),
			NetPnl:    realized.Sub(fee).InexactFloat64(),
			Fees:      fee.InexactFloat64(),
		})
		return true, nil
	})
	return res, err
}

// rowFunc maps one record. It reports whether the row was accepted; an error
// excludes the row and becomes a warning.
type rowFunc func(row record) (bool, error)

func scan(r io.Reader, stats *Stats, fn rowFunc) error {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return noValidRows(stats)
	}
	if err != nil {
		return parseError(err)
	}
	index := headerIndex(header)

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return parseError(err)
		}
		if blank(fields) {
			continue
		}
		stats.Considered++
		line, _ := cr.FieldPos(0)
		ok, rowErr := fn(record{index: index, fields: fields})
		if rowErr != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("line %d: %v", line, rowErr))
			continue
		}
		if ok {
			stats.Accepted++
		}
	}
	if stats.Accepted == 0 {
		return noValidRows(stats)
	}
	return nil
}

func noValidRows(stats *Stats) error {
	return errs.New(errs.KindNoValidRows,
		errs.WithMessage(fmt.Sprintf("%d of %d rows accepted", stats.Accepted, stats.Considered)),
		errs.WithCause(ErrNoValidRows))
}

func parseError(err error) error {
	return errs.New(errs.KindParse, errs.WithMessage("failed to parse CSV file"), errs.WithCause(err))
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type record struct {
	index  map[string]int
	fields []string
}

// get returns the first non-empty value among the candidate columns.
func (r record) get(candidates []string) string {
	for _, c := range candidates {
		i, ok := r.index[normalizeHeader(c)]
		if !ok || i >= len(r.fields) {
			continue
		}
		if v := strings.TrimSpace(r.fields[i]); v != "" {
			return v
		}
	}
	return ""
}

// timestamp resolves a timestamp column. An absent value yields fallback; a
// present value that cannot be parsed is an error.
func (r record) timestamp(candidates []string, fallback time.Time) (time.Time, error) {
	raw := r.get(candidates)
	if raw == "" {
		return fallback, nil
	}
	t, ok := ParseTime(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
	}
	return t, nil
}

// parseNumber strips thousands separators and trailing units. Unparseable
// values are zero.
func parseNumber(raw string) decimal.Decimal {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02T15:04:05",
	"2006/01/02",
}

// ParseTime accepts ISO-8601 and "YYYY-MM-DD HH:MM:SS" strings, plus epoch
// seconds or milliseconds. Values without a zone are UTC.
func ParseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case len(s) >= 12:
			return time.UnixMilli(n).UTC(), true
		case len(s) >= 9:
			return time.Unix(n, 0).UTC(), true
		}
		return time.Time{}, false
	}

	s = strings.TrimSuffix(strings.TrimSuffix(s, "UTC"), " ")
	if !strings.Contains(s, "T") {
		s = strings.Replace(s, " ", "T", 1)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
