package syncer

import (
	"context"
	"io"
	"strings"

	"tradepulse/internal/csvimport"
	"tradepulse/internal/errs"
	"tradepulse/internal/models"

	"go.uber.org/zap"
)

// ImportKind selects the CSV family.
type ImportKind string

const (
	ImportExecutions ImportKind = "executions"
	ImportTrades     ImportKind = "trades"
)

// ParseImportKind validates a kind; empty means executions.
func ParseImportKind(s string) (ImportKind, error) {
	switch k := ImportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return ImportExecutions, nil
	case ImportExecutions, ImportTrades:
		return k, nil
	}
	return "", errs.New(errs.KindInvalid, errs.WithMessage("kind must be executions or trades"))
}

// ImportResult is the outcome of a CSV import.
type ImportResult struct {
	Imported   int64    `json:"imported"`
	Considered int      `json:"considered"`
	Accepted   int      `json:"accepted"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ImportCSV parses r and records its rows on the user's CSV account for the
// broker, creating that account on first import. Rows already stored are
// skipped.
func (s *Service) ImportCSV(ctx context.Context, userID string, broker models.Broker, kind ImportKind, r io.Reader) (ImportResult, error) {
	var res ImportResult
	target := broker.CSVVariant()
	if target == "" {
		return res, errs.New(errs.KindInvalid, errs.WithMessage("unsupported broker "+string(broker)))
	}
	l := s.logger.With(zap.String("broker", string(target)), zap.String("kind", string(kind)))
	opts := csvimport.Options{Now: s.now}

	var (
		executions []models.ExecutionInput
		trades     []models.TradeInput
		stats      csvimport.Stats
		err        error
	)
	switch kind {
	case ImportExecutions:
		var parsed csvimport.ExecutionResult
		parsed, err = csvimport.ParseExecutions(r, opts)
		executions, stats = parsed.Rows, parsed.Stats
	case ImportTrades:
		var parsed csvimport.TradeResult
		parsed, err = csvimport.ParseTrades(r, opts)
		trades, stats = parsed.Rows, parsed.Stats
	default:
		return res, errs.New(errs.KindInvalid, errs.WithMessage("unsupported import kind "+string(kind)))
	}
	res.Considered, res.Accepted, res.Warnings = stats.Considered, stats.Accepted, stats.Warnings
	for _, w := range stats.Warnings {
		l.Warn("CSV row excluded", zap.String("reason", w))
	}
	if err != nil {
		return res, err
	}

	account, err := s.store.EnsureAccount(ctx, userID, target, target.DefaultLabel())
	if err != nil {
		return res, err
	}

	switch kind {
	case ImportExecutions:
		res.Imported, err = s.ledger.RecordExecutions(ctx, account.ID, executions)
	case ImportTrades:
		res.Imported, err = s.ledger.RecordTrades(ctx, account.ID, trades)
	}
	if err != nil {
		return res, err
	}
	if res.Imported > 0 {
		s.onChange(userID)
	}
	l.Info("CSV imported",
		zap.String("account_id", account.ID),
		zap.Int("considered", res.Considered),
		zap.Int("accepted", res.Accepted),
		zap.Int64("imported", res.Imported))
	return res, nil
}
