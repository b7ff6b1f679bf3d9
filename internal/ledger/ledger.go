// Package ledger maps canonical inputs onto stored entities and writes them
// with skip-duplicate semantics.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradepulse/internal/models"

	"go.uber.org/zap"
)

// Writer is the storage the ledger needs.
type Writer interface {
	InsertExecutions(ctx context.Context, rows []models.Execution) (int64, error)
	InsertTrades(ctx context.Context, rows []models.Trade) (int64, error)
}

// Ledger normalizes and records executions and trades.
type Ledger struct {
	store  Writer
	logger *zap.Logger
}

// New creates a ledger.
func New(store Writer, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.Named("ledger")}
}

// RecordExecutions stores rows for the account and returns how many were new.
func (l *Ledger) RecordExecutions(ctx context.Context, accountID string, inputs []models.ExecutionInput) (int64, error) {
	rows := make([]models.Execution, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		row, ok := NormalizeExecution(accountID, in)
		if !ok {
			continue
		}
		key := executionKey(row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	inserted, err := l.store.InsertExecutions(ctx, rows)
	if err != nil {
		return 0, err
	}
	l.logger.Debug("Recorded executions",
		zap.String("account_id", accountID),
		zap.Int("submitted", len(inputs)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

// RecordTrades stores rows for the account and returns how many were new.
func (l *Ledger) RecordTrades(ctx context.Context, accountID string, inputs []models.TradeInput) (int64, error) {
	rows := make([]models.Trade, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		row, ok := NormalizeTrade(accountID, in)
		if !ok {
			continue
		}
		key := tradeKey(row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	inserted, err := l.store.InsertTrades(ctx, rows)
	if err != nil {
		return 0, err
	}
	l.logger.Debug("Recorded trades",
		zap.String("account_id", accountID),
		zap.Int("submitted", len(inputs)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

// NormalizeExecution canonicalizes an input so equal fills produce equal
// natural keys: upper-case symbol, BUY/SELL side, UTC millisecond time.
func NormalizeExecution(accountID string, in models.ExecutionInput) (models.Execution, bool) {
	symbol := normalizeSymbol(in.Symbol)
	if symbol == "" {
		return models.Execution{}, false
	}
	return models.Execution{
		BrokerAccountID: accountID,
		Symbol:          symbol,
		Side:            models.ParseSide(string(in.Side)),
		Qty:             in.Qty,
		Price:           in.Price,
		Fee:             in.Fee,
		RealizedPnl:     in.RealizedPnl,
		ExecTime:        normalizeTime(in.ExecTime),
	}, true
}

// NormalizeTrade canonicalizes a closed-trade input.
func NormalizeTrade(accountID string, in models.TradeInput) (models.Trade, bool) {
	symbol := normalizeSymbol(in.Symbol)
	if symbol == "" {
		return models.Trade{}, false
	}
	closeTime := normalizeTime(in.CloseTime)
	openTime := normalizeTime(in.OpenTime)
	if in.OpenTime.IsZero() {
		openTime = closeTime
	}
	return models.Trade{
		BrokerAccountID: accountID,
		Symbol:          symbol,
		Side:            models.ParseSide(string(in.Side)),
		OpenTime:        openTime,
		CloseTime:       closeTime,
		Qty:             in.Qty,
		AvgEntry:        in.AvgEntry,
		AvgExit:         in.AvgExit,
		GrossPnl:        in.GrossPnl,
		NetPnl:          in.NetPnl,
		Fees:            in.Fees,
	}, true
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func executionKey(e models.Execution) string {
	return fmt.Sprintf("%s|%s|%g|%g|%d", e.Symbol, e.Side, e.Qty, e.Price, e.ExecTime.UnixMilli())
}

func tradeKey(t models.Trade) string {
	return fmt.Sprintf("%s|%d|%g|%g", t.Symbol, t.CloseTime.UnixMilli(), t.Qty, t.AvgExit)
}
