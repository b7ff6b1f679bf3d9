package app

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"tradepulse/internal/config"
	"tradepulse/internal/database"
	"tradepulse/internal/errs"
	"tradepulse/internal/models"
	"tradepulse/internal/syncer"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Config{
		Database: config.Database{DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared"},
		Vault:    config.Vault{DataKey: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))},
		Cache:    config.Cache{SummaryTTL: time.Minute, MaxCost: 100},
		Sync:     config.Sync{WindowSpan: 7 * 24 * time.Hour, MaxLookback: 90 * 24 * time.Hour},
	}
	db, err := database.NewDatabase(cfg.Database)
	require.NoError(t, err)
	a, err := Build(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestImportInvalidatesSummary(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	before, err := a.Analytics.Summary(ctx, "u1", "30d", "")
	require.NoError(t, err)
	assert.Zero(t, before.KPIs.TradeCount)
	a.cache.Wait()

	closed := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	csv := "Symbol,Side,Qty,Exit Price,Close Time,Realized PnL\n" +
		"BTCUSDT,SELL,1,100," + closed + ",50\n"
	res, err := a.Syncer.ImportCSV(ctx, "u1", models.BrokerBybitFutures, syncer.ImportTrades, strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Imported)

	after, err := a.Analytics.Summary(ctx, "u1", "30d", "")
	require.NoError(t, err)
	assert.Equal(t, 1, after.KPIs.TradeCount)
	assert.Equal(t, 50.0, after.KPIs.NetPnl)
}

func TestAdaptersWired(t *testing.T) {
	a := newTestApp(t)
	_, err := a.Syncer.Sync(context.Background(), "u1", models.BrokerBinanceFutures)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotConnected))
}
