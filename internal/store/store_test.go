package store

import (
	"context"
	"testing"
	"time"

	"tradepulse/internal/config"
	"tradepulse/internal/database"
	"tradepulse/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an isolated in-memory database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewDatabase(config.Database{DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(db)
}

func TestFindAccount_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindAccount(context.Background(), "nobody", models.BrokerBybitFutures)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.UpsertAccount(ctx, models.BrokerAccount{
		UserID: "u1", Broker: models.BrokerBybitFutures, Label: "Bybit Futures",
		APIKeyEnc: "k1", APISecretEnc: "s1", Category: "linear",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	checkpoint := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateLastSync(ctx, first.ID, checkpoint))

	second, err := s.UpsertAccount(ctx, models.BrokerAccount{
		UserID: "u1", Broker: models.BrokerBybitFutures, Label: "Main",
		APIKeyEnc: "k2", APISecretEnc: "s2", Category: "inverse",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reconnect keeps the account")
	assert.Equal(t, "Main", second.Label)
	assert.Equal(t, "k2", second.APIKeyEnc)
	assert.Equal(t, "inverse", second.Category)
	require.NotNil(t, second.LastSyncAt)
	assert.True(t, checkpoint.Equal(*second.LastSyncAt), "reconnect keeps the checkpoint")
}

func TestEnsureAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.EnsureAccount(ctx, "u1", models.BrokerBinanceFuturesCSV, "Binance Futures (CSV)")
	require.NoError(t, err)
	b, err := s.EnsureAccount(ctx, "u1", models.BrokerBinanceFuturesCSV, "ignored")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Binance Futures (CSV)", b.Label)
	assert.False(t, b.HasCredentials())
}

func TestInsertExecutions_SkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, err := s.EnsureAccount(ctx, "u1", models.BrokerBybitFutures, "Bybit Futures")
	require.NoError(t, err)

	rows := func() []models.Execution {
		var out []models.Execution
		for i := 0; i < 150; i++ {
			out = append(out, models.Execution{
				BrokerAccountID: account.ID,
				Symbol:          "BTCUSDT",
				Side:            models.SideBuy,
				Qty:             1,
				Price:           float64(100 + i),
				ExecTime:        time.UnixMilli(int64(1000 + i)).UTC(),
			})
		}
		return out
	}

	n, err := s.InsertExecutions(ctx, rows())
	require.NoError(t, err)
	assert.Equal(t, int64(150), n)

	n, err = s.InsertExecutions(ctx, rows())
	require.NoError(t, err)
	assert.Zero(t, n)

	latest, err := s.ListExecutions(ctx, "u1", []models.Broker{account.Broker}, 200)
	require.NoError(t, err)
	assert.Len(t, latest, 150)
	assert.Equal(t, 249.0, latest[0].Price, "newest first")

	all, err := s.ExecutionsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 150)
	other, err := s.ExecutionsForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInsertTrades_SkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, err := s.EnsureAccount(ctx, "u1", models.BrokerBinanceFuturesCSV, "csv")
	require.NoError(t, err)

	trade := models.Trade{
		BrokerAccountID: account.ID, Symbol: "ETHUSDT", Side: models.SideSell,
		CloseTime: time.UnixMilli(5000).UTC(), OpenTime: time.UnixMilli(4000).UTC(),
		Qty: 2, AvgEntry: 10, AvgExit: 9, NetPnl: 2,
	}
	n, err := s.InsertTrades(ctx, []models.Trade{trade})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	trade.ID = ""
	n, err = s.InsertTrades(ctx, []models.Trade{trade})
	require.NoError(t, err)
	assert.Zero(t, n)

	trades, err := s.TradesForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, err := s.EnsureAccount(ctx, "u1", models.BrokerBybitFutures, "Bybit Futures")
	require.NoError(t, err)
	now := time.UnixMilli(1_000_000)

	ok, err := s.AcquireLease(ctx, account.ID, "run-a", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, account.ID, "run-b", now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease blocks a second run")

	// Releasing with the wrong owner is a no-op.
	require.NoError(t, s.ReleaseLease(ctx, account.ID, "run-b"))
	ok, err = s.AcquireLease(ctx, account.ID, "run-b", now.Add(2*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLease(ctx, account.ID, "run-c", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, s.ReleaseLease(ctx, account.ID, "run-c"))
	ok, err = s.AcquireLease(ctx, account.ID, "run-d", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListExecutions_AcrossBrokers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	api, err := s.EnsureAccount(ctx, "u1", models.BrokerBinanceFutures, "api")
	require.NoError(t, err)
	csv, err := s.EnsureAccount(ctx, "u1", models.BrokerBinanceFuturesCSV, "csv")
	require.NoError(t, err)
	other, err := s.EnsureAccount(ctx, "u2", models.BrokerBinanceFutures, "api")
	require.NoError(t, err)

	row := func(accountID string, ms int64) models.Execution {
		return models.Execution{BrokerAccountID: accountID, Symbol: "BTCUSDT", Side: models.SideBuy, Qty: 1, Price: 1, ExecTime: time.UnixMilli(ms).UTC()}
	}
	_, err = s.InsertExecutions(ctx, []models.Execution{row(api.ID, 1000), row(csv.ID, 3000), row(other.ID, 2000)})
	require.NoError(t, err)

	rows, err := s.ListExecutions(ctx, "u1", models.BrokerBinanceFutures.LedgerBrokers(), 200)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csv.ID, rows[0].BrokerAccountID, "newest first")
	assert.Equal(t, api.ID, rows[1].BrokerAccountID)

	rows, err = s.ListExecutions(ctx, "u1", models.BrokerBinanceFuturesCSV.LedgerBrokers(), 200)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.ListExecutions(ctx, "nobody", models.BrokerBybitFutures.LedgerBrokers(), 200)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}
