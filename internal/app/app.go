// Package app assembles the services shared by the API server and the CLI.
package app

import (
	"fmt"

	"tradepulse/internal/analytics"
	"tradepulse/internal/cache"
	"tradepulse/internal/config"
	"tradepulse/internal/database"
	"tradepulse/internal/exchange"
	"tradepulse/internal/exchange/binance"
	"tradepulse/internal/exchange/bybit"
	"tradepulse/internal/ledger"
	"tradepulse/internal/logger"
	"tradepulse/internal/models"
	"tradepulse/internal/store"
	"tradepulse/internal/syncer"
	"tradepulse/internal/vault"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the process-wide dependencies.
type App struct {
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Store     *store.Store
	Syncer    *syncer.Service
	Analytics *analytics.Service

	cache *cache.Cache
}

// New loads configuration from configPath and wires every service. A missing
// encryption key is not fatal here; operations needing it fail with a config
// error instead.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return Build(cfg, log, db)
}

// Build wires the services around an already opened database.
func Build(cfg config.Config, log *zap.Logger, db *gorm.DB) (*App, error) {
	st := store.New(db)
	v := vault.New(cfg.Vault)
	if err := v.Check(); err != nil {
		log.Warn("Credential vault unavailable", zap.Error(err))
	}

	adapters := map[models.Broker]exchange.Adapter{
		models.BrokerBinanceFutures: binance.NewRestClient(&cfg.Exchanges.Binance, cfg.Sync, log),
		models.BrokerBybitFutures:   bybit.NewRestClient(&cfg.Exchanges.Bybit, cfg.Sync, log),
	}

	summaries, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.SummaryTTL)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	reports := analytics.NewService(st, summaries)

	svc := syncer.NewService(cfg.Sync, st, ledger.New(st, log), v, adapters, log)
	svc.OnLedgerChange(reports.Invalidate)

	return &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Store:     st,
		Syncer:    svc,
		Analytics: reports,
		cache:     summaries,
	}, nil
}

// Close releases the cache and the database handle.
func (a *App) Close() {
	a.cache.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.Log.Sync()
}
