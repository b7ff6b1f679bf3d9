// Package syncer orchestrates broker-account connection, incremental API
// sync and CSV import.
package syncer

import (
	"context"
	"errors"
	"time"

	"tradepulse/internal/config"
	"tradepulse/internal/errs"
	"tradepulse/internal/exchange"
	"tradepulse/internal/history"
	"tradepulse/internal/models"
	"tradepulse/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the per-account sync state.
type State string

const (
	StateNoAccount State = "NO_ACCOUNT"
	StateReady     State = "READY"
	StateSyncing   State = "SYNCING"
	StateSynced    State = "SYNCED"
	StateFailed    State = "FAILED"
)

// Store is the account persistence the orchestrator needs.
type Store interface {
	FindAccount(ctx context.Context, userID string, broker models.Broker) (*models.BrokerAccount, error)
	UpsertAccount(ctx context.Context, account models.BrokerAccount) (*models.BrokerAccount, error)
	EnsureAccount(ctx context.Context, userID string, broker models.Broker, label string) (*models.BrokerAccount, error)
	UpdateLastSync(ctx context.Context, accountID string, at time.Time) error
	AcquireLease(ctx context.Context, accountID, owner string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, accountID, owner string) error
}

// Recorder writes canonical rows to the ledger.
type Recorder interface {
	RecordExecutions(ctx context.Context, accountID string, inputs []models.ExecutionInput) (int64, error)
	RecordTrades(ctx context.Context, accountID string, inputs []models.TradeInput) (int64, error)
}

// Cipher protects credentials at rest.
type Cipher interface {
	Check() error
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Result is the outcome of one sync run.
type Result struct {
	State    State     `json:"state"`
	Imported int64     `json:"imported"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Windows  int       `json:"windows"`
}

// Service runs connect, sync and import for broker accounts.
type Service struct {
	cfg      config.Sync
	store    Store
	ledger   Recorder
	vault    Cipher
	adapters map[models.Broker]exchange.Adapter
	logger   *zap.Logger
	now      func() time.Time
	onChange func(userID string)
}

// NewService creates the orchestrator. adapters maps each API broker to its
// exchange integration.
func NewService(cfg config.Sync, st Store, ledger Recorder, vault Cipher, adapters map[models.Broker]exchange.Adapter, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		ledger:   ledger,
		vault:    vault,
		adapters: adapters,
		logger:   logger.Named("syncer"),
		now:      time.Now,
		onChange: func(string) {},
	}
}

// OnLedgerChange registers fn to run after an import or sync stores rows.
func (s *Service) OnLedgerChange(fn func(userID string)) {
	if fn != nil {
		s.onChange = fn
	}
}

func (s *Service) adapter(broker models.Broker) (exchange.Adapter, error) {
	if broker.IsCSV() {
		return nil, errs.New(errs.KindInvalid, errs.WithMessage(string(broker)+" accounts are fed by CSV import only"))
	}
	a, ok := s.adapters[broker]
	if !ok {
		return nil, errs.New(errs.KindInvalid, errs.WithMessage("unsupported broker "+string(broker)))
	}
	return a, nil
}

func (s *Service) findAccount(ctx context.Context, userID string, broker models.Broker) (*models.BrokerAccount, error) {
	account, err := s.store.FindAccount(ctx, userID, broker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.KindNotConnected, errs.WithMessage(string(broker)+" is not connected"))
	}
	if err != nil {
		return nil, err
	}
	if !account.HasCredentials() {
		return nil, errs.New(errs.KindNotConnected, errs.WithMessage(string(broker)+" has no stored API credentials"))
	}
	return account, nil
}

func (s *Service) credentials(account *models.BrokerAccount) (exchange.Credentials, error) {
	key, err := s.vault.Decrypt(account.APIKeyEnc)
	if err != nil {
		return exchange.Credentials{}, err
	}
	secret, err := s.vault.Decrypt(account.APISecretEnc)
	if err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{APIKey: key, APISecret: secret, Category: account.Category}, nil
}

// Sync imports the account's history from its checkpoint up to now. The
// checkpoint advances only when every window succeeded; a failed run leaves
// it untouched so the next run resumes from the same point.
func (s *Service) Sync(ctx context.Context, userID string, broker models.Broker) (Result, error) {
	res := Result{State: StateNoAccount}
	if err := s.vault.Check(); err != nil {
		return res, err
	}
	adapter, err := s.adapter(broker)
	if err != nil {
		return res, err
	}
	account, err := s.findAccount(ctx, userID, broker)
	if err != nil {
		return res, err
	}
	res.State = StateReady
	l := s.logger.With(zap.String("broker", string(broker)), zap.String("account_id", account.ID))

	creds, err := s.credentials(account)
	if err != nil {
		res.State = StateFailed
		return res, err
	}

	owner := uuid.NewString()
	acquired, err := s.store.AcquireLease(ctx, account.ID, owner, s.now(), s.cfg.LeaseTTL)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	if !acquired {
		return res, errs.New(errs.KindBusy, errs.WithMessage("a sync is already running for "+string(broker)))
	}
	defer func() {
		if err := s.store.ReleaseLease(context.WithoutCancel(ctx), account.ID, owner); err != nil {
			l.Warn("Failed to release sync lease", zap.Error(err))
		}
	}()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	defer cancel()

	now := s.now()
	fromMs := now.Add(-s.cfg.MaxLookback).UnixMilli()
	if account.LastSyncAt != nil && account.LastSyncAt.UnixMilli() > fromMs {
		fromMs = account.LastSyncAt.UnixMilli()
	}
	fetcher := history.NewFetcher(s.cfg.WindowSpan, s.cfg.MaxLookback, func() time.Time { return now }, s.logger)

	res.State = StateSyncing
	l.Info("Sync started", zap.Int64("from_ms", fromMs), zap.Int64("to_ms", now.UnixMilli()))
	stats, err := fetcher.Run(runCtx, adapter, creds, fromMs, now.UnixMilli(),
		func(ctx context.Context, w exchange.Window, rows []models.ExecutionInput) error {
			n, err := s.ledger.RecordExecutions(ctx, account.ID, rows)
			res.Imported += n
			return err
		})
	res.From = time.UnixMilli(stats.Range.FromMs).UTC()
	res.To = time.UnixMilli(stats.Range.ToMs).UTC()
	res.Windows = stats.Windows
	if res.Imported > 0 {
		s.onChange(userID)
	}
	if err != nil {
		res.State = StateFailed
		if e, ok := errs.As(err); errors.Is(runCtx.Err(), context.DeadlineExceeded) && (!ok || e.Kind != errs.KindTimeout) {
			err = errs.New(errs.KindTimeout, errs.WithMessage("sync run exceeded "+s.cfg.RunTimeout.String()), errs.WithCause(err))
		}
		l.Warn("Sync failed", zap.Int("windows_done", stats.Windows), zap.Int64("imported", res.Imported), zap.Error(err))
		return res, err
	}

	if err := s.store.UpdateLastSync(ctx, account.ID, res.To); err != nil {
		res.State = StateFailed
		return res, err
	}
	res.State = StateSynced
	l.Info("Sync finished", zap.Int("windows", stats.Windows), zap.Int("rows", stats.Rows), zap.Int64("imported", res.Imported))
	return res, nil
}
