// Package store is the gorm-backed ledger: broker accounts, executions and
// trades, with skip-duplicate inserts on their natural keys.
package store

import (
	"context"
	"errors"
	"time"

	"tradepulse/internal/errs"
	"tradepulse/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 100

// ErrNotFound is returned when no broker account matches.
var ErrNotFound = errors.New("broker account not found")

// Store provides ledger persistence.
type Store struct {
	db *gorm.DB
}

// New wraps a migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

func storageError(op string, err error) error {
	return errs.New(errs.KindStorage, errs.WithMessage(op+" failed"), errs.WithCause(err))
}

// FindAccount returns the account for (userID, broker) or ErrNotFound.
func (s *Store) FindAccount(ctx context.Context, userID string, broker models.Broker) (*models.BrokerAccount, error) {
	var account models.BrokerAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND broker = ?", userID, broker).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("find account", err)
	}
	return &account, nil
}

// UpsertAccount creates the account or, when (user, broker) exists, replaces
// its label, credentials and category. The stored row is returned.
func (s *Store) UpsertAccount(ctx context.Context, account models.BrokerAccount) (*models.BrokerAccount, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "broker"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "api_key_enc", "api_secret_enc", "category", "updated_at"}),
	}).Create(&account).Error
	if err != nil {
		return nil, storageError("upsert account", err)
	}
	return s.FindAccount(ctx, account.UserID, account.Broker)
}

// EnsureAccount returns the account for (userID, broker), creating it with
// label when absent. Existing accounts are left untouched.
func (s *Store) EnsureAccount(ctx context.Context, userID string, broker models.Broker, label string) (*models.BrokerAccount, error) {
	account := models.BrokerAccount{UserID: userID, Broker: broker, Label: label}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "broker"}},
		DoNothing: true,
	}).Create(&account).Error
	if err != nil {
		return nil, storageError("create account", err)
	}
	return s.FindAccount(ctx, userID, broker)
}

// InsertExecutions inserts rows, skipping natural-key duplicates, and returns
// the number of rows actually written.
func (s *Store) InsertExecutions(ctx context.Context, rows []models.Execution) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, storageError("insert executions", res.Error)
	}
	return res.RowsAffected, nil
}

// InsertTrades inserts rows, skipping natural-key duplicates, and returns the
// number of rows actually written.
func (s *Store) InsertTrades(ctx context.Context, rows []models.Trade) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, storageError("insert trades", res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateLastSync moves the account checkpoint.
func (s *Store) UpdateLastSync(ctx context.Context, accountID string, at time.Time) error {
	at = at.UTC()
	err := s.db.WithContext(ctx).Model(&models.BrokerAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"last_sync_at": &at, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return storageError("update checkpoint", err)
	}
	return nil
}

// AcquireLease marks the account as being synced by owner until now+ttl. It
// reports false when another owner holds an unexpired lease.
func (s *Store) AcquireLease(ctx context.Context, accountID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	nowMs := now.UnixMilli()
	res := s.db.WithContext(ctx).Model(&models.BrokerAccount{}).
		Where("id = ? AND (sync_lease_owner = '' OR sync_lease_owner IS NULL OR sync_lease_until_ms < ?)", accountID, nowMs).
		Updates(map[string]any{"sync_lease_owner": owner, "sync_lease_until_ms": nowMs + ttl.Milliseconds()})
	if res.Error != nil {
		return false, storageError("acquire sync lease", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLease clears the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, accountID, owner string) error {
	err := s.db.WithContext(ctx).Model(&models.BrokerAccount{}).
		Where("id = ? AND sync_lease_owner = ?", accountID, owner).
		Updates(map[string]any{"sync_lease_owner": "", "sync_lease_until_ms": 0}).Error
	if err != nil {
		return storageError("release sync lease", err)
	}
	return nil
}

// ListExecutions returns the newest executions across the user's accounts
// on the given brokers.
func (s *Store) ListExecutions(ctx context.Context, userID string, brokers []models.Broker, limit int) ([]models.Execution, error) {
	rows := []models.Execution{}
	accounts := s.userAccounts(userID).Where("broker IN ?", brokers)
	err := s.db.WithContext(ctx).
		Where("broker_account_id IN (?)", accounts).
		Order("exec_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storageError("list executions", err)
	}
	return rows, nil
}

func (s *Store) userAccounts(userID string) *gorm.DB {
	return s.db.Model(&models.BrokerAccount{}).Select("id").Where("user_id = ?", userID)
}

// TradesForUser returns every closed trade across the user's accounts,
// oldest close first.
func (s *Store) TradesForUser(ctx context.Context, userID string) ([]models.Trade, error) {
	var rows []models.Trade
	err := s.db.WithContext(ctx).
		Where("broker_account_id IN (?)", s.userAccounts(userID)).
		Order("close_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageError("list trades", err)
	}
	return rows, nil
}

// ExecutionsForUser returns every execution across the user's accounts,
// oldest first.
func (s *Store) ExecutionsForUser(ctx context.Context, userID string) ([]models.Execution, error) {
	var rows []models.Execution
	err := s.db.WithContext(ctx).
		Where("broker_account_id IN (?)", s.userAccounts(userID)).
		Order("exec_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageError("list executions", err)
	}
	return rows, nil
}
