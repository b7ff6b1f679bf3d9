package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BrokerAccount is one connected exchange account per (user, broker).
// LastSyncAt is the sync checkpoint; it only moves after a fully imported range.
type BrokerAccount struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	UserID       string     `gorm:"not null;uniqueIndex:idx_user_broker" json:"user_id"`
	Broker       Broker     `gorm:"not null;uniqueIndex:idx_user_broker" json:"broker"`
	Label        string     `json:"label"`
	APIKeyEnc    string     `json:"-"`
	APISecretEnc string     `json:"-"`
	Category     string     `json:"category,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Sync lease; at most one run holds it at a time.
	SyncLeaseOwner   string `json:"-"`
	SyncLeaseUntilMs int64  `json:"-"`
}

// BeforeCreate assigns an identifier to new accounts.
func (a *BrokerAccount) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// HasCredentials reports whether API credentials are stored.
func (a *BrokerAccount) HasCredentials() bool {
	return a.APIKeyEnc != "" && a.APISecretEnc != ""
}
