package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trade is a closed position with its entry/exit summary.
type Trade struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	BrokerAccountID string    `gorm:"not null;uniqueIndex:idx_trade_natural,priority:1" json:"broker_account_id"`
	Symbol          string    `gorm:"not null;uniqueIndex:idx_trade_natural,priority:2" json:"symbol"`
	Side            Side      `gorm:"not null" json:"side"`
	OpenTime        time.Time `json:"open_time"`
	CloseTime       time.Time `gorm:"not null;uniqueIndex:idx_trade_natural,priority:3;index" json:"close_time"`
	Qty             float64   `gorm:"not null;uniqueIndex:idx_trade_natural,priority:4" json:"qty"`
	AvgEntry        float64   `json:"avg_entry"`
	AvgExit         float64   `gorm:"not null;uniqueIndex:idx_trade_natural,priority:5" json:"avg_exit"`
	GrossPnl        float64   `json:"gross_pnl"`
	NetPnl          float64   `json:"net_pnl"`
	Fees            float64   `json:"fees"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate assigns an identifier to new trades.
func (t *Trade) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
