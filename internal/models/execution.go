package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Execution is one raw fill. Rows are immutable; the natural key
// idx_execution_natural makes re-imports idempotent.
type Execution struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	BrokerAccountID string    `gorm:"not null;uniqueIndex:idx_execution_natural,priority:1" json:"broker_account_id"`
	Symbol          string    `gorm:"not null;uniqueIndex:idx_execution_natural,priority:2" json:"symbol"`
	Side            Side      `gorm:"not null;uniqueIndex:idx_execution_natural,priority:3" json:"side"`
	Qty             float64   `gorm:"not null;uniqueIndex:idx_execution_natural,priority:4" json:"qty"`
	Price           float64   `gorm:"not null;uniqueIndex:idx_execution_natural,priority:5" json:"price"`
	ExecTime        time.Time `gorm:"not null;uniqueIndex:idx_execution_natural,priority:6;index" json:"exec_time"`
	Fee             float64   `json:"fee"`
	RealizedPnl     float64   `json:"realized_pnl"`
	CreatedAt       time.Time `json:"created_at"`
}

// BeforeCreate assigns an identifier to new executions.
func (e *Execution) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
