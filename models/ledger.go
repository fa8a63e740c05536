package models

import "time"

// LedgerFailure is the durable record of a completion posting that did not
// reach the ledger. Rows are resolved by manual reconciliation.
type LedgerFailure struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	RequestID      string     `json:"request_id" gorm:"size:36;not null;index"`
	AmountMinor    int64      `json:"amount_minor" gorm:"not null"`
	Currency       string     `json:"currency" gorm:"size:8;not null"`
	EntryType      string     `json:"entry_type" gorm:"size:64;not null"`
	IdempotencyKey string     `json:"idempotency_key" gorm:"size:128;not null"`
	Error          string     `json:"error" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" gorm:"index"`
}
