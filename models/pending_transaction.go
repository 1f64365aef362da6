package models

import "time"

const (
	PendingStatusPending   = "pending"
	PendingStatusConfirmed = "confirmed"
)

// PendingTransaction is an unsigned payment template issued to a wallet.
// It moves pending → confirmed once and is never mutated again.
type PendingTransaction struct {
	ID                  string     `json:"transaction_id" gorm:"primaryKey"`
	TournamentAddress   string     `json:"tournament_address" gorm:"type:varchar(64);not null;index"`
	UserWalletAddress   string     `json:"user_wallet_address" gorm:"type:varchar(64);not null;index"`
	UnsignedTransaction string     `json:"unsigned_transaction" gorm:"type:text;not null"` // base64, byte-for-byte as issued
	EntryFeeAtCreation  uint64     `json:"entry_fee_at_creation"`
	Status              string     `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	Signature           *string    `json:"signature,omitempty" gorm:"type:varchar(100);uniqueIndex"`
	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
