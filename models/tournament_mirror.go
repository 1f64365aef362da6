// models/tournament_mirror.go
package models

import (
	"time"
)

// TournamentMirror mirrors the on-chain escrow account for display.
// Table name: tournament_mirror. Never consulted during verification.
type TournamentMirror struct {
	Address             string    `gorm:"primaryKey;type:varchar(64)" json:"address"`
	Authority           string    `gorm:"type:varchar(64);not null" json:"authority"`
	State               string    `gorm:"type:varchar(16);not null" json:"state"`
	FeeType             string    `gorm:"type:varchar(24);not null" json:"fee_type"`
	EntryFeeLamports    uint64    `gorm:"not null" json:"entry_fee_lamports"`
	FeeMultiplierPctX10 uint8     `gorm:"not null" json:"fee_multiplier_pct_x10"`
	WinnerPayoutPct     uint8     `gorm:"not null" json:"winner_payout_pct"`
	RoyaltyPayoutPct    uint8     `gorm:"not null" json:"royalty_payout_pct"`
	OnChainID           uint64    `gorm:"not null" json:"on_chain_id"`
	BalanceLamports     uint64    `gorm:"not null" json:"balance_lamports"`
	LastCheckedAt       time.Time `gorm:"not null" json:"last_checked_at"`
}

func (TournamentMirror) TableName() string { return "tournament_mirror" }
