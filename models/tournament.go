package models

import (
	"time"
)

// Off-chain lifecycle states of a tournament row. The conclusion transition is
// guarded by a compare-and-swap on Status.
const (
	TournamentStatusUpcoming         = "upcoming"
	TournamentStatusActive           = "active"
	TournamentStatusConcluding       = "concluding"
	TournamentStatusSettlementFailed = "settlement_failed"
	TournamentStatusConcluded        = "concluded"
)

// Tournament is the off-chain record of an escrow-backed tournament.
type Tournament struct {
	ID                  string     `json:"id" gorm:"primaryKey"`
	Name                string     `json:"name" gorm:"not null"`
	Address             string     `json:"address" gorm:"type:varchar(64);not null;uniqueIndex"` // escrow PDA
	Authority           string     `json:"authority" gorm:"type:varchar(64);not null"` // creator
	OnChainID           uint64     `json:"on_chain_id"`
	Status              string     `json:"status" gorm:"type:varchar(24);not null;default:'upcoming';index"`
	StartTime           time.Time  `json:"start_time" gorm:"not null"`
	ExpiresAt           time.Time  `json:"expires_at" gorm:"not null;index"`
	FundingSignature    string     `json:"funding_signature,omitempty" gorm:"type:varchar(100)"`
	InitialPoolLamports uint64     `json:"initial_pool_lamports"`
	WinnerAddress       string     `json:"winner_address,omitempty" gorm:"type:varchar(64)"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	ConcludedAt         *time.Time `json:"concluded_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsExpired reports whether the tournament window has closed at now.
func (t *Tournament) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
