package models

import "time"

// Settlement states, one row per conclusion attempt.
const (
	SettlementStatePending           = "Pending"
	SettlementStateConcludeSubmitted = "ConcludeSubmitted"
	SettlementStateConcludeConfirmed = "ConcludeConfirmed"
	SettlementStateConcludeFailed    = "ConcludeFailed"
	SettlementStatePayoutsInFlight   = "PayoutsInFlight"
	SettlementStatePayoutsReported   = "PayoutsReported"
)

// SettlementRecord persists the outcome of one conclusion attempt.
type SettlementRecord struct {
	ID                     string           `json:"id" gorm:"primaryKey"`
	TournamentID           string           `json:"tournament_id" gorm:"not null;index"`
	State                  string           `json:"state" gorm:"type:varchar(24);not null"`
	ConcludeSignature      string           `json:"conclude_signature,omitempty" gorm:"type:varchar(100)"`
	BalanceLamports        uint64           `json:"balance_lamports"`
	WinnerPct              int              `json:"winner_pct"`
	CreatorPct             int              `json:"creator_pct"`
	OwnerFeePct            int              `json:"owner_fee_pct"`
	AirdropPct             int              `json:"airdrop_pct"`
	NoWinnerFallback       bool             `json:"no_winner_fallback"`
	NoParticipantsFallback bool             `json:"no_participants_fallback"`
	DustLamports           uint64           `json:"dust_lamports"`
	Summary                string           `json:"summary" gorm:"type:text"`
	Error                  string           `json:"error,omitempty" gorm:"type:text"`
	ArchiveURL             string           `json:"archive_url,omitempty"`
	Transfers              []PayoutTransfer `json:"transfers,omitempty" gorm:"foreignKey:SettlementID"`
	CreatedAt              time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt              time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// PayoutTransfer is one recipient line of a settlement and the batch that carried it.
type PayoutTransfer struct {
	ID           string `json:"id" gorm:"primaryKey"`
	SettlementID string `json:"settlement_id" gorm:"not null;index"`
	Recipient    string `json:"recipient" gorm:"type:varchar(64);not null"`
	Role         string `json:"role" gorm:"type:varchar(16);not null"`
	Lamports     uint64 `json:"lamports"`
	Group        string `json:"group" gorm:"column:recipient_group;type:varchar(16)"`
	BatchIndex   int    `json:"batch_index"`
	Signature    string `json:"signature,omitempty" gorm:"type:varchar(100)"`
	Succeeded    bool   `json:"succeeded"`
	Reason       string `json:"reason,omitempty" gorm:"type:varchar(32)"`
}
