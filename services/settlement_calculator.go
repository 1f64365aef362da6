// services/settlement_calculator.go
package services

import (
	"log"

	"github.com/holiman/uint256"
)

// Role identifies why a recipient is paid.
type Role string

const (
	RoleWinner      Role = "winner"
	RoleCreator     Role = "creator"
	RoleParticipant Role = "participant"
)

// Recipient is one line of a settlement plan.
type Recipient struct {
	Address  string `json:"address"`
	Role     Role   `json:"role"`
	Lamports uint64 `json:"lamports"`
}

// SettlementInput is everything the calculator needs. Percentages are whole
// numbers out of 100.
type SettlementInput struct {
	ProgramBalanceLamports uint64
	WinnerPayoutPct        int
	CreatorSharePct        int
	OwnerFeePct            int
	CreatorAddress         string
	WinnerAddress          *string
	ParticipantAddresses   []string
}

// SettlementPlan is the computed split. The applied percentages are the
// clamped ones actually used.
type SettlementPlan struct {
	ProgramBalanceLamports uint64      `json:"program_balance_lamports"`
	WinnerPct              int         `json:"winner_pct"`
	CreatorPct             int         `json:"creator_pct"`
	OwnerFeePct            int         `json:"owner_fee_pct"`
	AirdropPct             int         `json:"airdrop_pct"`
	Recipients             []Recipient `json:"recipients"`

	NoWinnerFallback       bool `json:"no_winner_fallback"`
	NoParticipantsFallback bool `json:"no_participants_fallback"`
	// Rounding lamports absorbed by the creator entry.
	DustLamports uint64 `json:"dust_lamports"`
}

// TotalLamports sums every recipient line.
func (p *SettlementPlan) TotalLamports() uint64 {
	var total uint64
	for _, r := range p.Recipients {
		total += r.Lamports
	}
	return total
}

// ByRole returns the recipients carrying role, in plan order.
func (p *SettlementPlan) ByRole(role Role) []Recipient {
	var out []Recipient
	for _, r := range p.Recipients {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// ComputeSettlement splits the escrow balance between winner, creator and
// participants. The creator always receives the owner-fee-sized refund plus
// its own share, and absorbs the winner share when there is no winner, the
// airdrop share when there are no participants, and all rounding remainders.
// The recipient total equals the balance exactly.
func ComputeSettlement(in SettlementInput) *SettlementPlan {
	owner := clampPct("owner fee", in.OwnerFeePct, 100)
	winner := clampPct("winner payout", in.WinnerPayoutPct, 100-owner)
	creator := clampPct("creator share", in.CreatorSharePct, 100-owner-winner)
	airdrop := 100 - owner - winner - creator

	balance := in.ProgramBalanceLamports
	refundLamports := pctOf(balance, owner)
	winnerLamports := pctOf(balance, winner)
	creatorLamports := pctOf(balance, creator)
	airdropLamports := pctOf(balance, airdrop)

	plan := &SettlementPlan{
		ProgramBalanceLamports: balance,
		WinnerPct:              winner,
		CreatorPct:             creator,
		OwnerFeePct:            owner,
		AirdropPct:             airdrop,
	}

	creatorBucket := refundLamports + creatorLamports

	// Four floored products can undershoot the balance by up to 3 lamports.
	plan.DustLamports = balance - (refundLamports + winnerLamports + creatorLamports + airdropLamports)

	if in.WinnerAddress != nil && *in.WinnerAddress != "" {
		plan.Recipients = append(plan.Recipients, Recipient{
			Address:  *in.WinnerAddress,
			Role:     RoleWinner,
			Lamports: winnerLamports,
		})
	} else {
		plan.NoWinnerFallback = true
		creatorBucket += winnerLamports
	}

	var participants []Recipient
	if n := uint64(len(in.ParticipantAddresses)); n > 0 {
		each := airdropLamports / n
		plan.DustLamports += airdropLamports % n
		for _, addr := range in.ParticipantAddresses {
			participants = append(participants, Recipient{Address: addr, Role: RoleParticipant, Lamports: each})
		}
	} else {
		plan.NoParticipantsFallback = true
		creatorBucket += airdropLamports
	}
	creatorBucket += plan.DustLamports

	plan.Recipients = append(plan.Recipients, Recipient{
		Address:  in.CreatorAddress,
		Role:     RoleCreator,
		Lamports: creatorBucket,
	})
	plan.Recipients = append(plan.Recipients, participants...)
	return plan
}

func clampPct(name string, pct, max int) int {
	if max < 0 {
		max = 0
	}
	switch {
	case pct < 0:
		log.Printf("⚠️ [SETTLE] %s percentage %d is negative, clamping to 0", name, pct)
		return 0
	case pct > max:
		log.Printf("⚠️ [SETTLE] %s percentage %d exceeds the %d%% left, clamping", name, pct, max)
		return max
	}
	return pct
}

// pctOf returns floor(amount*pct/100) without overflowing 64 bits.
func pctOf(amount uint64, pct int) uint64 {
	if pct <= 0 || amount == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(pct)))
	v.Div(v, uint256.NewInt(100))
	return v.Uint64()
}
