// chain/account.go
package chain

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// AccountHeaderSize is the fixed on-chain size of a tournament account record:
// 8 (discriminator) + 32 (authority) + 1 (state) + 1 (fee type) + 8 (entry fee)
// + 1 (fee multiplier) + 1 (winner pct) + 1 (royalty pct) + 8 (tournament id).
const AccountHeaderSize = 8 + 32 + 1 + 1 + 8 + 1 + 1 + 1 + 8

// ErrTooShort is returned when an account buffer is smaller than AccountHeaderSize.
var ErrTooShort = errors.New("chain: account data too short")

// TournamentState mirrors the program's lifecycle enum. Values >= 2 are all concluded.
type TournamentState uint8

const (
	StateUninitialized TournamentState = 0
	StateActive        TournamentState = 1
	StateConcluded     TournamentState = 2
)

func (s TournamentState) IsConcluded() bool { return s >= StateConcluded }

func (s TournamentState) String() string {
	switch {
	case s == StateUninitialized:
		return "uninitialized"
	case s == StateActive:
		return "active"
	default:
		return "concluded"
	}
}

// FeeType selects how the entry fee is priced.
type FeeType uint8

const (
	FeePercentageOfPool FeeType = 0
	FeeConstant         FeeType = 1
)

func (f FeeType) String() string {
	if f == FeeConstant {
		return "constant"
	}
	return "percentage_of_pool"
}

// TournamentAccount is the decoded escrow account record.
// ProgramBalanceLamports is not part of the record body; it is filled from a
// separate balance query by the caller.
type TournamentAccount struct {
	Authority              solana.PublicKey `json:"authority"`
	State                  TournamentState  `json:"state"`
	FeeType                FeeType          `json:"fee_type"`
	EntryFeeLamports       uint64           `json:"entry_fee_lamports"`
	FeeMultiplierPctX10    uint8            `json:"fee_multiplier_pct_x10"`
	WinnerPayoutPct        uint8            `json:"winner_payout_pct"`
	RoyaltyPayoutPct       uint8            `json:"royalty_payout_pct"`
	TournamentID           uint64           `json:"tournament_id"`
	ProgramBalanceLamports uint64           `json:"program_balance_lamports"`
}

// accountLayout is the exact borsh layout of the record, discriminator included.
type accountLayout struct {
	Discriminator       [8]byte
	Authority           solana.PublicKey
	State               uint8
	FeeType             uint8
	EntryFee            uint64
	FeeMultiplierPctX10 uint8
	WinnerPayoutPct     uint8
	RoyaltyPayoutPct    uint8
	TournamentID        uint64
}

// DecodeTournamentAccount parses the fixed-layout account record. Trailing
// bytes past the header are ignored.
func DecodeTournamentAccount(data []byte) (*TournamentAccount, error) {
	if len(data) < AccountHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTooShort, len(data), AccountHeaderSize)
	}
	var raw accountLayout
	if err := bin.NewBorshDecoder(data[:AccountHeaderSize]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode tournament account: %w", err)
	}
	return &TournamentAccount{
		Authority:           raw.Authority,
		State:               TournamentState(raw.State),
		FeeType:             FeeType(raw.FeeType),
		EntryFeeLamports:    raw.EntryFee,
		FeeMultiplierPctX10: raw.FeeMultiplierPctX10,
		WinnerPayoutPct:     raw.WinnerPayoutPct,
		RoyaltyPayoutPct:    raw.RoyaltyPayoutPct,
		TournamentID:        raw.TournamentID,
	}, nil
}

// EncodeTournamentAccount produces the on-chain byte layout for acc. Only
// fixtures use it; the program owns these bytes in production.
func EncodeTournamentAccount(acc *TournamentAccount) ([]byte, error) {
	raw := accountLayout{
		Discriminator:       AccountDiscriminator("Tournament"),
		Authority:           acc.Authority,
		State:               uint8(acc.State),
		FeeType:             uint8(acc.FeeType),
		EntryFee:            acc.EntryFeeLamports,
		FeeMultiplierPctX10: acc.FeeMultiplierPctX10,
		WinnerPayoutPct:     acc.WinnerPayoutPct,
		RoyaltyPayoutPct:    acc.RoyaltyPayoutPct,
		TournamentID:        acc.TournamentID,
	}
	out, err := bin.MarshalBorsh(&raw)
	if err != nil {
		return nil, fmt.Errorf("encode tournament account: %w", err)
	}
	return out, nil
}

// EntryFeeSOL returns the entry fee in SOL.
func (a *TournamentAccount) EntryFeeSOL() float64 {
	return float64(a.EntryFeeLamports) / LamportsPerSOL
}
