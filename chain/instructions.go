// chain/instructions.go
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction names understood by the deployed tournament program.
const (
	InstructionInitialize         = "initialize"
	InstructionStartTournament    = "start_tournament"
	InstructionSubmitSolution     = "submit_solution"
	InstructionConcludeTournament = "conclude_tournament"
)

// Account slots inside the submit_solution instruction.
const (
	SubmitSlotTournament = 0
	SubmitSlotPayer      = 1
)

const tournamentSeed = "tournament"

// InstructionDiscriminator returns the 8-byte tag the program expects in front
// of instruction data for name.
func InstructionDiscriminator(name string) [8]byte {
	return hashTag("global:" + name)
}

// AccountDiscriminator returns the 8-byte tag prefixed to account records of
// the given type name.
func AccountDiscriminator(name string) [8]byte {
	return hashTag("account:" + name)
}

func hashTag(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// EncodeInstructionData writes the discriminator for name followed by args in
// declared order, little-endian with no padding. args may be nil.
func EncodeInstructionData(name string, args interface{}) ([]byte, error) {
	disc := InstructionDiscriminator(name)
	out := append([]byte{}, disc[:]...)
	if args == nil {
		return out, nil
	}
	body, err := bin.MarshalBorsh(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", name, err)
	}
	return append(out, body...), nil
}

// StartTournamentArgs is the argument block of start_tournament.
type StartTournamentArgs struct {
	TournamentID        uint64
	InitialPool         uint64
	FeeMultiplierPctX10 uint8
	WinnerPayoutPct     uint8
	RoyaltyPayoutPct    uint8
	FeeType             uint8
}

// DeriveTournamentAddress computes the escrow PDA for (authority, tournamentID).
func DeriveTournamentAddress(programID, authority solana.PublicKey, tournamentID uint64) (solana.PublicKey, uint8, error) {
	var idBytes [8]byte
	binary.LittleEndian.PutUint64(idBytes[:], tournamentID)
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(tournamentSeed), authority.Bytes(), idBytes[:]},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive tournament address: %w", err)
	}
	return addr, bump, nil
}

// NewSubmitSolutionInstruction builds the payment instruction a participant signs.
func NewSubmitSolutionInstruction(programID, tournament, payer solana.PublicKey) (solana.Instruction, error) {
	data, err := EncodeInstructionData(InstructionSubmitSolution, nil)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(tournament, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewConcludeTournamentInstruction builds the instruction that marks the
// escrow concluded and releases the pool to the signing service key.
func NewConcludeTournamentInstruction(programID, tournament, service solana.PublicKey) (solana.Instruction, error) {
	data, err := EncodeInstructionData(InstructionConcludeTournament, nil)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(tournament, true, false),
		solana.NewAccountMeta(service, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewStartTournamentInstruction builds start_tournament for a creator-signed flow.
func NewStartTournamentInstruction(programID, tournament, authority solana.PublicKey, args StartTournamentArgs) (solana.Instruction, error) {
	data, err := EncodeInstructionData(InstructionStartTournament, &args)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(tournament, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
