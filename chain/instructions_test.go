package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionDiscriminators(t *testing.T) {
	names := []string{InstructionInitialize, InstructionStartTournament, InstructionSubmitSolution, InstructionConcludeTournament}
	seen := map[[8]byte]string{}
	for _, name := range names {
		disc := InstructionDiscriminator(name)
		sum := sha256.Sum256([]byte("global:" + name))
		assert.Equal(t, sum[:8], disc[:], name)
		prev, dup := seen[disc]
		require.False(t, dup, "%s collides with %s", name, prev)
		seen[disc] = name
	}
}

func TestEncodeInstructionDataLayout(t *testing.T) {
	args := StartTournamentArgs{
		TournamentID:        0x0102030405060708,
		InitialPool:         5 * LamportsPerSOL,
		FeeMultiplierPctX10: 12,
		WinnerPayoutPct:     70,
		RoyaltyPayoutPct:    3,
		FeeType:             uint8(FeeConstant),
	}
	data, err := EncodeInstructionData(InstructionStartTournament, &args)
	require.NoError(t, err)
	require.Len(t, data, 8+8+8+4)

	disc := InstructionDiscriminator(InstructionStartTournament)
	assert.Equal(t, disc[:], data[:8])
	assert.Equal(t, args.TournamentID, binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, args.InitialPool, binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, []byte{12, 70, 3, 1}, data[24:28])
}

func TestEncodeInstructionDataWithoutArgs(t *testing.T) {
	data, err := EncodeInstructionData(InstructionConcludeTournament, nil)
	require.NoError(t, err)
	disc := InstructionDiscriminator(InstructionConcludeTournament)
	assert.Equal(t, disc[:], data)
}

func TestDeriveTournamentAddressIsDeterministic(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()

	a, bumpA, err := DeriveTournamentAddress(program, authority, 7)
	require.NoError(t, err)
	b, bumpB, err := DeriveTournamentAddress(program, authority, 7)
	require.NoError(t, err)
	c, _, err := DeriveTournamentAddress(program, authority, 8)
	require.NoError(t, err)

	assert.True(t, a.Equals(b))
	assert.Equal(t, bumpA, bumpB)
	assert.False(t, a.Equals(c))
}

func TestSubmitSolutionInstructionAccounts(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	tournament := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()

	ix, err := NewSubmitSolutionInstruction(program, tournament, payer)
	require.NoError(t, err)
	assert.True(t, ix.ProgramID().Equals(program))

	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.True(t, accounts[SubmitSlotTournament].PublicKey.Equals(tournament))
	assert.True(t, accounts[SubmitSlotTournament].IsWritable)
	assert.True(t, accounts[SubmitSlotPayer].PublicKey.Equals(payer))
	assert.True(t, accounts[SubmitSlotPayer].IsSigner)
	assert.True(t, accounts[2].PublicKey.Equals(solana.SystemProgramID))
}

func TestStartTournamentInstructionAccounts(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	tournament, _, err := DeriveTournamentAddress(program, authority, 7)
	require.NoError(t, err)
	args := StartTournamentArgs{
		TournamentID:        7,
		InitialPool:         1_000_000_000,
		FeeMultiplierPctX10: 15,
		WinnerPayoutPct:     60,
		RoyaltyPayoutPct:    10,
		FeeType:             uint8(FeeConstant),
	}

	ix, err := NewStartTournamentInstruction(program, tournament, authority, args)
	require.NoError(t, err)
	assert.True(t, ix.ProgramID().Equals(program))

	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.True(t, accounts[0].PublicKey.Equals(tournament))
	assert.True(t, accounts[0].IsWritable)
	assert.False(t, accounts[0].IsSigner)
	assert.True(t, accounts[1].PublicKey.Equals(authority))
	assert.True(t, accounts[1].IsSigner)
	assert.True(t, accounts[1].IsWritable)
	assert.True(t, accounts[2].PublicKey.Equals(solana.SystemProgramID))

	want, err := EncodeInstructionData(InstructionStartTournament, &args)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, want, data)
}
