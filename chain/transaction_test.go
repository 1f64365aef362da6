package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferData(lamports uint64) solana.Base58 {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], systemTransferTag)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return data
}

func executedPayment(payer, tournament, program solana.PublicKey, inner ...solana.CompiledInstruction) *ExecutedTransaction {
	// keys: 0 payer, 1 tournament, 2 system program, 3 tournament program
	return &ExecutedTransaction{
		AccountKeys: []solana.PublicKey{payer, tournament, solana.SystemProgramID, program},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: 3, Accounts: []uint16{1, 0, 2}, Data: solana.Base58{1, 2, 3, 4, 5, 6, 7, 8}},
		},
		InnerInstructions: []InnerInstructionSet{{Index: 0, Instructions: inner}},
	}
}

func TestFirstInnerTransfer(t *testing.T) {
	payer, tournament, program := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	tx := executedPayment(payer, tournament, program,
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(42_000_000)},
	)

	tr, ok := tx.FirstInnerTransfer()
	require.True(t, ok)
	assert.True(t, tr.Source.Equals(payer))
	assert.True(t, tr.Destination.Equals(tournament))
	assert.Equal(t, uint64(42_000_000), tr.Lamports)
	assert.InDelta(t, 0.042, tr.SOL(), 1e-12)
}

func TestFirstInnerTransferMissing(t *testing.T) {
	payer, tournament, program := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	_, ok := executedPayment(payer, tournament, program).FirstInnerTransfer()
	assert.False(t, ok)

	// inner instruction that is not a system program call
	notSystem := executedPayment(payer, tournament, program,
		solana.CompiledInstruction{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: transferData(1)},
	)
	_, ok = notSystem.FirstInnerTransfer()
	assert.False(t, ok)

	// truncated data
	short := executedPayment(payer, tournament, program,
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: solana.Base58{2, 0, 0, 0}},
	)
	_, ok = short.FirstInnerTransfer()
	assert.False(t, ok)

	// account index past the key table
	outOfRange := executedPayment(payer, tournament, program,
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 9}, Data: transferData(1)},
	)
	_, ok = outOfRange.FirstInnerTransfer()
	assert.False(t, ok)
}

func TestSystemTransferTotalSumsOnlyMatchingTransfers(t *testing.T) {
	payer, tournament, program := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	tx := executedPayment(payer, tournament, program,
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(100)},
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(250)},
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{1, 0}, Data: transferData(999)},
		solana.CompiledInstruction{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: transferData(777)},
	)
	tx.Instructions = append(tx.Instructions,
		solana.CompiledInstruction{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(50)},
	)

	total, matched := tx.SystemTransferTotal(payer, tournament)
	assert.Equal(t, uint64(400), total)
	assert.Equal(t, 3, matched)
}

func TestTemplateRoundTrip(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	tournament := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()

	ix, err := NewSubmitSolutionInstruction(program, tournament, payer)
	require.NoError(t, err)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1, 2, 3}, solana.TransactionPayer(payer))
	require.NoError(t, err)

	blob, err := EncodeTemplate(tx)
	require.NoError(t, err)

	decoded, err := DecodeTemplate(blob)
	require.NoError(t, err)
	gotPayer, gotDest, err := TemplateParties(decoded)
	require.NoError(t, err)
	assert.True(t, gotPayer.Equals(payer))
	assert.True(t, gotDest.Equals(tournament))

	again, err := EncodeTemplate(decoded)
	require.NoError(t, err)
	assert.Equal(t, blob, again, "template must survive a byte-for-byte round trip")
}

func TestDecodeTemplateRejectsGarbage(t *testing.T) {
	_, err := DecodeTemplate("!!not-base64!!")
	require.ErrorIs(t, err, ErrMalformedTemplate)
}

type statusStub struct {
	Client
	statuses []*SignatureStatus
	calls    int
}

func (s *statusStub) GetSignatureStatus(context.Context, solana.Signature) (*SignatureStatus, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.statuses) {
		return nil, nil
	}
	return s.statuses[idx], nil
}

func TestWaitForConfirmation(t *testing.T) {
	ctx := context.Background()

	ok := &statusStub{statuses: []*SignatureStatus{nil, {Confirmed: true}}}
	require.NoError(t, WaitForConfirmation(ctx, ok, solana.Signature{}, time.Second, time.Millisecond))

	failed := &statusStub{statuses: []*SignatureStatus{{Failed: true}}}
	err := WaitForConfirmation(ctx, failed, solana.Signature{}, time.Second, time.Millisecond)
	require.ErrorIs(t, err, ErrTransactionFailed)

	never := &statusStub{}
	err = WaitForConfirmation(ctx, never, solana.Signature{}, 20*time.Millisecond, time.Millisecond)
	require.True(t, errors.Is(err, ErrConfirmationTimeout))
}
