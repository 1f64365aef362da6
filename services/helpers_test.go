package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/models"

	"github.com/gagliardetto/solana-go"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

// fakeChain is an in-memory chain.Client. Every sent transaction confirms
// unless sendHook rejects it or its signature is in unconfirmed.
type fakeChain struct {
	mu sync.Mutex

	accounts map[solana.PublicKey]*chain.TournamentAccount
	balances map[solana.PublicKey]uint64
	txs      map[solana.Signature]*chain.ExecutedTransaction

	blockhashErr error
	// sendHook is called with the 1-based send attempt number.
	sendHook func(call int, tx *solana.Transaction) error
	// send attempts that land but never confirm
	timeoutCalls map[int]bool
	unconfirmed  map[solana.Signature]bool

	sendCalls int
	sent      []*solana.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts:     map[solana.PublicKey]*chain.TournamentAccount{},
		balances:     map[solana.PublicKey]uint64{},
		txs:          map[solana.Signature]*chain.ExecutedTransaction{},
		timeoutCalls: map[int]bool{},
		unconfirmed:  map[solana.Signature]bool{},
	}
}

func (f *fakeChain) GetTransaction(_ context.Context, sig solana.Signature) (*chain.ExecutedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[sig]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return tx, nil
}

func (f *fakeChain) GetTournamentAccount(_ context.Context, address solana.PublicKey) (*chain.TournamentAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[address]
	if !ok {
		return nil, chain.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeChain) GetBalance(_ context.Context, address solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}

func (f *fakeChain) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	if f.blockhashErr != nil {
		return solana.Hash{}, f.blockhashErr
	}
	return solana.Hash{9, 9, 9}, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendHook != nil {
		if err := f.sendHook(f.sendCalls, tx); err != nil {
			return solana.Signature{}, err
		}
	}
	f.sent = append(f.sent, tx)
	if f.timeoutCalls[f.sendCalls] {
		f.unconfirmed[tx.Signatures[0]] = true
	}
	return tx.Signatures[0], nil
}

func (f *fakeChain) GetSignatureStatus(_ context.Context, sig solana.Signature) (*chain.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unconfirmed[sig] {
		return nil, nil
	}
	for _, tx := range f.sent {
		if tx.Signatures[0] == sig {
			return &chain.SignatureStatus{Confirmed: true}, nil
		}
	}
	return nil, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestSigner(t *testing.T) *chain.Signer {
	t.Helper()
	signer, err := chain.NewSigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return signer
}

func newTestExecutor(t *testing.T, client chain.Client, signer *chain.Signer, programID solana.PublicKey, opts ...ExecutorOption) *PayoutExecutor {
	t.Helper()
	base := []ExecutorOption{
		WithSleep(func(context.Context, time.Duration) {}),
		WithConfirmation(time.Second, time.Millisecond),
		WithExecutorMetrics(nil),
	}
	return NewPayoutExecutor(client, signer, programID, append(base, opts...)...)
}

func transferData(lamports uint64) solana.Base58 {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], 2)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return data
}

// executedTransfer is a landed transaction whose only inner instruction is a
// system transfer from source to destination.
func executedTransfer(program, source, destination solana.PublicKey, lamports uint64) *chain.ExecutedTransaction {
	return &chain.ExecutedTransaction{
		AccountKeys: []solana.PublicKey{source, destination, solana.SystemProgramID, program},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: 3, Accounts: []uint16{1, 0, 2}, Data: solana.Base58{1}},
		},
		InnerInstructions: []chain.InnerInstructionSet{{
			Index: 0,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(lamports)},
			},
		}},
	}
}

func newSignature() solana.Signature {
	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig
}
