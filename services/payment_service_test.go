package services

import (
	"context"
	"errors"
	"testing"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/models"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	svc        *PaymentService
	chain      *fakeChain
	program    solana.PublicKey
	tournament solana.PublicKey
	payer      solana.PublicKey
}

func newPaymentFixture(t *testing.T, feeType chain.FeeType, entryFee uint64, multiplier uint8) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		chain:      newFakeChain(),
		program:    solana.NewWallet().PublicKey(),
		tournament: solana.NewWallet().PublicKey(),
		payer:      solana.NewWallet().PublicKey(),
	}
	f.chain.accounts[f.tournament] = &chain.TournamentAccount{
		Authority:           solana.NewWallet().PublicKey(),
		State:               chain.StateActive,
		FeeType:             feeType,
		EntryFeeLamports:    entryFee,
		FeeMultiplierPctX10: multiplier,
		WinnerPayoutPct:     60,
		TournamentID:        7,
	}
	f.svc = NewPaymentService(newTestDB(t), f.chain, f.program)
	f.svc.metrics = nil
	return f
}

// land records an executed payment of lamports from source to the tournament.
func (f *paymentFixture) land(source solana.PublicKey, lamports uint64) solana.Signature {
	sig := newSignature()
	f.chain.txs[sig] = executedTransfer(f.program, source, f.tournament, lamports)
	return sig
}

func (f *paymentFixture) template(t *testing.T) *PaymentTemplate {
	t.Helper()
	tpl, err := f.svc.CreatePaymentTemplate(context.Background(), f.tournament.String(), f.payer.String())
	require.NoError(t, err)
	return tpl
}

func TestCreatePaymentTemplatePersistsPendingRecord(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	tpl := f.template(t)

	var record models.PendingTransaction
	require.NoError(t, f.svc.DB.First(&record, "id = ?", tpl.TransactionID).Error)
	assert.Equal(t, models.PendingStatusPending, record.Status)
	assert.Equal(t, f.payer.String(), record.UserWalletAddress)
	assert.Equal(t, tpl.UnsignedTransaction, record.UnsignedTransaction)
	assert.Equal(t, uint64(100_000_000), record.EntryFeeAtCreation)

	tx, err := chain.DecodeTemplate(tpl.UnsignedTransaction)
	require.NoError(t, err)
	payer, dest, err := chain.TemplateParties(tx)
	require.NoError(t, err)
	assert.True(t, payer.Equals(f.payer))
	assert.True(t, dest.Equals(f.tournament))
}

func TestCreatePaymentTemplateRequiresActiveTournament(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 1, 0)
	f.chain.accounts[f.tournament].State = chain.StateConcluded

	_, err := f.svc.CreatePaymentTemplate(context.Background(), f.tournament.String(), f.payer.String())
	require.ErrorIs(t, err, ErrTournamentNotActive)

	_, err = f.svc.CreatePaymentTemplate(context.Background(), solana.NewWallet().PublicKey().String(), f.payer.String())
	require.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestVerifyPaymentConfirmsOnce(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	tpl := f.template(t)
	sig := f.land(f.payer, 102_000_000)

	ok, err := f.svc.VerifyPayment(context.Background(), sig.String(), tpl.TransactionID, f.payer.String())
	require.NoError(t, err)
	assert.True(t, ok)

	var record models.PendingTransaction
	require.NoError(t, f.svc.DB.First(&record, "id = ?", tpl.TransactionID).Error)
	assert.Equal(t, models.PendingStatusConfirmed, record.Status)
	require.NotNil(t, record.Signature)
	assert.Equal(t, sig.String(), *record.Signature)
	assert.NotNil(t, record.ConfirmedAt)

	ok, err = f.svc.VerifyPayment(context.Background(), sig.String(), tpl.TransactionID, f.payer.String())
	require.NoError(t, err)
	assert.False(t, ok, "a confirmed record is terminal")
}

func TestVerifyPaymentRejectsReusedSignature(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	first, second := f.template(t), f.template(t)
	sig := f.land(f.payer, 100_000_000)

	ok, err := f.svc.VerifyPayment(context.Background(), sig.String(), first.TransactionID, f.payer.String())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.VerifyPayment(context.Background(), sig.String(), second.TransactionID, f.payer.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPaymentAuthorizationMismatch(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	tpl := f.template(t)
	intruder := solana.NewWallet().PublicKey()
	sig := f.land(f.payer, 100_000_000)

	ok, err := f.svc.VerifyPayment(context.Background(), sig.String(), tpl.TransactionID, intruder.String())
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrAuthorizationMismatch)

	var mismatch *AuthorizationMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, f.payer.String(), mismatch.Expected)
	assert.Equal(t, intruder.String(), mismatch.Actual)
}

func TestVerifyPaymentAuthorizationMismatchIsNeverPlainFalse(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed record", func(t *testing.T) {
		f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
		tpl := f.template(t)
		sig := f.land(f.payer, 100_000_000)
		ok, err := f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, solana.NewWallet().PublicKey().String())
		assert.False(t, ok)
		require.ErrorIs(t, err, ErrAuthorizationMismatch)
	})

	t.Run("tournament account unavailable", func(t *testing.T) {
		f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
		tpl := f.template(t)
		delete(f.chain.accounts, f.tournament)

		ok, err := f.svc.VerifyPayment(ctx, newSignature().String(), tpl.TransactionID, solana.NewWallet().PublicKey().String())
		assert.False(t, ok)
		var mismatch *AuthorizationMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, tpl.TransactionID, mismatch.TransactionID)

		// the owner only gets a plain rejection
		ok, err = f.svc.VerifyPayment(ctx, newSignature().String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestVerifyPaymentRejectsUnusableTournamentAddress(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	record := models.PendingTransaction{
		ID:                  "broken",
		TournamentAddress:   "not-an-address",
		UserWalletAddress:   f.payer.String(),
		UnsignedTransaction: "x",
		Status:              models.PendingStatusPending,
	}
	require.NoError(t, f.svc.DB.Create(&record).Error)
	sig := f.land(f.payer, 100_000_000)

	ok, err := f.svc.VerifyPayment(context.Background(), sig.String(), record.ID, f.payer.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPaymentRejections(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	ctx := context.Background()

	t.Run("unknown record", func(t *testing.T) {
		ok, err := f.svc.VerifyPayment(ctx, newSignature().String(), "missing", f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("transaction not found", func(t *testing.T) {
		tpl := f.template(t)
		ok, err := f.svc.VerifyPayment(ctx, newSignature().String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failed execution", func(t *testing.T) {
		tpl := f.template(t)
		sig := f.land(f.payer, 100_000_000)
		f.chain.txs[sig].Failed = true
		ok, err := f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong source", func(t *testing.T) {
		tpl := f.template(t)
		sig := f.land(solana.NewWallet().PublicKey(), 100_000_000)
		ok, err := f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no inner transfer", func(t *testing.T) {
		tpl := f.template(t)
		sig := f.land(f.payer, 100_000_000)
		f.chain.txs[sig].InnerInstructions = nil
		ok, err := f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("amount outside tolerance", func(t *testing.T) {
		tpl := f.template(t)
		sig := f.land(f.payer, 106_000_000)
		ok, err := f.svc.VerifyPayment(ctx, sig.String(), tpl.TransactionID, f.payer.String())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestVerifySignedPaymentPercentageOfPoolTolerance(t *testing.T) {
	f := newPaymentFixture(t, chain.FeePercentageOfPool, 0, 0)
	ctx := context.Background()
	record := &models.PendingTransaction{ID: "tx", UserWalletAddress: f.payer.String()}
	tpl := f.template(t)
	record.UnsignedTransaction = tpl.UnsignedTransaction

	received := []uint64{10_000_000, 250_000_000, 1_000_000_000, 7_777_777_777}
	multipliers := []uint8{0, 5, 50, 120, 255}
	for _, lamports := range received {
		sig := f.land(f.payer, lamports)
		r := float64(lamports) / chain.LamportsPerSOL
		for _, m := range multipliers {
			share := r * float64(m) / 1000
			for _, q := range []float64{0.96, 1.0, 1.04} {
				// choose the entry fee so received/expected == q
				fee := r/q + share
				ok, err := f.svc.VerifySignedPayment(ctx, sig.String(), record, fee, m, chain.FeePercentageOfPool, f.payer.String())
				require.NoError(t, err)
				assert.True(t, ok, "lamports=%d mult=%d q=%.2f", lamports, m, q)
			}
			for _, q := range []float64{0.9, 1.1} {
				fee := r/q + share
				ok, err := f.svc.VerifySignedPayment(ctx, sig.String(), record, fee, m, chain.FeePercentageOfPool, f.payer.String())
				require.NoError(t, err)
				assert.False(t, ok, "lamports=%d mult=%d q=%.2f", lamports, m, q)
			}
		}
	}
}

func TestVerifySignedPaymentRejectsUnknownFeeType(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 100_000_000, 0)
	tpl := f.template(t)
	sig := f.land(f.payer, 100_000_000)
	record := &models.PendingTransaction{ID: tpl.TransactionID, UserWalletAddress: f.payer.String(), UnsignedTransaction: tpl.UnsignedTransaction}

	ok, err := f.svc.VerifySignedPayment(context.Background(), sig.String(), record, 0.1, 0, chain.FeeType(9), f.payer.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyInitialFundingSumsTransfers(t *testing.T) {
	f := newPaymentFixture(t, chain.FeeConstant, 0, 0)
	creator := solana.NewWallet().PublicKey()

	sig := f.land(creator, 500_000_000)
	exec := f.chain.txs[sig]
	exec.Instructions = append(exec.Instructions, solana.CompiledInstruction{
		ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(480_000_000),
	})

	ok, err := f.svc.VerifyInitialFunding(context.Background(), sig.String(), creator.String(), f.tournament.String(), 1_000_000_000)
	require.NoError(t, err)
	assert.True(t, ok, "0.98 SOL is within 3%% of 1 SOL")

	ok, err = f.svc.VerifyInitialFunding(context.Background(), sig.String(), creator.String(), f.tournament.String(), 1_050_000_000)
	require.NoError(t, err)
	assert.False(t, ok, "0.98 SOL is more than 3%% short of 1.05 SOL")

	ok, err = f.svc.VerifyInitialFunding(context.Background(), sig.String(), solana.NewWallet().PublicKey().String(), f.tournament.String(), 1_000_000_000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(1.049, 1, PaymentTolerance))
	assert.False(t, WithinTolerance(1.051, 1, PaymentTolerance))
	assert.True(t, WithinTolerance(0.971, 1, InitialVerificationTolerance))
	assert.False(t, WithinTolerance(0.969, 1, InitialVerificationTolerance))
	assert.False(t, WithinTolerance(0.1, -0.1, PaymentTolerance))
}
