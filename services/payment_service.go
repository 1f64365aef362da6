// services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/models"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// PaymentTolerance bounds the template-matched verification path.
	PaymentTolerance = 0.05
	// InitialVerificationTolerance bounds the coarse summed-transfer path used
	// for a tournament's first funding confirmation.
	InitialVerificationTolerance = 0.03
)

// PaymentService issues payment templates and verifies the signed results.
type PaymentService struct {
	DB        *gorm.DB
	Chain     chain.Client
	ProgramID solana.PublicKey

	metrics *SettlementMetrics
	now     func() time.Time
}

func NewPaymentService(db *gorm.DB, client chain.Client, programID solana.PublicKey) *PaymentService {
	return &PaymentService{
		DB:        db,
		Chain:     client,
		ProgramID: programID,
		metrics:   Metrics(),
		now:       time.Now,
	}
}

// PaymentTemplate is what a client receives to sign.
type PaymentTemplate struct {
	TransactionID       string `json:"transaction_id"`
	TournamentAddress   string `json:"tournament_address"`
	UnsignedTransaction string `json:"unsigned_transaction"`
	EntryFeeLamports    uint64 `json:"entry_fee_lamports"`
}

// CreatePaymentTemplate builds an unsigned submit_solution transaction for
// payerAddress and records it as pending.
func (s *PaymentService) CreatePaymentTemplate(ctx context.Context, tournamentAddress, payerAddress string) (*PaymentTemplate, error) {
	tournament, err := chain.ParsePublicKey(tournamentAddress)
	if err != nil {
		return nil, err
	}
	payer, err := chain.ParsePublicKey(payerAddress)
	if err != nil {
		return nil, err
	}

	acc, err := s.Chain.GetTournamentAccount(ctx, tournament)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("fetch tournament account: %w", err)
	}
	if acc.State != chain.StateActive {
		return nil, ErrTournamentNotActive
	}

	blockhash, err := s.Chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}
	ix, err := chain.NewSubmitSolutionInstruction(s.ProgramID, tournament, payer)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build payment transaction: %w", err)
	}
	blob, err := chain.EncodeTemplate(tx)
	if err != nil {
		return nil, err
	}

	record := &models.PendingTransaction{
		ID:                  uuid.NewString(),
		TournamentAddress:   tournament.String(),
		UserWalletAddress:   payer.String(),
		UnsignedTransaction: blob,
		EntryFeeAtCreation:  acc.EntryFeeLamports,
		Status:              models.PendingStatusPending,
		CreatedAt:           s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("save pending transaction: %w", err)
	}

	log.Printf("🧾 [VERIFY] Issued payment template %s for %s on %s (entry fee %d lamports)",
		record.ID, record.UserWalletAddress, record.TournamentAddress, acc.EntryFeeLamports)

	return &PaymentTemplate{
		TransactionID:       record.ID,
		TournamentAddress:   record.TournamentAddress,
		UnsignedTransaction: blob,
		EntryFeeLamports:    acc.EntryFeeLamports,
	}, nil
}

// VerifyPayment checks that signature is the executed form of the template
// recorded under transactionID and marks the record confirmed. It returns an
// AuthorizationMismatchError when senderAddress is not the record's wallet;
// every other rejection is a plain false.
func (s *PaymentService) VerifyPayment(ctx context.Context, signature, transactionID, senderAddress string) (bool, error) {
	var record models.PendingTransaction
	if err := s.DB.WithContext(ctx).First(&record, "id = ?", transactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("ℹ️ [VERIFY] Pending transaction %s not found", transactionID)
			s.metrics.RecordVerification("not_found")
			return false, nil
		}
		return false, fmt.Errorf("load pending transaction: %w", err)
	}
	// Sender identity is checked before anything else can reject the proof.
	if err := s.checkSender(&record, senderAddress); err != nil {
		return false, err
	}
	if record.Status != models.PendingStatusPending {
		log.Printf("ℹ️ [VERIFY] Pending transaction %s already %s", record.ID, record.Status)
		s.metrics.RecordVerification("replay")
		return false, nil
	}

	// Fee fields are read fresh for every verification.
	tournament, err := chain.ParsePublicKey(record.TournamentAddress)
	if err != nil {
		log.Printf("❌ [VERIFY] Pending transaction %s has unusable tournament address %q: %v", record.ID, record.TournamentAddress, err)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}
	acc, err := s.Chain.GetTournamentAccount(ctx, tournament)
	if err != nil {
		log.Printf("ℹ️ [VERIFY] Tournament %s unavailable: %v", record.TournamentAddress, err)
		s.metrics.RecordVerification("not_found")
		return false, nil
	}

	ok, err := s.VerifySignedPayment(ctx, signature, &record, acc.EntryFeeSOL(), acc.FeeMultiplierPctX10, acc.FeeType, senderAddress)
	if err != nil || !ok {
		return false, err
	}

	now := s.now()
	res := s.DB.WithContext(ctx).Model(&models.PendingTransaction{}).
		Where("id = ? AND status = ?", record.ID, models.PendingStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PendingStatusConfirmed,
			"signature":    signature,
			"confirmed_at": now,
		})
	if res.Error != nil {
		// The unique index on signature rejects a proof reused across records.
		log.Printf("❌ [VERIFY] Failed to confirm %s with %s: %v", record.ID, signature, res.Error)
		s.metrics.RecordVerification("replay")
		return false, nil
	}
	if res.RowsAffected == 0 {
		log.Printf("ℹ️ [VERIFY] Pending transaction %s was confirmed concurrently", record.ID)
		s.metrics.RecordVerification("replay")
		return false, nil
	}

	log.Printf("✅ [VERIFY] Payment %s confirmed by %s", record.ID, signature)
	s.metrics.RecordVerification("accepted")
	return true, nil
}

// VerifySignedPayment is the template-matched check: the executed inner
// transfer must move funds from the template's payer to its destination, for
// an amount within PaymentTolerance of the expected fee.
func (s *PaymentService) VerifySignedPayment(
	ctx context.Context,
	signature string,
	record *models.PendingTransaction,
	expectedEntryFee float64,
	feeMultiplierPctX10 uint8,
	feeType chain.FeeType,
	senderAddress string,
) (bool, error) {
	if err := s.checkSender(record, senderAddress); err != nil {
		return false, err
	}

	exec, ok := s.fetchExecuted(ctx, signature)
	if !ok {
		return false, nil
	}

	template, err := chain.DecodeTemplate(record.UnsignedTransaction)
	if err != nil {
		log.Printf("❌ [VERIFY] Stored template for %s does not parse: %v", record.ID, err)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}
	payer, destination, err := chain.TemplateParties(template)
	if err != nil {
		log.Printf("❌ [VERIFY] Stored template for %s has unexpected shape: %v", record.ID, err)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}

	transfer, found := exec.FirstInnerTransfer()
	if !found {
		log.Printf("ℹ️ [VERIFY] No inner transfer in %s", signature)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}
	if !transfer.Source.Equals(payer) || !transfer.Destination.Equals(destination) {
		log.Printf("⚠️ [VERIFY] Transfer parties mismatch on %s: expected %s → %s, got %s → %s",
			signature, payer, destination, transfer.Source, transfer.Destination)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}

	var expected float64
	received := transfer.SOL()
	switch feeType {
	case chain.FeeConstant:
		expected = expectedEntryFee
	case chain.FeePercentageOfPool:
		expected = expectedEntryFee - received*(float64(feeMultiplierPctX10)/1000)
	default:
		log.Printf("⚠️ [VERIFY] Unknown fee type %d on %s", feeType, record.TournamentAddress)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}

	if !WithinTolerance(received, expected, PaymentTolerance) {
		log.Printf("⚠️ [VERIFY] Amount mismatch on %s (%s): expected %.9f SOL ±%.0f%%, received %.9f SOL",
			signature, feeType, expected, PaymentTolerance*100, received)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}
	return true, nil
}

// VerifyInitialFunding is the coarse path: it sums every system transfer from
// sender to destination in the transaction and compares the total to a flat
// expected amount within InitialVerificationTolerance.
func (s *PaymentService) VerifyInitialFunding(ctx context.Context, signature, senderAddress, destinationAddress string, expectedLamports uint64) (bool, error) {
	sender, err := chain.ParsePublicKey(senderAddress)
	if err != nil {
		return false, nil
	}
	destination, err := chain.ParsePublicKey(destinationAddress)
	if err != nil {
		return false, nil
	}

	exec, ok := s.fetchExecuted(ctx, signature)
	if !ok {
		return false, nil
	}
	total, matched := exec.SystemTransferTotal(sender, destination)
	if matched == 0 {
		log.Printf("ℹ️ [VERIFY] No funding transfer %s → %s in %s", sender, destination, signature)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}

	received := float64(total) / chain.LamportsPerSOL
	expected := float64(expectedLamports) / chain.LamportsPerSOL
	if !WithinTolerance(received, expected, InitialVerificationTolerance) {
		log.Printf("⚠️ [VERIFY] Funding amount mismatch on %s: expected %.9f SOL ±%.0f%%, received %.9f SOL over %d transfer(s)",
			signature, expected, InitialVerificationTolerance*100, received, matched)
		s.metrics.RecordVerification("mismatch")
		return false, nil
	}
	s.metrics.RecordVerification("accepted")
	return true, nil
}

func (s *PaymentService) checkSender(record *models.PendingTransaction, senderAddress string) error {
	if record.UserWalletAddress == senderAddress {
		return nil
	}
	log.Printf("🚫 [VERIFY] Sender %s presented proof for %s issued to %s", senderAddress, record.ID, record.UserWalletAddress)
	s.metrics.RecordVerification("authorization_mismatch")
	return &AuthorizationMismatchError{
		TransactionID: record.ID,
		Expected:      record.UserWalletAddress,
		Actual:        senderAddress,
	}
}

func (s *PaymentService) fetchExecuted(ctx context.Context, signature string) (*chain.ExecutedTransaction, bool) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		log.Printf("ℹ️ [VERIFY] Malformed signature %q: %v", signature, err)
		s.metrics.RecordVerification("not_found")
		return nil, false
	}
	exec, err := s.Chain.GetTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			log.Printf("ℹ️ [VERIFY] Transaction %s not found", signature)
			s.metrics.RecordVerification("not_found")
		} else {
			log.Printf("❌ [VERIFY] Fetching %s failed: %v", signature, err)
			s.metrics.RecordVerification("rpc_error")
		}
		return nil, false
	}
	if exec.Failed {
		log.Printf("ℹ️ [VERIFY] Transaction %s executed with an error", signature)
		s.metrics.RecordVerification("failed_execution")
		return nil, false
	}
	return exec, true
}

// WithinTolerance reports |received-expected| <= expected*tolerance.
func WithinTolerance(received, expected, tolerance float64) bool {
	return math.Abs(received-expected) <= expected*tolerance
}
