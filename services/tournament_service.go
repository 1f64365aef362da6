package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/models"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

// ReportArchiver stores a finished settlement report and returns its URL.
type ReportArchiver interface {
	ArchiveSettlement(ctx context.Context, tournamentName, settlementID string, body []byte) (string, error)
}

// TournamentService drives the off-chain lifecycle of escrow-backed
// tournaments: registration, activation and conclusion with settlement.
type TournamentService struct {
	DB       *gorm.DB
	Chain    chain.Client
	Payments *PaymentService
	Payouts  *PayoutExecutor
	Config   *DeploymentConfig
	Archiver ReportArchiver

	metrics *SettlementMetrics
	now     func() time.Time
}

func NewTournamentService(db *gorm.DB, client chain.Client, payments *PaymentService, payouts *PayoutExecutor, cfg *DeploymentConfig) *TournamentService {
	return &TournamentService{
		DB:       db,
		Chain:    client,
		Payments: payments,
		Payouts:  payouts,
		Config:   cfg,
		metrics:  Metrics(),
		now:      time.Now,
	}
}

// SettlementReport is the outcome of one ConcludeAndSettle call.
type SettlementReport struct {
	TournamentID      string          `json:"tournament_id"`
	TournamentAddress string          `json:"tournament_address"`
	AlreadyConcluded  bool            `json:"already_concluded"`
	NotYetExpired     bool            `json:"not_yet_expired,omitempty"`
	SettlementID      string          `json:"settlement_id,omitempty"`
	ConcludeSignature string          `json:"conclude_signature,omitempty"`
	Plan              *SettlementPlan `json:"plan,omitempty"`
	Payouts           *PayoutReport   `json:"payouts,omitempty"`
	Summary           string          `json:"summary"`
}

// RegisterTournamentRequest describes a tournament whose escrow was already
// started on-chain by its creator.
type RegisterTournamentRequest struct {
	Name                string    `json:"name"`
	Authority           string    `json:"authority"`
	OnChainID           uint64    `json:"on_chain_id"`
	StartTime           time.Time `json:"start_time"`
	ExpiresAt           time.Time `json:"expires_at"`
	FundingSignature    string    `json:"funding_signature"`
	InitialPoolLamports uint64    `json:"initial_pool_lamports"`
}

// RegisterTournament records an upcoming tournament. The escrow address is
// derived from the authority and on-chain id, and the on-chain split is
// checked against the deployment fees.
func (s *TournamentService) RegisterTournament(ctx context.Context, cfg *DeploymentConfig, req RegisterTournamentRequest) (*models.Tournament, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("name is required")
	}
	if !req.ExpiresAt.After(req.StartTime) {
		return nil, errors.New("expires_at must be after start_time")
	}
	authority, err := chain.ParsePublicKey(req.Authority)
	if err != nil {
		return nil, err
	}
	address, _, err := chain.DeriveTournamentAddress(cfg.ProgramID, authority, req.OnChainID)
	if err != nil {
		return nil, fmt.Errorf("derive tournament address: %w", err)
	}

	acc, err := s.Chain.GetTournamentAccount(ctx, address)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("fetch tournament account: %w", err)
	}
	if !acc.Authority.Equals(authority) || acc.TournamentID != req.OnChainID {
		return nil, fmt.Errorf("escrow %s does not belong to %s/%d", address, authority, req.OnChainID)
	}
	if int(acc.WinnerPayoutPct)+cfg.OwnerFeePct+cfg.DeveloperFeePct > 100 {
		return nil, fmt.Errorf("%w: winner %d%% + owner %d%% + developer %d%%",
			ErrInvalidSplit, acc.WinnerPayoutPct, cfg.OwnerFeePct, cfg.DeveloperFeePct)
	}

	t := &models.Tournament{
		ID:                  uuid.NewString(),
		Name:                strings.TrimSpace(req.Name),
		Address:             address.String(),
		Authority:           authority.String(),
		OnChainID:           req.OnChainID,
		Status:              models.TournamentStatusUpcoming,
		StartTime:           req.StartTime,
		ExpiresAt:           req.ExpiresAt,
		FundingSignature:    req.FundingSignature,
		InitialPoolLamports: req.InitialPoolLamports,
	}
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("save tournament: %w", err)
	}
	log.Printf("✅ [SETTLE] Registered tournament %s (%s) at %s", t.Name, t.ID, t.Address)
	return t, nil
}

// ActivateTournament moves an upcoming tournament to active once its funding
// transaction is verified against the initial pool.
func (s *TournamentService) ActivateTournament(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", tournamentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	if t.Status != models.TournamentStatusUpcoming {
		return &t, nil
	}
	if t.FundingSignature == "" {
		return nil, ErrFundingNotVerified
	}

	ok, err := s.Payments.VerifyInitialFunding(ctx, t.FundingSignature, t.Authority, t.Address, t.InitialPoolLamports)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrFundingNotVerified
	}

	now := s.now()
	res := s.DB.WithContext(ctx).Model(&models.Tournament{}).
		Where("id = ? AND status = ?", t.ID, models.TournamentStatusUpcoming).
		Updates(map[string]interface{}{
			"status":       models.TournamentStatusActive,
			"activated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		t.Status = models.TournamentStatusActive
		t.ActivatedAt = &now
		log.Printf("✅ [SETTLE] Tournament %s is now active", t.Name)
	}
	return &t, nil
}

// ConfirmedParticipants returns the distinct wallets with a confirmed payment
// on the tournament, in first-payment order.
func (s *TournamentService) ConfirmedParticipants(ctx context.Context, tournamentAddress string) ([]string, error) {
	var rows []models.PendingTransaction
	err := s.DB.WithContext(ctx).
		Select("user_wallet_address").
		Where("tournament_address = ? AND status = ?", tournamentAddress, models.PendingStatusConfirmed).
		Order("confirmed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	var out []string
	for _, r := range rows {
		if !seen[r.UserWalletAddress] {
			seen[r.UserWalletAddress] = true
			out = append(out, r.UserWalletAddress)
		}
	}
	return out, nil
}

// ConcludeAndSettle runs at most one conclusion of the tournament at
// tournamentAddress. A tournament that is already concluded yields a report
// with AlreadyConcluded set and no writes. A failed conclude instruction
// leaves the tournament in settlement_failed and returns ErrConcludeFailed.
func (s *TournamentService) ConcludeAndSettle(
	ctx context.Context,
	cfg *DeploymentConfig,
	tournamentAddress string,
	winnerAddress *string,
	participantAddresses []string,
) (*SettlementReport, error) {
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "address = ?", tournamentAddress).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	report := &SettlementReport{TournamentID: t.ID, TournamentAddress: t.Address}

	switch t.Status {
	case models.TournamentStatusConcluded:
		report.AlreadyConcluded = true
		report.Summary = fmt.Sprintf("Tournament %s is already concluded.", t.Name)
		return report, nil
	case models.TournamentStatusConcluding:
		return nil, ErrSettlementInProgress
	case models.TournamentStatusActive, models.TournamentStatusSettlementFailed:
	default:
		return nil, ErrTournamentNotActive
	}

	winner := normalizeWinner(winnerAddress)
	if winner == nil && !t.IsExpired(s.now()) {
		report.NotYetExpired = true
		report.Summary = fmt.Sprintf("Tournament %s has no winner and expires at %s.", t.Name, t.ExpiresAt.Format(time.RFC3339))
		return report, nil
	}

	escrow, err := chain.ParsePublicKey(t.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: stored escrow address: %v", ErrFatal, err)
	}
	acc, err := s.Chain.GetTournamentAccount(ctx, escrow)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("fetch tournament account: %w", err)
	}
	onChainConcluded := acc.State.IsConcluded()
	if onChainConcluded && t.Status == models.TournamentStatusActive {
		log.Printf("⚠️ [SETTLE] %s is concluded on-chain but active off-chain, refusing to settle twice", t.Address)
		report.AlreadyConcluded = true
		report.Summary = fmt.Sprintf("Tournament %s is already concluded on-chain.", t.Name)
		return report, nil
	}

	// At most one caller wins this transition.
	res := s.DB.WithContext(ctx).Model(&models.Tournament{}).
		Where("id = ? AND status IN ?", t.ID, []string{models.TournamentStatusActive, models.TournamentStatusSettlementFailed}).
		Update("status", models.TournamentStatusConcluding)
	if res.Error != nil {
		return nil, fmt.Errorf("claim tournament %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrSettlementInProgress
	}

	// Once claimed, bookkeeping must land even if ctx is cancelled: transfers
	// already broadcast cannot be taken back.
	book := context.WithoutCancel(ctx)

	record := &models.SettlementRecord{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		State:        models.SettlementStatePending,
	}
	if err := s.DB.WithContext(book).Create(record).Error; err != nil {
		s.releaseClaim(book, &t)
		return nil, fmt.Errorf("create settlement record: %w", err)
	}
	report.SettlementID = record.ID

	balance, err := s.poolBalance(ctx, cfg, &t, escrow, onChainConcluded)
	if err != nil {
		s.failSettlement(book, &t, record, models.SettlementStatePending, err)
		return report, err
	}
	record.BalanceLamports = balance

	if onChainConcluded {
		log.Printf("ℹ️ [SETTLE] %s already concluded on-chain by an earlier attempt, skipping conclude", t.Address)
	} else {
		s.advance(book, record, models.SettlementStateConcludeSubmitted, map[string]interface{}{"balance_lamports": balance})
		sig, err := s.Payouts.Conclude(ctx, escrow)
		if sig != "" {
			record.ConcludeSignature = sig
			report.ConcludeSignature = sig
		}
		if err != nil {
			s.failSettlement(book, &t, record, models.SettlementStateConcludeFailed, err)
			report.Summary = fmt.Sprintf("Conclusion of %s failed and is pending retry: %v", t.Name, err)
			return report, err
		}
	}
	s.advance(book, record, models.SettlementStateConcludeConfirmed, map[string]interface{}{
		"balance_lamports":   balance,
		"conclude_signature": record.ConcludeSignature,
	})

	plan := ComputeSettlement(SettlementInput{
		ProgramBalanceLamports: balance,
		WinnerPayoutPct:        int(acc.WinnerPayoutPct),
		CreatorSharePct:        cfg.DeveloperFeePct,
		OwnerFeePct:            cfg.OwnerFeePct,
		CreatorAddress:         t.Authority,
		WinnerAddress:          winner,
		ParticipantAddresses:   eligibleParticipants(participantAddresses, winner),
	})
	report.Plan = plan
	if plan.NoWinnerFallback {
		log.Printf("ℹ️ [SETTLE] %s has no winner, winner share folded into creator", t.Name)
	}
	if plan.NoParticipantsFallback {
		log.Printf("ℹ️ [SETTLE] %s has no participants, airdrop share folded into creator", t.Name)
	}

	s.advance(book, record, models.SettlementStatePayoutsInFlight, map[string]interface{}{
		"winner_pct":               plan.WinnerPct,
		"creator_pct":              plan.CreatorPct,
		"owner_fee_pct":            plan.OwnerFeePct,
		"airdrop_pct":              plan.AirdropPct,
		"no_winner_fallback":       plan.NoWinnerFallback,
		"no_participants_fallback": plan.NoParticipantsFallback,
		"dust_lamports":            plan.DustLamports,
	})

	payouts := s.Payouts.Disburse(ctx, plan)
	report.Payouts = payouts
	report.Summary = buildSummary(&t, report)

	s.persistTransfers(book, record, payouts)
	s.advance(book, record, models.SettlementStatePayoutsReported, map[string]interface{}{"summary": report.Summary})

	now := s.now()
	updates := map[string]interface{}{
		"status":       models.TournamentStatusConcluded,
		"concluded_at": now,
	}
	if winner != nil {
		updates["winner_address"] = *winner
	}
	if err := s.DB.WithContext(book).Model(&models.Tournament{}).Where("id = ?", t.ID).Updates(updates).Error; err != nil {
		log.Printf("❌ [SETTLE] Failed to mark %s concluded: %v", t.ID, err)
	}

	outcome := "settled"
	if len(payouts.Failed()) > 0 {
		outcome = "partial"
	}
	s.metrics.RecordRun(outcome)
	log.Printf("✅ [SETTLE] %s", strings.ReplaceAll(report.Summary, "\n", " | "))

	s.archive(book, &t, record, report)
	return report, nil
}

// poolBalance is the distributable escrow balance. After an earlier attempt
// already concluded on-chain the escrow is drained, so the balance recorded
// by the latest attempt that submitted a conclude is reused, zero included.
func (s *TournamentService) poolBalance(ctx context.Context, cfg *DeploymentConfig, t *models.Tournament, escrow solana.PublicKey, onChainConcluded bool) (uint64, error) {
	if onChainConcluded {
		var prior models.SettlementRecord
		err := s.DB.WithContext(ctx).
			Where("tournament_id = ? AND state IN ?", t.ID, []string{
				models.SettlementStateConcludeSubmitted,
				models.SettlementStateConcludeFailed,
			}).
			Order("created_at DESC").
			First(&prior).Error
		if err != nil {
			return 0, fmt.Errorf("no recorded balance for concluded escrow %s: %w", t.Address, err)
		}
		return prior.BalanceLamports, nil
	}

	balance, err := s.Chain.GetBalance(ctx, escrow)
	if err != nil {
		return 0, fmt.Errorf("fetch escrow balance: %w", err)
	}
	if balance <= cfg.EscrowReserveLamports {
		return 0, nil
	}
	return balance - cfg.EscrowReserveLamports, nil
}

func (s *TournamentService) advance(ctx context.Context, record *models.SettlementRecord, state string, fields map[string]interface{}) {
	record.State = state
	updates := map[string]interface{}{"state": state}
	for k, v := range fields {
		updates[k] = v
	}
	if err := s.DB.WithContext(ctx).Model(&models.SettlementRecord{}).Where("id = ?", record.ID).Updates(updates).Error; err != nil {
		log.Printf("⚠️ [SETTLE] Failed to record state %s for settlement %s: %v", state, record.ID, err)
	}
}

func (s *TournamentService) failSettlement(ctx context.Context, t *models.Tournament, record *models.SettlementRecord, state string, cause error) {
	s.advance(ctx, record, state, map[string]interface{}{
		"error":              cause.Error(),
		"balance_lamports":   record.BalanceLamports,
		"conclude_signature": record.ConcludeSignature,
	})
	s.releaseClaim(ctx, t)
	s.metrics.RecordRun("failed")
	log.Printf("❌ [SETTLE] Settlement of %s failed, pending retry: %v", t.Name, cause)
}

func (s *TournamentService) releaseClaim(ctx context.Context, t *models.Tournament) {
	err := s.DB.WithContext(ctx).Model(&models.Tournament{}).
		Where("id = ? AND status = ?", t.ID, models.TournamentStatusConcluding).
		Update("status", models.TournamentStatusSettlementFailed).Error
	if err != nil {
		log.Printf("❌ [SETTLE] Failed to release claim on %s: %v", t.ID, err)
	}
}

func (s *TournamentService) persistTransfers(ctx context.Context, record *models.SettlementRecord, payouts *PayoutReport) {
	var rows []models.PayoutTransfer
	for _, b := range payouts.Batches {
		for _, r := range b.Recipients {
			row := models.PayoutTransfer{
				ID:           uuid.NewString(),
				SettlementID: record.ID,
				Recipient:    r.Address,
				Role:         string(r.Role),
				Lamports:     r.Lamports,
				Group:        string(b.Group),
				BatchIndex:   b.BatchIndex,
				Succeeded:    b.Succeeded,
				Reason:       string(b.Reason),
			}
			if b.Signature != nil {
				row.Signature = *b.Signature
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return
	}
	if err := s.DB.WithContext(ctx).Create(&rows).Error; err != nil {
		log.Printf("❌ [SETTLE] Failed to persist %d payout rows for %s: %v", len(rows), record.ID, err)
	}
}

func (s *TournamentService) archive(ctx context.Context, t *models.Tournament, record *models.SettlementRecord, report *SettlementReport) {
	if s.Archiver == nil {
		return
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("⚠️ [SETTLE] Could not encode report %s: %v", record.ID, err)
		return
	}
	url, err := s.Archiver.ArchiveSettlement(ctx, t.Name, record.ID, body)
	if err != nil {
		log.Printf("⚠️ [SETTLE] Archiving report %s failed: %v", record.ID, err)
		return
	}
	if err := s.DB.WithContext(ctx).Model(&models.SettlementRecord{}).Where("id = ?", record.ID).Update("archive_url", url).Error; err != nil {
		log.Printf("⚠️ [SETTLE] Failed to store archive url for %s: %v", record.ID, err)
	}
}

// LatestSettlement returns the most recent settlement attempt of a tournament.
func (s *TournamentService) LatestSettlement(ctx context.Context, tournamentID string) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := s.DB.WithContext(ctx).Preload("Transfers").
		Where("tournament_id = ?", tournamentID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func normalizeWinner(winner *string) *string {
	if winner == nil {
		return nil
	}
	w := strings.TrimSpace(*winner)
	if w == "" {
		return nil
	}
	return &w
}

// eligibleParticipants drops duplicates and the winner.
func eligibleParticipants(addresses []string, winner *string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] || (winner != nil && a == *winner) {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func buildSummary(t *models.Tournament, report *SettlementReport) string {
	p := message.NewPrinter(language.English)
	plan := report.Plan

	var b strings.Builder
	b.WriteString(p.Sprintf("Tournament %s settled %d lamports (%.4f SOL).\n",
		t.Name, plan.ProgramBalanceLamports, float64(plan.ProgramBalanceLamports)/chain.LamportsPerSOL))
	b.WriteString(p.Sprintf("Applied split: winner %d%%, creator %d%%, owner fee %d%%, airdrop %d%%.\n",
		plan.WinnerPct, plan.CreatorPct, plan.OwnerFeePct, plan.AirdropPct))
	if plan.NoWinnerFallback {
		b.WriteString("No winner: winner share paid to creator.\n")
	}
	if plan.NoParticipantsFallback {
		b.WriteString("No participants: airdrop share paid to creator.\n")
	}
	if plan.DustLamports > 0 {
		b.WriteString(p.Sprintf("Rounding dust of %d lamports paid to creator.\n", plan.DustLamports))
	}
	for _, batch := range report.Payouts.Batches {
		var total uint64
		for _, r := range batch.Recipients {
			total += r.Lamports
		}
		status := "ok"
		if !batch.Succeeded {
			status = "FAILED " + string(batch.Reason)
		}
		sig := "-"
		if batch.Signature != nil {
			sig = *batch.Signature
		}
		b.WriteString(p.Sprintf("%s batch %d: %d recipient(s), %d lamports, %s, %s\n",
			batch.Group, batch.BatchIndex, len(batch.Recipients), total, status, sig))
	}
	return strings.TrimRight(b.String(), "\n")
}
