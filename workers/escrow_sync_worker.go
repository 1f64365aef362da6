package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EscrowSyncWorker mirrors on-chain escrow accounts of live tournaments into
// tournament_mirror for display.
type EscrowSyncWorker struct {
	DB    *gorm.DB
	Chain chain.Client
	now   func() time.Time
}

func NewEscrowSyncWorker(db *gorm.DB, client chain.Client) *EscrowSyncWorker {
	return &EscrowSyncWorker{DB: db, Chain: client, now: time.Now}
}

// Start polls until ctx is cancelled.
func (w *EscrowSyncWorker) Start(ctx context.Context, pollInterval time.Duration) {
	log.Println("[MIRROR] Starting escrow polling...")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[MIRROR] Escrow polling stopped.")
			return
		case <-ticker.C:
			n, err := w.SyncOnce(ctx)
			if err != nil {
				log.Printf("❌ [MIRROR] Sync failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("✅ [MIRROR] Upserted %d escrow account(s) into tournament_mirror.", n)
			}
		}
	}
}

// SyncOnce refreshes every non-concluded tournament's mirror row and returns
// how many rows were written. Accounts that cannot be read are skipped.
func (w *EscrowSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	var tournaments []models.Tournament
	err := w.DB.WithContext(ctx).
		Where("status <> ?", models.TournamentStatusConcluded).
		Find(&tournaments).Error
	if err != nil {
		return 0, fmt.Errorf("load tournaments: %w", err)
	}

	var rows []models.TournamentMirror
	for _, t := range tournaments {
		row, err := w.snapshot(ctx, t.Address)
		if err != nil {
			if errors.Is(err, chain.ErrNotFound) {
				log.Printf("ℹ️ [MIRROR] Escrow %s not found on-chain", t.Address)
			} else {
				log.Printf("⚠️ [MIRROR] Escrow %s unreadable: %v", t.Address, err)
			}
			continue
		}
		rows = append(rows, *row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err = w.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"authority",
				"state",
				"fee_type",
				"entry_fee_lamports",
				"fee_multiplier_pct_x10",
				"winner_payout_pct",
				"royalty_payout_pct",
				"on_chain_id",
				"balance_lamports",
				"last_checked_at",
			}),
		},
	).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("upsert %d mirror row(s): %w", len(rows), err)
	}
	return len(rows), nil
}

func (w *EscrowSyncWorker) snapshot(ctx context.Context, address string) (*models.TournamentMirror, error) {
	pk, err := chain.ParsePublicKey(address)
	if err != nil {
		return nil, err
	}
	acc, err := w.Chain.GetTournamentAccount(ctx, pk)
	if err != nil {
		return nil, err
	}
	balance, err := w.Chain.GetBalance(ctx, pk)
	if err != nil {
		return nil, err
	}
	return &models.TournamentMirror{
		Address:             address,
		Authority:           acc.Authority.String(),
		State:               acc.State.String(),
		FeeType:             acc.FeeType.String(),
		EntryFeeLamports:    acc.EntryFeeLamports,
		FeeMultiplierPctX10: acc.FeeMultiplierPctX10,
		WinnerPayoutPct:     acc.WinnerPayoutPct,
		RoyaltyPayoutPct:    acc.RoyaltyPayoutPct,
		OnChainID:           acc.TournamentID,
		BalanceLamports:     balance,
		LastCheckedAt:       w.now().UTC(),
	}, nil
}

// GetMirrorByAddress returns the mirrored escrow row for address.
func GetMirrorByAddress(db *gorm.DB, address string) (models.TournamentMirror, bool, error) {
	var row models.TournamentMirror
	if err := db.Where("address = ?", address).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, false, nil
		}
		return row, false, err
	}
	return row, true, nil
}
