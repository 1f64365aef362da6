// services/deployment_config.go
package services

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"tournament-settlement-system/chain"

	"github.com/gagliardetto/solana-go"
)

// DeploymentConfig carries per-deployment settlement settings. It is built
// once at startup and handed to the orchestrator by reference on every call.
type DeploymentConfig struct {
	ProgramID solana.PublicKey

	// Platform cut, credited to the creator bucket.
	OwnerFeePct int
	// Creator share, called developer fee upstream.
	DeveloperFeePct int

	PayoutBatchSize     int
	PayoutBatchDelay    time.Duration
	ConfirmationTimeout time.Duration
	ConfirmationPoll    time.Duration

	// Lamports left in the escrow account for rent exemption, excluded from the pool.
	EscrowReserveLamports uint64
}

// DefaultDeploymentConfig returns the values used when the environment is silent.
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		OwnerFeePct:         10,
		DeveloperFeePct:     30,
		PayoutBatchSize:     DefaultPayoutBatchSize,
		PayoutBatchDelay:    DefaultPayoutBatchDelay,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		ConfirmationPoll:    500 * time.Millisecond,
	}
}

// LoadDeploymentConfig reads the deployment settings from the environment.
// A malformed program id is fatal.
func LoadDeploymentConfig() (*DeploymentConfig, error) {
	cfg := DefaultDeploymentConfig()

	programID := strings.TrimSpace(os.Getenv("PROGRAM_ID"))
	if programID == "" {
		return nil, fmt.Errorf("%w: PROGRAM_ID environment variable not set", ErrFatal)
	}
	pk, err := chain.ParsePublicKey(programID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	cfg.ProgramID = pk

	cfg.OwnerFeePct = envInt("OWNER_FEE_PCT", cfg.OwnerFeePct)
	cfg.DeveloperFeePct = envInt("DEVELOPER_FEE_PCT", cfg.DeveloperFeePct)
	cfg.PayoutBatchSize = envInt("PAYOUT_BATCH_SIZE", cfg.PayoutBatchSize)
	cfg.PayoutBatchDelay = envDuration("PAYOUT_BATCH_DELAY", cfg.PayoutBatchDelay)
	cfg.ConfirmationTimeout = envDuration("CONFIRMATION_TIMEOUT", cfg.ConfirmationTimeout)
	cfg.EscrowReserveLamports = uint64(envInt("ESCROW_RESERVE_LAMPORTS", 0))

	if cfg.PayoutBatchSize <= 0 {
		log.Printf("⚠️ PAYOUT_BATCH_SIZE=%d is not usable, falling back to %d", cfg.PayoutBatchSize, DefaultPayoutBatchSize)
		cfg.PayoutBatchSize = DefaultPayoutBatchSize
	}
	if cfg.PayoutBatchDelay <= 0 {
		log.Printf("⚠️ PAYOUT_BATCH_DELAY must be positive, falling back to %s", DefaultPayoutBatchDelay)
		cfg.PayoutBatchDelay = DefaultPayoutBatchDelay
	}
	return &cfg, nil
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️ %s=%q is not an integer, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️ %s=%q is not a duration, using default %s", key, raw, fallback)
		return fallback
	}
	return v
}
