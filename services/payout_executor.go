// services/payout_executor.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tournament-settlement-system/chain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

const (
	DefaultPayoutBatchSize     = 5
	DefaultPayoutBatchDelay    = 500 * time.Millisecond
	DefaultConfirmationTimeout = 60 * time.Second
)

// RecipientGroup is how payouts are grouped for reporting.
type RecipientGroup string

const (
	GroupWinner       RecipientGroup = "winner"
	GroupCreator      RecipientGroup = "creator"
	GroupParticipants RecipientGroup = "participants"
)

// FailureReason classifies a failed payout transaction.
type FailureReason string

const (
	ReasonSubmissionRejected   FailureReason = "SubmissionRejected"
	ReasonConfirmationTimeout  FailureReason = "ConfirmationTimeout"
	ReasonInvalidRecipient     FailureReason = "InvalidRecipient"
	ReasonBlockhashUnavailable FailureReason = "BlockhashUnavailable"
	ReasonExecutionFailed      FailureReason = "ExecutionFailed"
)

// BatchResult reports one payout transaction. Signature is set whenever the
// transaction was broadcast, including when its confirmation timed out.
type BatchResult struct {
	Group      RecipientGroup `json:"recipient_group"`
	BatchIndex int            `json:"batch_index"`
	Signature  *string        `json:"signature"`
	Succeeded  bool           `json:"succeeded"`
	Reason     FailureReason  `json:"reason,omitempty"`
	Recipients []Recipient    `json:"recipients"`
}

// PayoutReport lists every attempted payout transaction in submission order.
type PayoutReport struct {
	Batches []BatchResult `json:"batches"`
}

// Failed returns the batches that need operator attention.
func (r *PayoutReport) Failed() []BatchResult {
	var out []BatchResult
	for _, b := range r.Batches {
		if !b.Succeeded {
			out = append(out, b)
		}
	}
	return out
}

// PayoutExecutor signs and submits settlement transfers from the service key.
type PayoutExecutor struct {
	chain     chain.Client
	signer    *chain.Signer
	programID solana.PublicKey

	batchSize      int
	batchDelay     time.Duration
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	sleep          func(context.Context, time.Duration)
	metrics        *SettlementMetrics
}

// ExecutorOption customises a PayoutExecutor.
type ExecutorOption func(*PayoutExecutor)

// WithBatchSize overrides the participant batch size.
func WithBatchSize(n int) ExecutorOption {
	return func(e *PayoutExecutor) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchDelay overrides the pause between payout transactions.
func WithBatchDelay(d time.Duration) ExecutorOption {
	return func(e *PayoutExecutor) {
		if d > 0 {
			e.batchDelay = d
		}
	}
}

// WithConfirmation overrides the confirmation window and poll interval.
func WithConfirmation(timeout, poll time.Duration) ExecutorOption {
	return func(e *PayoutExecutor) {
		if timeout > 0 {
			e.confirmTimeout = timeout
		}
		if poll > 0 {
			e.confirmPoll = poll
		}
	}
}

// WithSleep replaces the pause between payout transactions, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration)) ExecutorOption {
	return func(e *PayoutExecutor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithExecutorMetrics sets the metrics sink; nil disables recording.
func WithExecutorMetrics(m *SettlementMetrics) ExecutorOption {
	return func(e *PayoutExecutor) { e.metrics = m }
}

// WithDeploymentConfig applies the batch and confirmation settings of cfg.
func WithDeploymentConfig(cfg *DeploymentConfig) ExecutorOption {
	return func(e *PayoutExecutor) {
		if cfg == nil {
			return
		}
		WithBatchSize(cfg.PayoutBatchSize)(e)
		WithBatchDelay(cfg.PayoutBatchDelay)(e)
		WithConfirmation(cfg.ConfirmationTimeout, cfg.ConfirmationPoll)(e)
	}
}

func NewPayoutExecutor(client chain.Client, signer *chain.Signer, programID solana.PublicKey, opts ...ExecutorOption) *PayoutExecutor {
	e := &PayoutExecutor{
		chain:          client,
		signer:         signer,
		programID:      programID,
		batchSize:      DefaultPayoutBatchSize,
		batchDelay:     DefaultPayoutBatchDelay,
		confirmTimeout: DefaultConfirmationTimeout,
		confirmPoll:    500 * time.Millisecond,
		sleep:          sleepContext,
		metrics:        Metrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ServiceAddress is the key that signs conclusions and payouts.
func (e *PayoutExecutor) ServiceAddress() solana.PublicKey {
	return e.signer.PublicKey()
}

// Conclude submits conclude_tournament for the escrow and waits for it to
// confirm. Any failure wraps ErrConcludeFailed.
func (e *PayoutExecutor) Conclude(ctx context.Context, tournament solana.PublicKey) (string, error) {
	ix, err := chain.NewConcludeTournamentInstruction(e.programID, tournament, e.signer.PublicKey())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConcludeFailed, err)
	}
	sig, reason, err := e.submit(ctx, []solana.Instruction{ix})
	if err != nil {
		log.Printf("❌ [PAYOUT] Conclude %s failed (%s): %v", tournament, reason, err)
		return sig, fmt.Errorf("%w: %s: %v", ErrConcludeFailed, reason, err)
	}
	log.Printf("✅ [PAYOUT] Conclude %s confirmed: %s", tournament, sig)
	return sig, nil
}

// Disburse pays every non-zero recipient of plan. Winner and creator each get
// their own transaction; participants are batched. A failed transaction is
// recorded and the remaining ones are still attempted.
func (e *PayoutExecutor) Disburse(ctx context.Context, plan *SettlementPlan) *PayoutReport {
	report := &PayoutReport{}

	var winners, creators, participants []Recipient
	for _, r := range plan.Recipients {
		if r.Lamports == 0 {
			continue
		}
		switch r.Role {
		case RoleWinner:
			winners = append(winners, r)
		case RoleCreator:
			creators = append(creators, r)
		case RoleParticipant:
			participants = append(participants, r)
		}
	}

	sent := 0
	pay := func(group RecipientGroup, index int, batch []Recipient) {
		if sent > 0 && ctx.Err() == nil {
			e.sleep(ctx, e.batchDelay)
		}
		sent++
		if err := ctx.Err(); err != nil {
			log.Printf("❌ [PAYOUT] %s batch %d (%d recipients) not broadcast: %v", group, index, len(batch), err)
			e.metrics.RecordBatch(string(group), false)
			report.Batches = append(report.Batches, BatchResult{
				Group: group, BatchIndex: index, Recipients: batch, Reason: ReasonSubmissionRejected,
			})
			return
		}
		report.Batches = append(report.Batches, e.payBatch(ctx, group, index, batch))
	}

	for i, r := range winners {
		pay(GroupWinner, i, []Recipient{r})
	}
	for i, r := range creators {
		pay(GroupCreator, i, []Recipient{r})
	}
	for i, start := 0, 0; start < len(participants); i, start = i+1, start+e.batchSize {
		end := start + e.batchSize
		if end > len(participants) {
			end = len(participants)
		}
		pay(GroupParticipants, i, participants[start:end])
	}

	if failed := report.Failed(); len(failed) > 0 {
		log.Printf("⚠️ [PAYOUT] %d of %d payout transactions failed and need manual remediation", len(failed), len(report.Batches))
	}
	return report
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (e *PayoutExecutor) payBatch(ctx context.Context, group RecipientGroup, index int, batch []Recipient) BatchResult {
	result := BatchResult{Group: group, BatchIndex: index, Recipients: batch}

	from := e.signer.PublicKey()
	ixs := make([]solana.Instruction, 0, len(batch))
	for _, r := range batch {
		to, err := chain.ParsePublicKey(r.Address)
		if err != nil {
			log.Printf("❌ [PAYOUT] %s batch %d: invalid recipient %q: %v", group, index, r.Address, err)
			result.Reason = ReasonInvalidRecipient
			e.metrics.RecordBatch(string(group), false)
			return result
		}
		ixs = append(ixs, system.NewTransferInstruction(r.Lamports, from, to).Build())
	}

	sig, reason, err := e.submit(ctx, ixs)
	if sig != "" {
		result.Signature = &sig
	}
	if err != nil {
		log.Printf("❌ [PAYOUT] %s batch %d (%d recipients) failed (%s): %v", group, index, len(batch), reason, err)
		result.Reason = reason
		e.metrics.RecordBatch(string(group), false)
		return result
	}

	log.Printf("✅ [PAYOUT] %s batch %d (%d recipients) confirmed: %s", group, index, len(batch), sig)
	result.Succeeded = true
	e.metrics.RecordBatch(string(group), true)
	return result
}

// submit builds, signs and broadcasts ixs once, then waits for confirmation.
// The broadcast is never retried.
func (e *PayoutExecutor) submit(ctx context.Context, ixs []solana.Instruction) (string, FailureReason, error) {
	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return "", ReasonBlockhashUnavailable, err
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(e.signer.PublicKey()))
	if err != nil {
		return "", ReasonSubmissionRejected, err
	}
	if err := e.signer.Sign(tx); err != nil {
		return "", ReasonSubmissionRejected, err
	}

	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil {
		return "", ReasonSubmissionRejected, err
	}
	signature := sig.String()

	if err := chain.WaitForConfirmation(ctx, e.chain, sig, e.confirmTimeout, e.confirmPoll); err != nil {
		if errors.Is(err, chain.ErrTransactionFailed) {
			return signature, ReasonExecutionFailed, err
		}
		return signature, ReasonConfirmationTimeout, err
	}
	return signature, "", nil
}
