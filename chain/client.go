// chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrNotFound is returned when a transaction or account does not exist at the
// requested commitment.
var ErrNotFound = errors.New("chain: not found")

// ErrConfirmationTimeout is returned when a submitted transaction does not
// reach the required commitment within the confirmation window.
var ErrConfirmationTimeout = errors.New("chain: confirmation timeout")

// ErrTransactionFailed is returned when a transaction landed but its execution failed.
var ErrTransactionFailed = errors.New("chain: transaction execution failed")

// SignatureStatus is the confirmation state of a submitted signature.
type SignatureStatus struct {
	Slot      uint64
	Confirmed bool
	Finalized bool
	Failed    bool
}

// Client is the set of ledger operations the settlement core consumes.
// Implementations retry reads; writes are never retried.
type Client interface {
	GetTransaction(ctx context.Context, sig solana.Signature) (*ExecutedTransaction, error)
	GetTournamentAccount(ctx context.Context, address solana.PublicKey) (*TournamentAccount, error)
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// RPCClient implements Client against a JSON-RPC endpoint.
type RPCClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	maxRetries uint64
	onRetry    func(method string)
}

// RPCOption customises an RPCClient.
type RPCOption func(*RPCClient)

// WithMaxRetries bounds read retries.
func WithMaxRetries(n uint64) RPCOption {
	return func(c *RPCClient) { c.maxRetries = n }
}

// WithRetryHook is invoked once per retried read, labelled by RPC method.
func WithRetryHook(fn func(method string)) RPCOption {
	return func(c *RPCClient) { c.onRetry = fn }
}

// WithCommitment overrides the default finalized commitment.
func WithCommitment(commitment rpc.CommitmentType) RPCOption {
	return func(c *RPCClient) { c.commitment = commitment }
}

// NewRPCClient dials nothing; connections are made per request.
func NewRPCClient(endpoint string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		rpc:        rpc.New(endpoint),
		commitment: rpc.CommitmentFinalized,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RPCClient) retryRead(ctx context.Context, method string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Printf("⚠️ [RPC] %s failed, retrying in %s: %v", method, wait, err)
		if c.onRetry != nil {
			c.onRetry(method)
		}
	})
}

// GetTransaction fetches an executed transaction by signature.
func (c *RPCClient) GetTransaction(ctx context.Context, sig solana.Signature) (*ExecutedTransaction, error) {
	var out *rpc.GetTransactionResult
	err := c.retryRead(ctx, "getTransaction", func() error {
		res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Transaction == nil {
		return nil, ErrNotFound
	}
	parsed, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	exec := &ExecutedTransaction{
		Signature:    sig,
		Slot:         out.Slot,
		AccountKeys:  parsed.Message.AccountKeys,
		Instructions: parsed.Message.Instructions,
	}
	if out.Meta != nil {
		exec.Failed = out.Meta.Err != nil
		for _, set := range out.Meta.InnerInstructions {
			inner := InnerInstructionSet{Index: set.Index}
			for _, ix := range set.Instructions {
				inner.Instructions = append(inner.Instructions, solana.CompiledInstruction{
					ProgramIDIndex: ix.ProgramIDIndex,
					Accounts:       ix.Accounts,
					Data:           ix.Data,
				})
			}
			exec.InnerInstructions = append(exec.InnerInstructions, inner)
		}
	}
	return exec, nil
}

// GetTournamentAccount fetches and decodes a tournament escrow record. The
// lamport balance is not filled in.
func (c *RPCClient) GetTournamentAccount(ctx context.Context, address solana.PublicKey) (*TournamentAccount, error) {
	var data []byte
	err := c.retryRead(ctx, "getAccountInfo", func() error {
		res, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return backoff.Permanent(ErrNotFound)
		}
		data = res.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return DecodeTournamentAccount(data)
}

// GetBalance returns the lamport balance of address.
func (c *RPCClient) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.retryRead(ctx, "getBalance", func() error {
		res, err := c.rpc.GetBalance(ctx, address, c.commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	return balance, err
}

// GetLatestBlockhash returns a recent blockhash for transaction building.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.retryRead(ctx, "getLatestBlockhash", func() error {
		res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		hash = res.Value.Blockhash
		return nil
	})
	return hash, err
}

// SendTransaction broadcasts a signed transaction exactly once.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
}

// GetSignatureStatus reports the confirmation state of sig, or nil when the
// cluster has no record of it yet.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var status *SignatureStatus
	err := c.retryRead(ctx, "getSignatureStatuses", func() error {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		status = nil
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return nil
		}
		v := res.Value[0]
		status = &SignatureStatus{
			Slot:      v.Slot,
			Failed:    v.Err != nil,
			Confirmed: v.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || v.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
			Finalized: v.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
		}
		return nil
	})
	return status, err
}

// WaitForConfirmation polls sig until it is confirmed, fails, or timeout
// elapses. Abandoning the wait does not cancel the transaction.
func WaitForConfirmation(ctx context.Context, client Client, sig solana.Signature, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := client.GetSignatureStatus(ctx, sig)
		if err != nil && ctx.Err() == nil {
			log.Printf("⚠️ [RPC] status check for %s failed: %v", sig, err)
		}
		if status != nil {
			if status.Failed {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, sig)
			}
			if status.Confirmed {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, sig)
		case <-ticker.C:
		}
	}
}
