package services

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal marks conditions that abort startup or a settlement attempt
	// outright: unreadable signing key, malformed program id.
	ErrFatal = errors.New("fatal")

	// ErrAuthorizationMismatch is matched by AuthorizationMismatchError.
	ErrAuthorizationMismatch = errors.New("sender does not match payment record")

	// ErrConcludeFailed means the conclude instruction did not confirm. No
	// payouts were attempted and the tournament can be retried.
	ErrConcludeFailed = errors.New("conclude tournament failed, pending retry")

	ErrTournamentNotFound   = errors.New("tournament not found")
	ErrTournamentNotActive  = errors.New("tournament is not active")
	ErrFundingNotVerified   = errors.New("tournament funding transaction not verified")
	ErrSettlementInProgress = errors.New("tournament settlement already in progress")
	ErrInvalidSplit         = errors.New("payout percentages exceed 100")
)

// AuthorizationMismatchError is raised when the wallet submitting a payment
// proof is not the wallet the template was issued to.
type AuthorizationMismatchError struct {
	TransactionID string
	Expected      string
	Actual        string
}

func (e *AuthorizationMismatchError) Error() string {
	return fmt.Sprintf("authorization mismatch on %s: record wallet %s, sender %s", e.TransactionID, e.Expected, e.Actual)
}

func (e *AuthorizationMismatchError) Is(target error) bool {
	return target == ErrAuthorizationMismatch
}
