package registrar

import (
	"fmt"
	"time"
)

// The pipeline translates every failure into one of these types before it
// crosses the package boundary; raw transport errors never escape. The API
// layer maps them onto HTTP statuses.

// ValidationError is a user-correctable input problem. No side effects
// occurred.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError means the name is already taken, locally or on-chain.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// RateLimitedError means the caller is inside the cooldown window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "Please wait before registering another agent"
}

// UnavailableError means an external dependency could not answer and the
// pipeline refused to guess. Retryable.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return "Registration is temporarily unavailable. Please try again later."
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// FundingError means the sponsor wallet cannot cover fee plus gas. This is
// operator-actionable, not user-actionable; the request slot is not
// consumed so the caller can retry once funded.
type FundingError struct {
	BalanceWei string
	NeededWei  string
}

func (e *FundingError) Error() string {
	return "Sponsor wallet needs funding. Please try again later."
}

// ChainError means submission or confirmation failed at the network level.
// TxHash is set when a transaction made it into the pending pool, so
// operators can reconcile manually. Never retried by the service.
type ChainError struct {
	TxHash string
	Cause  error
}

func (e *ChainError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("Registration failed after submission (tx %s)", e.TxHash)
	}
	return "Registration failed: " + e.Cause.Error()
}

func (e *ChainError) Unwrap() error { return e.Cause }
