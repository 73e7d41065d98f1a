package game

import (
	"errors"
	"fmt"
)

// Error codes carried on outbound error frames and settlement records.
const (
	CodeValidation = "validation_error"
	CodeFairness   = "fairness_violation"
	CodeTransient  = "transient_error"
	CodeSolvency   = "solvency_error"
	CodeTimeout    = "timeout_error"
	CodeInternal   = "internal_error"
)

// ValidationError rejects malformed or out-of-range input with no
// state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FairnessViolation is fatal to a round: the commitment did not verify
// against the revealed inputs. Never retried, always logged for audit.
type FairnessViolation struct {
	RoundID string
	Reason  string
}

func (e *FairnessViolation) Error() string {
	return fmt.Sprintf("fairness violation on round %s: %s", e.RoundID, e.Reason)
}

// TransientError wraps infrastructure failures (durable writes, ledger
// fetches) that are safe to retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SolvencyError means the pool cannot cover a promised payout. The
// round is escalated, never silently reversed.
type SolvencyError struct {
	RoundID   string
	Need      int64
	Available int64
}

func (e *SolvencyError) Error() string {
	return fmt.Sprintf("insufficient pool liquidity for round %s: need %d, have %d",
		e.RoundID, e.Need, e.Available)
}

// TimeoutError expires an inactive round and releases reserved funds.
type TimeoutError struct {
	RoundID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("round %s timed out", e.RoundID)
}

// ErrorCode maps an error to its wire code for error{code, message}
// frames.
func ErrorCode(err error) string {
	var (
		validation *ValidationError
		fairness   *FairnessViolation
		transient  *TransientError
		solvency   *SolvencyError
		timeout    *TimeoutError
	)
	switch {
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &fairness):
		return CodeFairness
	case errors.As(err, &transient):
		return CodeTransient
	case errors.As(err, &solvency):
		return CodeSolvency
	case errors.As(err, &timeout):
		return CodeTimeout
	}
	return CodeInternal
}
