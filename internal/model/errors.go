package model

import "errors"

// Error taxonomy. Every precondition failure aborts the whole operation with
// state unchanged and surfaces one of these sentinels (possibly wrapped with
// context). Nothing is retried internally; retry is the caller's decision.
var (
	// ErrUnauthorized: caller is not permitted to perform the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput: zero amount, zero address, or zero price.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited: minimum update interval has not elapsed.
	ErrRateLimited = errors.New("update interval not elapsed")

	// ErrDeviationExceeded: proposed rate moves beyond the deviation bound.
	ErrDeviationExceeded = errors.New("price deviation exceeded")

	// ErrInsufficientBalance: caller's ledger balance is short.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance: caller has not approved a large enough pull.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInsufficientReserve: vault reserve is short of the computed payout.
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrExternalCall: a downstream mint/burn/transfer/payout refused.
	ErrExternalCall = errors.New("external call failed")
)
