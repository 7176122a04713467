package engine

import "errors"

// User-facing error classes. Insufficient balance and ledger inconsistency
// are surfaced from the ledger package (ledger.ErrInsufficientBalance,
// ledger.ErrInconsistency) and pass through unchanged.
var (
	// ErrInvalidOrder covers malformed input: non-positive price or
	// quantity, unknown pair or owner, or a paused market.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrOrderNotFound is returned for queries or cancels of unknown ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrForbidden is returned when a cancel is requested by a non-owner.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyTerminal is returned when cancelling a Filled or Cancelled
	// order. The cancel has no side effects in that case.
	ErrAlreadyTerminal = errors.New("order already terminal")
)
