package services

import (
	"errors"
)

// Ledger error taxonomy. Every balance-mutating operation either commits
// fully or returns one of these (or a wrapped store error) with no partial
// effect.
var (
	// ErrInvalidAmount rejects amounts <= 0 before any state is touched.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrNotPending means the deposit already left PENDING. Under
	// concurrent approval exactly one caller wins; everyone else gets this.
	ErrNotPending = errors.New("transaction is not pending")

	// ErrNotOwned means the phone number does not belong to the vendor.
	ErrNotOwned = errors.New("phone number is not owned by this vendor")

	// ErrInsufficientBalance means the debit would drive the balance
	// negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStoreUnavailable wraps durable-store failures; the operation was
	// aborted with no partial effect.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)
