package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")

	// Expected buyer-facing outcomes, never logged as errors.
	ErrSoldOut     = errors.New("insufficient inventory")
	ErrHoldExpired = errors.New("hold expired")

	// Terminal-state conflicts. Idempotent retries of the same
	// transition are mapped back to success by the services; anything
	// else surfaces as one of these.
	ErrAlreadyTerminal    = errors.New("already terminal")
	ErrPaymentRefMismatch = errors.New("payment reference mismatch")
	ErrSessionNotActive   = errors.New("session not active")

	// ErrInventoryInvariant marks a fatal ledger breach (a commit or
	// release that would drive held negative). It indicates a bug in the
	// conditional-update plumbing, not buyer behavior.
	ErrInventoryInvariant = errors.New("inventory invariant violation")
)
