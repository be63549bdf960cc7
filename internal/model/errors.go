package model

import "errors"

// Sentinels used for transport mapping.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// Domain error classes. NotAViewer and KeyDerivation surface directly to
// callers; the Unavailable classes are transient and retried internally
// before being surfaced.
var (
	// ErrKeyDerivation: viewer set empty or public key material malformed.
	ErrKeyDerivation = errors.New("key derivation failed")
	// ErrNotAViewer: no wrapped key exists for (story, viewer). This is the
	// sole access-control gate for friends-restricted content.
	ErrNotAViewer = errors.New("viewer has no key for story")
	// ErrDecryptionIntegrity: ciphertext tampered with or wrong key; the
	// codec fails closed and withholds content.
	ErrDecryptionIntegrity = errors.New("payload failed integrity check")
	// ErrLedgerUnavailable: transient engagement store failure; retry with
	// backoff.
	ErrLedgerUnavailable = errors.New("engagement ledger unavailable")
	// ErrStorageUnavailable: transient object-storage failure; retried, and
	// creation rolls back on exhaustion.
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrSchedulerDelivery: a deletion-trigger delivery attempt failed; the
	// task is retried up to its cap and then dead-lettered.
	ErrSchedulerDelivery = errors.New("scheduler delivery failed")
)
