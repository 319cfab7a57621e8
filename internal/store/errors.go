package store

import "errors"

// Errors surfaced by backends. They stay internal to the save/load
// cycle — the adapter's public contract reports success booleans and
// empty collections — but backends and tests use them to distinguish
// recovery paths with errors.Is().
var (
	// ErrQuotaExceeded is returned when the serialized blob exceeds
	// the configured storage budget. Recovery is one compaction pass.
	ErrQuotaExceeded = errors.New("local storage quota exceeded")

	// ErrVerifyFailed is returned when a read-back of a just-written
	// blob does not match what was written.
	ErrVerifyFailed = errors.New("write verification failed")

	// ErrCorrupt is returned when a stored blob cannot be decoded.
	ErrCorrupt = errors.New("stored blob is corrupt")

	// ErrUnknownBackend is returned by Open for an unregistered kind.
	ErrUnknownBackend = errors.New("unknown storage backend")
)
