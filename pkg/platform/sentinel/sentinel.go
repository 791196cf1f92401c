package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrAlreadyUsed: an idempotent resource was already created or consumed
// - ErrInvalidState: a conditional update matched no row in the expected state
// - ErrLimitReached: a bounded counter is already at its ceiling
// - ErrUnavailable: serialization failure, deadlock or lost connection; safe to retry
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrLimitReached = errors.New("limit reached")
	ErrUnavailable  = errors.New("unavailable")
)
