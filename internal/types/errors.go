package types

import "errors"

// Error taxonomy for the memory engine. Callers classify failures with
// errors.Is against these sentinels; wrapped chains preserve context.
var (
	// ErrInvalidInput covers missing/empty user_id, empty query, or a query
	// that cannot be coerced to a string. Reported, not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingTimeout means the external embedding call exceeded its
	// deadline. On the store path the memory stays pending (retryable via
	// backfill); on the retrieve path the call fails.
	ErrEmbeddingTimeout = errors.New("embedding timeout")

	// ErrEmbeddingFailure is a non-timeout external embedding failure.
	// On the store path the memory is marked failed.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrSupersessionConflict is a serialization/lock conflict during a
	// supersession transaction; retried internally.
	ErrSupersessionConflict = errors.New("supersession conflict")

	// ErrConstraintViolation means a duplicate current fact row was
	// attempted. Normally impossible; indicates a classifier/retry bug.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrCrossUserLeak means retrieval saw a row with the wrong user_id.
	// The row is filtered and the event telemetered as critical.
	ErrCrossUserLeak = errors.New("cross-user leak")

	// ErrInternal is anything else, propagated with context.
	ErrInternal = errors.New("internal error")
)
