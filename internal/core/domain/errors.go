package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBudgetExceeded indicates the daily token budget cannot cover a
	// reservation. The job stays live and is retried after a cooldown.
	ErrBudgetExceeded = errors.New("daily token budget exceeded")

	// ErrRetryable classifies provider failures that should leave the job
	// on the queue for redelivery (429, 5xx, timeouts, network errors).
	ErrRetryable = errors.New("retryable provider error")

	// ErrFatal classifies provider failures that must not be retried
	// (malformed payload, non-retryable 4xx). The job is acknowledged and
	// recorded as permanently failed.
	ErrFatal = errors.New("fatal provider error")

	// ErrStaleAck indicates an acknowledgement for a delivery that has
	// already been swept and redelivered under a new handle.
	ErrStaleAck = errors.New("stale acknowledgement")
)

// IsRetryable reports whether err belongs to the transient failure class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// IsFatal reports whether err belongs to the permanent failure class.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsBudgetExceeded reports whether err is a budget deferral.
func IsBudgetExceeded(err error) bool {
	return errors.Is(err, ErrBudgetExceeded)
}
