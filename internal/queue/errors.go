package queue

import "errors"

// Sentinel errors for queue store operations.
var (
	// ErrNotFound is returned when the referenced item id does not exist.
	ErrNotFound = errors.New("queue item not found")

	// ErrInvalidState is returned when the operation is not legal for the
	// item's current status. Claim racers losing to a concurrent claim
	// observe this error; it is a normal outcome, not a system failure.
	ErrInvalidState = errors.New("operation not valid for item state")

	// ErrQueueFull is returned when admission would exceed capacity.
	ErrQueueFull = errors.New("queue is at capacity")

	// ErrStaleClaim is returned by MarkSent/MarkFailed when the caller's
	// claim token has been invalidated by a cancellation. The item state is
	// left untouched.
	ErrStaleClaim = errors.New("claim token is stale")
)
