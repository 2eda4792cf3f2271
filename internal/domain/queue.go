package domain

import "time"

// QueueStatus enumerates the lifecycle states of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueDeferred   QueueStatus = "deferred"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether the status is a terminal outcome.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueSent, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// QueueItem wraps one message with its delivery bookkeeping. Items are owned
// exclusively by the queue store: they are created on admission and mutated
// only through the store's transition operations.
//
// ClaimToken is a monotonic fencing token issued on each successful claim.
// Completion calls carry the token back; a cancellation invalidates the
// outstanding token so a stale worker cannot resurrect a cancelled item.
type QueueItem struct {
	ID          string      `json:"id"`
	Message     *Message    `json:"message"`
	Status      QueueStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   string      `json:"last_error,omitempty"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Priority    int         `json:"priority"`
	WorkerID    string      `json:"worker_id,omitempty"`
	ClaimToken  uint64      `json:"-"`
}

// Ready reports whether the item is eligible for processing at t: its status
// allows claiming, its scheduled time has arrived, and any retry hold has
// expired.
func (q *QueueItem) Ready(t time.Time) bool {
	if q.Status != QueuePending && q.Status != QueueDeferred {
		return false
	}
	if q.ScheduledAt.After(t) {
		return false
	}
	return q.NextRetryAt == nil || !q.NextRetryAt.After(t)
}

// CanRetry reports whether the item has attempt budget remaining.
func (q *QueueItem) CanRetry() bool {
	return q.Attempts < q.MaxAttempts
}
