// Package queue implements the in-memory queue store and its state machine:
// admission, eligibility selection, atomic claiming, retry scheduling and
// terminal transitions. All state is process-lifetime only; a durable store
// can be swapped in behind the same operations without changing callers.
package queue

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailroom/internal/domain"
)

// DefaultMaxSize is the admission capacity when none is configured.
const DefaultMaxSize = 100_000

// Store owns the collection of queue items. Every mutation goes through a
// transition operation under the store's lock; callers only ever see
// snapshot copies, never live items.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*domain.QueueItem
	policy   RetryPolicy
	maxSize  int
	tokenSeq uint64

	now func() time.Time
}

// NewStore creates a store with the given retry policy and capacity.
// A non-positive maxSize falls back to DefaultMaxSize.
func NewStore(policy RetryPolicy, maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{
		items:   make(map[string]*domain.QueueItem),
		policy:  policy,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Policy returns the store's retry policy.
func (s *Store) Policy() RetryPolicy { return s.policy }

// EnqueueOptions carries the optional admission parameters.
type EnqueueOptions struct {
	// Priority orders eligible items; higher sends sooner.
	Priority int
	// MaxAttempts overrides the policy's attempt ceiling when positive.
	MaxAttempts int
	// ScheduledAt defers the first attempt when set in the future.
	ScheduledAt time.Time
}

// Enqueue admits a message into the queue with status pending.
func (s *Store) Enqueue(msg *domain.Message, opts EnqueueOptions) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.maxSize {
		return domain.QueueItem{}, ErrQueueFull
	}

	now := s.now().UTC()
	scheduledAt := opts.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.policy.MaxAttempts
	}

	item := &domain.QueueItem{
		ID:          uuid.New().String(),
		Message:     msg,
		Status:      domain.QueuePending,
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		Priority:    opts.Priority,
	}
	s.items[item.ID] = item
	return *item, nil
}

// Schedule admits a message for delivery at a specific time.
func (s *Store) Schedule(msg *domain.Message, sendAt time.Time, opts EnqueueOptions) (domain.QueueItem, error) {
	opts.ScheduledAt = sendAt
	return s.Enqueue(msg, opts)
}

// Get returns a snapshot of the item with the given id.
func (s *Store) Get(id string) (domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.QueueItem{}, ErrNotFound
	}
	return snapshot(item), nil
}

// SelectEligible returns up to limit items ready for processing, ordered by
// priority descending, then scheduled time ascending, then id ascending.
// The call is read-only: claiming is a separate operation and concurrent
// callers may race on the returned ids.
func (s *Store) SelectEligible(limit int) []domain.QueueItem {
	s.mu.RLock()
	now := s.now()
	eligible := make([]domain.QueueItem, 0, limit)
	for _, item := range s.items {
		if item.Ready(now) {
			eligible = append(eligible, snapshot(item))
		}
	}
	s.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

// Claim atomically takes ownership of an item for processing. Exactly one
// of any set of concurrent claims on the same id succeeds; losers get
// ErrInvalidState. The returned snapshot carries the fencing token that
// MarkSent and MarkFailed require.
func (s *Store) Claim(id, workerID string) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.QueueItem{}, ErrNotFound
	}
	if item.Status != domain.QueuePending && item.Status != domain.QueueDeferred {
		return domain.QueueItem{}, ErrInvalidState
	}

	now := s.now().UTC()
	s.tokenSeq++
	item.Status = domain.QueueProcessing
	item.StartedAt = &now
	item.WorkerID = workerID
	item.Attempts++
	item.ClaimToken = s.tokenSeq
	return snapshot(item), nil
}

// MarkSent finalizes a claimed item as sent. The token must match the
// item's outstanding claim; a claim invalidated by Cancel gets
// ErrStaleClaim and the item is left untouched.
func (s *Store) MarkSent(id string, token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if token == 0 || item.ClaimToken != token {
		return ErrStaleClaim
	}

	now := s.now().UTC()
	item.Status = domain.QueueSent
	item.CompletedAt = &now
	item.WorkerID = ""
	item.ClaimToken = 0
	return nil
}

// MarkFailed records a failed attempt on a claimed item. Retryable errors
// with attempt budget remaining defer the item with backoff from the retry
// policy; anything else finalizes it as failed. Token fencing as MarkSent.
func (s *Store) MarkFailed(id string, token uint64, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if token == 0 || item.ClaimToken != token {
		return ErrStaleClaim
	}

	now := s.now().UTC()
	item.LastError = errText
	item.WorkerID = ""
	item.ClaimToken = 0

	if item.CanRetry() && s.policy.IsRetryable(errText) {
		retryAt := now.Add(s.policy.DelayFor(item.Attempts))
		item.Status = domain.QueueDeferred
		item.NextRetryAt = &retryAt
		return nil
	}

	item.Status = domain.QueueFailed
	item.CompletedAt = &now
	return nil
}

// Cancel terminates an item that has not been sent. Cancelling an item in
// processing invalidates the worker's outstanding claim: its later MarkSent
// or MarkFailed returns ErrStaleClaim instead of resurrecting the item.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status == domain.QueueSent {
		return ErrInvalidState
	}

	now := s.now().UTC()
	item.Status = domain.QueueCancelled
	item.CompletedAt = &now
	item.WorkerID = ""
	item.ClaimToken = 0
	return nil
}

// Retry resets a failed or cancelled item back to pending with a fresh
// attempt budget.
func (s *Store) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != domain.QueueFailed && item.Status != domain.QueueCancelled {
		return ErrInvalidState
	}

	item.Status = domain.QueuePending
	item.Attempts = 0
	item.LastError = ""
	item.NextRetryAt = nil
	item.StartedAt = nil
	item.CompletedAt = nil
	item.ScheduledAt = s.now().UTC()
	return nil
}

// SetPriority updates an item's priority in place.
func (s *Store) SetPriority(id string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Priority = priority
	return nil
}

// Cleanup removes terminal items whose completion predates the retention
// window. Returns the number of items removed.
func (s *Store) Cleanup(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for id, item := range s.items {
		if !item.Status.Terminal() {
			continue
		}
		if item.CompletedAt != nil && item.CompletedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// List returns snapshots of items with the given status, paginated.
func (s *Store) List(status domain.QueueStatus, limit, offset int) []domain.QueueItem {
	s.mu.RLock()
	matched := make([]domain.QueueItem, 0)
	for _, item := range s.items {
		if item.Status == status {
			matched = append(matched, snapshot(item))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Search returns up to limit items whose subject or to-recipients contain
// the query, case-insensitively.
func (s *Store) Search(query string, limit int) []domain.QueueItem {
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.QueueItem, 0)
	for _, item := range s.items {
		if limit > 0 && len(matched) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(item.Message.Subject), q) {
			matched = append(matched, snapshot(item))
			continue
		}
		for _, addr := range item.Message.To {
			if strings.Contains(strings.ToLower(addr.Email), q) {
				matched = append(matched, snapshot(item))
				break
			}
		}
	}
	return matched
}

// Size returns the number of items currently held.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns snapshots of every item. Used by the stats aggregator.
func (s *Store) Items() []domain.QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, snapshot(item))
	}
	return out
}

// snapshot copies an item so callers never share the store's live pointers.
// The message itself is immutable and shared.
func snapshot(item *domain.QueueItem) domain.QueueItem {
	out := *item
	if item.NextRetryAt != nil {
		t := *item.NextRetryAt
		out.NextRetryAt = &t
	}
	if item.StartedAt != nil {
		t := *item.StartedAt
		out.StartedAt = &t
	}
	if item.CompletedAt != nil {
		t := *item.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
