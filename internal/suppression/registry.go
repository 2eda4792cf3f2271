// Package suppression maintains the set of addresses that must not receive
// mail, together with the bounce and complaint history that feeds it.
// Addresses land here through hard bounces, repeated soft bounces, abuse
// complaints, unsubscribes, or manual blocks.
package suppression

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/mailroom/internal/domain"
)

// SoftBounceLimit is the number of soft bounces after which an address is
// treated as undeliverable and suppressed.
const SoftBounceLimit = 3

// Registry is the in-memory suppression store. All lookups are keyed by the
// lowercased address, so checks are case-insensitive. A bounce or complaint
// record and its suppression entry are always updated under one lock
// acquisition; callers never observe a record marked suppressed without the
// matching entry, or the reverse.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]domain.SuppressionEntry
	bounces    map[string]*domain.BounceRecord
	complaints map[string]domain.ComplaintRecord

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[string]domain.SuppressionEntry),
		bounces:    make(map[string]*domain.BounceRecord),
		complaints: make(map[string]domain.ComplaintRecord),
		now:        time.Now,
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed reports whether the address is blocked from delivery.
func (r *Registry) IsSuppressed(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key(email)]
	return ok
}

// Suppress blocks an address. Suppressing an already-suppressed address is a
// no-op: the original reason and timestamp are kept.
func (r *Registry) Suppress(email string, reason domain.SuppressionReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressLocked(key(email), reason)
}

func (r *Registry) suppressLocked(k string, reason domain.SuppressionReason) {
	if _, ok := r.entries[k]; ok {
		return
	}
	r.entries[k] = domain.SuppressionEntry{
		Email:     k,
		Reason:    reason,
		CreatedAt: r.now().UTC(),
	}
}

// Unsuppress removes the block on an address and reports whether one
// existed. Bounce and complaint history is kept, but its suppressed flag is
// cleared so the record and the entry set stay in step.
func (r *Registry) Unsuppress(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(email)
	if _, ok := r.entries[k]; !ok {
		return false
	}
	delete(r.entries, k)
	if rec, ok := r.bounces[k]; ok {
		rec.Suppressed = false
	}
	if rec, ok := r.complaints[k]; ok {
		rec.Suppressed = false
		r.complaints[k] = rec
	}
	return true
}

// RecordBounce folds one bounce into the address's history. A hard bounce
// suppresses immediately; soft bounces suppress once the address has
// accumulated SoftBounceLimit of them. The returned record reflects the
// post-update state.
func (r *Registry) RecordBounce(email string, typ domain.BounceType, reason string) domain.BounceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(email)
	now := r.now().UTC()

	rec, ok := r.bounces[k]
	if !ok {
		rec = &domain.BounceRecord{
			Email:       k,
			Type:        typ,
			FirstBounce: now,
		}
		r.bounces[k] = rec
	}
	rec.Count++
	rec.LastBounce = now
	rec.Reason = reason
	// A hard bounce is sticky: once seen, the record stays hard.
	if typ == domain.BounceHard {
		rec.Type = domain.BounceHard
	}

	// The accumulation rule applies to soft bounces only; general bounces
	// never suppress on count alone.
	if typ == domain.BounceHard || (rec.Type == domain.BounceSoft && rec.Count >= SoftBounceLimit) {
		rec.Suppressed = true
		r.suppressLocked(k, domain.ReasonHardBounce)
	}
	return *rec
}

// RecordComplaint stores one complaint report, replacing any earlier report
// for the same address. An abuse complaint suppresses the address.
func (r *Registry) RecordComplaint(email string, typ domain.ComplaintType, messageID, userAgent string) domain.ComplaintRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(email)
	rec := domain.ComplaintRecord{
		Email:     k,
		Type:      typ,
		MessageID: messageID,
		Timestamp: r.now().UTC(),
		UserAgent: userAgent,
	}
	if typ == domain.ComplaintAbuse {
		rec.Suppressed = true
		r.suppressLocked(k, domain.ReasonComplaint)
	}
	r.complaints[k] = rec
	return rec
}

// RecordUnsubscribe suppresses an address on the recipient's own request.
func (r *Registry) RecordUnsubscribe(email string) {
	r.Suppress(email, domain.ReasonUnsubscribe)
}

// Reason returns why an address is suppressed.
func (r *Registry) Reason(email string) (domain.SuppressionReason, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key(email)]
	if !ok {
		return "", ErrNotFound
	}
	return entry.Reason, nil
}

// Bounce returns the bounce history for an address.
func (r *Registry) Bounce(email string) (domain.BounceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.bounces[key(email)]
	if !ok {
		return domain.BounceRecord{}, ErrNotFound
	}
	return *rec, nil
}

// Complaint returns the most recent complaint report for an address.
func (r *Registry) Complaint(email string) (domain.ComplaintRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.complaints[key(email)]
	if !ok {
		return domain.ComplaintRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns every suppression entry, ordered by address.
func (r *Registry) List() []domain.SuppressionEntry {
	r.mu.RLock()
	out := make([]domain.SuppressionEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Count returns the number of suppressed addresses.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
