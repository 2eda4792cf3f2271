// Package eventlog keeps the append-only record of message lifecycle events.
// Events are immutable once recorded; the log only ever grows at the tail
// and sheds whole entries from the head when it passes its retention
// ceiling. Bounce, complaint and unsubscribe events are additionally routed
// to a suppression sink so the registry stays current without the log
// importing it.
package eventlog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/pkg/logger"
)

// DefaultMaxEntries is the retention ceiling when none is configured.
const DefaultMaxEntries = 100_000

// SuppressionSink receives deliverability signals extracted from recorded
// events. The suppression registry satisfies it.
type SuppressionSink interface {
	RecordBounce(email string, typ domain.BounceType, reason string) domain.BounceRecord
	RecordComplaint(email string, typ domain.ComplaintType, messageID, userAgent string) domain.ComplaintRecord
	RecordUnsubscribe(email string)
}

// Log is the in-memory event log. Safe for concurrent use.
type Log struct {
	mu         sync.RWMutex
	entries    []domain.Event
	maxEntries int
	sink       SuppressionSink

	now func() time.Time
}

// New creates a log with the given retention ceiling and suppression sink.
// A non-positive maxEntries falls back to DefaultMaxEntries; a nil sink
// disables suppression routing.
func New(maxEntries int, sink SuppressionSink) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		maxEntries: maxEntries,
		sink:       sink,
		now:        time.Now,
	}
}

// Record appends one event and routes deliverability signals to the sink.
func (l *Log) Record(event domain.Event) {
	l.mu.Lock()
	l.entries = append(l.entries, event)
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	l.mu.Unlock()

	l.route(event)
}

// route runs outside the log's lock; the sink has its own synchronization.
func (l *Log) route(event domain.Event) {
	if l.sink == nil || event.Recipient == "" {
		return
	}

	switch event.Type {
	case domain.EventHardBounce:
		rec := l.sink.RecordBounce(event.Recipient, domain.BounceHard, event.Error)
		logger.Warn("hard bounce recorded", "recipient", event.Recipient, "count", rec.Count)
	case domain.EventSoftBounce:
		rec := l.sink.RecordBounce(event.Recipient, domain.BounceSoft, event.Error)
		if rec.Suppressed {
			logger.Warn("address suppressed after repeated soft bounces", "recipient", event.Recipient)
		}
	case domain.EventBounced:
		l.sink.RecordBounce(event.Recipient, domain.BounceGeneral, event.Error)
	case domain.EventComplaint:
		l.sink.RecordComplaint(event.Recipient, domain.ComplaintAbuse, event.MessageID, event.UserAgent)
		logger.Warn("spam complaint recorded", "recipient", event.Recipient)
	case domain.EventUnsubscribed:
		l.sink.RecordUnsubscribe(event.Recipient)
	}
}

// Filter narrows a query. Zero-value fields match everything.
type Filter struct {
	Type      domain.EventType
	MessageID string
	Recipient string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f Filter) matches(e domain.Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.MessageID != "" && e.MessageID != f.MessageID {
		return false
	}
	if f.Recipient != "" && e.Recipient != f.Recipient {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Query returns matching events in recording order.
func (l *Log) Query(f Filter) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, 0)
	for _, e := range l.entries {
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Recent returns the latest n events, newest first.
func (l *Log) Recent(n int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]domain.Event, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// History returns every event for one message, in recording order.
func (l *Log) History(messageID string) []domain.Event {
	return l.Query(Filter{MessageID: messageID})
}

// Export writes all events matching the filter as a JSON array.
func (l *Log) Export(w io.Writer, f Filter) error {
	events := l.Query(f)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// Purge drops events older than the retention window and returns how many
// were removed.
func (l *Log) Purge(olderThan time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	idx := 0
	for idx < len(l.entries) && l.entries[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return 0
	}
	l.entries = append(l.entries[:0:0], l.entries[idx:]...)
	return idx
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// All returns a snapshot of every retained event in recording order. Used
// by the stats aggregator.
func (l *Log) All() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Event(nil), l.entries...)
}
