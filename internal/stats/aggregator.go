// Package stats derives point-in-time operational numbers from the queue
// store and the event log. The aggregator holds no state of its own: every
// call recomputes from snapshots, so it can never disagree with its
// sources for longer than one call.
package stats

import (
	"time"

	"github.com/ignite/mailroom/internal/domain"
)

// DefaultDeliveryWindow is the lookback for delivery stats when the caller
// does not pick one.
const DefaultDeliveryWindow = 30 * 24 * time.Hour

// queueWindow is the lookback for the queue success rate.
const queueWindow = 24 * time.Hour

// QueueSource provides the queue items to aggregate over.
type QueueSource interface {
	Items() []domain.QueueItem
}

// EventSource provides the recorded events to aggregate over.
type EventSource interface {
	All() []domain.Event
}

// SuppressionSource provides the suppression headcount.
type SuppressionSource interface {
	Count() int
}

// QueueStats is a snapshot of queue composition and recent outcomes.
type QueueStats struct {
	Total         int     `json:"total"`
	Pending       int     `json:"pending"`
	Processing    int     `json:"processing"`
	Deferred      int     `json:"deferred"`
	Sent          int     `json:"sent"`
	Failed        int     `json:"failed"`
	Cancelled     int     `json:"cancelled"`
	SentLast24h   int     `json:"sent_last_24h"`
	FailedLast24h int     `json:"failed_last_24h"`
	SuccessRate   float64 `json:"success_rate"`
}

// DeliveryStats is a windowed view over the event log with derived rates.
// Rates are percentages (0 to 100); every rate is 0 when its denominator
// is 0.
type DeliveryStats struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Bounced      int `json:"bounced"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Complaints   int `json:"complaints"`
	Unsubscribed int `json:"unsubscribed"`
	Failed       int `json:"failed"`
	Suppressed   int `json:"suppressed"`

	DeliveryRate  float64 `json:"delivery_rate"`
	BounceRate    float64 `json:"bounce_rate"`
	OpenRate      float64 `json:"open_rate"`
	ClickRate     float64 `json:"click_rate"`
	ComplaintRate float64 `json:"complaint_rate"`
}

// Aggregator computes stats from live sources.
type Aggregator struct {
	queue       QueueSource
	events      EventSource
	suppression SuppressionSource

	now func() time.Time
}

// NewAggregator wires an aggregator to its sources. Any source may be nil;
// its numbers then stay zero.
func NewAggregator(queue QueueSource, events EventSource, suppression SuppressionSource) *Aggregator {
	return &Aggregator{
		queue:       queue,
		events:      events,
		suppression: suppression,
		now:         time.Now,
	}
}

// Queue returns the current queue composition. The success rate covers
// items completed in the last 24 hours.
func (a *Aggregator) Queue() QueueStats {
	var s QueueStats
	if a.queue == nil {
		return s
	}

	cutoff := a.now().Add(-queueWindow)
	recentSent, recentFailed := 0, 0

	for _, item := range a.queue.Items() {
		s.Total++
		switch item.Status {
		case domain.QueuePending:
			s.Pending++
		case domain.QueueProcessing:
			s.Processing++
		case domain.QueueDeferred:
			s.Deferred++
		case domain.QueueSent:
			s.Sent++
		case domain.QueueFailed:
			s.Failed++
		case domain.QueueCancelled:
			s.Cancelled++
		}

		if item.CompletedAt == nil || item.CompletedAt.Before(cutoff) {
			continue
		}
		switch item.Status {
		case domain.QueueSent:
			recentSent++
		case domain.QueueFailed:
			recentFailed++
		}
	}

	s.SentLast24h = recentSent
	s.FailedLast24h = recentFailed
	s.SuccessRate = percent(recentSent, recentSent+recentFailed)
	return s
}

// Delivery returns event-log stats over the given window. A non-positive
// window falls back to DefaultDeliveryWindow.
func (a *Aggregator) Delivery(window time.Duration) DeliveryStats {
	if window <= 0 {
		window = DefaultDeliveryWindow
	}
	end := a.now()
	s := DeliveryStats{
		WindowStart: end.Add(-window),
		WindowEnd:   end,
	}

	if a.events != nil {
		for _, e := range a.events.All() {
			if e.Timestamp.Before(s.WindowStart) || e.Timestamp.After(end) {
				continue
			}
			switch e.Type {
			case domain.EventSent:
				s.Sent++
			case domain.EventDelivered:
				s.Delivered++
			case domain.EventBounced, domain.EventSoftBounce, domain.EventHardBounce:
				s.Bounced++
			case domain.EventOpened:
				s.Opened++
			case domain.EventClicked:
				s.Clicked++
			case domain.EventComplaint:
				s.Complaints++
			case domain.EventUnsubscribed:
				s.Unsubscribed++
			case domain.EventFailed:
				s.Failed++
			}
		}
	}
	if a.suppression != nil {
		s.Suppressed = a.suppression.Count()
	}

	s.DeliveryRate = percent(s.Delivered, s.Sent)
	s.BounceRate = percent(s.Bounced, s.Sent)
	s.OpenRate = percent(s.Opened, s.Delivered)
	s.ClickRate = percent(s.Clicked, s.Opened)
	s.ComplaintRate = percent(s.Complaints, s.Sent)
	return s
}

// percent returns n/d as a percentage, 0 when the denominator is 0.
func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
