package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates message lifecycle events recorded in the event log.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventBounced      EventType = "bounced"
	EventSoftBounce   EventType = "soft_bounce"
	EventHardBounce   EventType = "hard_bounce"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventComplaint    EventType = "spam_complaint"
	EventUnsubscribed EventType = "unsubscribed"
	EventFailed       EventType = "failed"
	EventDeferred     EventType = "deferred"
	EventCancelled    EventType = "cancelled"
)

// IsBounce reports whether the event is any bounce variant.
func (e EventType) IsBounce() bool {
	return e == EventBounced || e == EventSoftBounce || e == EventHardBounce
}

// Event is one immutable audit record of a message lifecycle event.
type Event struct {
	ID                string    `json:"id"`
	MessageID         string    `json:"message_id"`
	QueueItemID       string    `json:"queue_item_id,omitempty"`
	Type              EventType `json:"type"`
	Recipient         string    `json:"recipient"`
	Subject           string    `json:"subject,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Transport         string    `json:"transport,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	ClickURL          string    `json:"click_url,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(messageID string, typ EventType, recipient, subject string) Event {
	return Event{
		ID:        uuid.New().String(),
		MessageID: messageID,
		Type:      typ,
		Recipient: recipient,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
	}
}

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce  SuppressionReason = "hard_bounce"
	ReasonComplaint   SuppressionReason = "spam_complaint"
	ReasonUnsubscribe SuppressionReason = "unsubscribed"
	ReasonManual      SuppressionReason = "manual"
)

// SuppressionEntry is a standing block on one address.
type SuppressionEntry struct {
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}

// BounceType classifies a delivery bounce.
type BounceType string

const (
	BounceHard    BounceType = "hard"
	BounceSoft    BounceType = "soft"
	BounceGeneral BounceType = "general"
)

// BounceRecord accumulates bounce history for one address.
type BounceRecord struct {
	Email       string     `json:"email"`
	Type        BounceType `json:"type"`
	Reason      string     `json:"reason,omitempty"`
	FirstBounce time.Time  `json:"first_bounce"`
	LastBounce  time.Time  `json:"last_bounce"`
	Count       int        `json:"count"`
	Suppressed  bool       `json:"suppressed"`
}

// ComplaintType classifies an abuse report.
type ComplaintType string

const (
	ComplaintAbuse       ComplaintType = "abuse"
	ComplaintAuthFailure ComplaintType = "auth_failure"
	ComplaintFraud       ComplaintType = "fraud"
	ComplaintNotSpam     ComplaintType = "not_spam"
	ComplaintOther       ComplaintType = "other"
	ComplaintVirus       ComplaintType = "virus"
)

// ComplaintRecord captures one complaint report for an address. A later
// complaint for the same address replaces the earlier record.
type ComplaintRecord struct {
	Email      string        `json:"email"`
	Type       ComplaintType `json:"type"`
	MessageID  string        `json:"message_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	UserAgent  string        `json:"user_agent,omitempty"`
	Suppressed bool          `json:"suppressed"`
}
