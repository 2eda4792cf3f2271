package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority is the delivery priority tag carried by a message. It maps onto
// the X-Priority header when the transport supports it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// HeaderValue returns the X-Priority header value for the priority.
func (p Priority) HeaderValue() string {
	switch p {
	case PriorityLow:
		return "5"
	case PriorityHigh:
		return "2"
	case PriorityUrgent:
		return "1"
	default:
		return "3"
	}
}

// Address is an email address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// NewAddress creates an address without a display name.
func NewAddress(email string) Address {
	return Address{Email: email}
}

// String formats the address for an RFC 5322 header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Attachment is a file attached to a message. Inline attachments carry a
// Content-ID so HTML bodies can reference them.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
	Inline      bool   `json:"inline,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// Size returns the attachment payload size in bytes.
func (a Attachment) Size() int { return len(a.Content) }

// Message is a fully-specified outbound email. Messages are immutable once
// built; delivery bookkeeping lives on the queue item, never here.
type Message struct {
	ID          string            `json:"id"`
	From        Address           `json:"from"`
	ReplyTo     *Address          `json:"reply_to,omitempty"`
	To          []Address         `json:"to"`
	Cc          []Address         `json:"cc,omitempty"`
	Bcc         []Address         `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	TextBody    string            `json:"text_body,omitempty"`
	HTMLBody    string            `json:"html_body,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Priority    Priority          `json:"priority"`
	TemplateID  string            `json:"template_id,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MessageSpec carries the named, validated fields for building a Message.
// Zero-value optional fields are simply omitted from the result.
type MessageSpec struct {
	From        Address
	ReplyTo     *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Headers     map[string]string
	Priority    Priority
	TemplateID  string
	Tags        []string
	Metadata    map[string]string
}

// Validation errors returned by NewMessage.
var (
	ErrNoSender    = errors.New("from address is required")
	ErrNoRecipient = errors.New("at least one recipient is required")
	ErrNoBody      = errors.New("message must have a text or HTML body")
)

// NewMessage validates the spec and builds an immutable Message. A message
// needs a sender, at least one recipient across to/cc/bcc, and at least one
// body. Invalid specs fail outright rather than producing a partial message.
func NewMessage(spec MessageSpec) (*Message, error) {
	if spec.From.Email == "" {
		return nil, ErrNoSender
	}
	if len(spec.To)+len(spec.Cc)+len(spec.Bcc) == 0 {
		return nil, ErrNoRecipient
	}
	if spec.TextBody == "" && spec.HTMLBody == "" {
		return nil, ErrNoBody
	}

	priority := spec.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	return &Message{
		ID:          uuid.New().String(),
		From:        spec.From,
		ReplyTo:     spec.ReplyTo,
		To:          spec.To,
		Cc:          spec.Cc,
		Bcc:         spec.Bcc,
		Subject:     spec.Subject,
		TextBody:    spec.TextBody,
		HTMLBody:    spec.HTMLBody,
		Attachments: spec.Attachments,
		Headers:     spec.Headers,
		Priority:    priority,
		TemplateID:  spec.TemplateID,
		Tags:        spec.Tags,
		Metadata:    spec.Metadata,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Recipients returns every recipient across to/cc/bcc, in that order.
func (m *Message) Recipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// RecipientCount returns the total number of recipients.
func (m *Message) RecipientCount() int {
	return len(m.To) + len(m.Cc) + len(m.Bcc)
}

// TotalAttachmentSize returns the combined attachment payload size in bytes.
func (m *Message) TotalAttachmentSize() int {
	total := 0
	for _, a := range m.Attachments {
		total += a.Size()
	}
	return total
}
