// Package delivery sends messages. A Transport speaks one provider's wire
// protocol; the Orchestrator sits above it and owns suppression checks,
// queueing, event logging and retry bookkeeping.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailroom/internal/domain"
)

// SendResult reports one accepted transmission.
type SendResult struct {
	Transport         string    `json:"transport"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// Transport delivers one message through a provider. Send blocks for the
// full provider round-trip; callers must not hold locks across it.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *domain.Message) (SendResult, error)
	TestConnection(ctx context.Context) error
}

// ErrNotConfigured is returned when an operation needs a default sender or
// transport credentials that were never provided.
var ErrNotConfigured = errors.New("delivery not configured")

// SuppressedError rejects a send because a recipient is on the suppression
// list. It is not retryable: the address stays blocked until explicitly
// unsuppressed.
type SuppressedError struct {
	Address string
}

func (e *SuppressedError) Error() string {
	return fmt.Sprintf("recipient %s is suppressed", e.Address)
}
