package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/pkg/httpretry"
	"github.com/ignite/mailroom/internal/pkg/logger"
)

const sparkPostBaseURL = "https://api.sparkpost.com/api/v1"

// SparkPostTransport sends through the SparkPost Transmissions API.
type SparkPostTransport struct {
	apiKey  string
	baseURL string
	client  httpretry.Doer
}

// NewSparkPostTransport creates a transport targeting the SparkPost v1 API.
// Transient API failures are retried once before the queue's own retry
// policy takes over.
func NewSparkPostTransport(apiKey string) *SparkPostTransport {
	return &SparkPostTransport{
		apiKey:  apiKey,
		baseURL: sparkPostBaseURL,
		client:  httpretry.New(&http.Client{Timeout: 30 * time.Second}, 1),
	}
}

// Name implements Transport.
func (t *SparkPostTransport) Name() string { return "sparkpost" }

// Send implements Transport.
func (t *SparkPostTransport) Send(ctx context.Context, msg *domain.Message) (SendResult, error) {
	if t.apiKey == "" {
		return SendResult{}, ErrNotConfigured
	}

	recipients := make([]map[string]interface{}, 0, msg.RecipientCount())
	for _, addr := range msg.Recipients() {
		recipients = append(recipients, map[string]interface{}{
			"address": map[string]string{"email": addr.Email, "name": addr.Name},
		})
	}

	content := map[string]interface{}{
		"from":    map[string]string{"email": msg.From.Email, "name": msg.From.Name},
		"subject": msg.Subject,
	}
	if msg.HTMLBody != "" {
		content["html"] = msg.HTMLBody
	}
	if msg.TextBody != "" {
		content["text"] = msg.TextBody
	}
	if msg.ReplyTo != nil {
		content["reply_to"] = msg.ReplyTo.String()
	}
	if len(msg.Headers) > 0 {
		content["headers"] = msg.Headers
	}

	transmission := map[string]interface{}{
		"recipients": recipients,
		"content":    content,
	}
	if len(msg.Metadata) > 0 {
		transmission["metadata"] = msg.Metadata
	}

	payload, err := json.Marshal(transmission)
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transmissions", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return SendResult{}, fmt.Errorf("sparkpost rate limit exceeded: %s", body)
	}
	if resp.StatusCode >= 400 {
		return SendResult{}, fmt.Errorf("sparkpost error %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	_ = json.Unmarshal(body, &parsed)

	logger.Debug("sparkpost transmission accepted", "message_id", msg.ID, "transmission_id", parsed.Results.ID)
	return SendResult{
		Transport:         t.Name(),
		ProviderMessageID: parsed.Results.ID,
		SentAt:            time.Now().UTC(),
	}, nil
}

// TestConnection verifies the API key against the account endpoint.
func (t *SparkPostTransport) TestConnection(ctx context.Context) error {
	if t.apiKey == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/account", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sparkpost account check failed: %d", resp.StatusCode)
	}
	return nil
}
