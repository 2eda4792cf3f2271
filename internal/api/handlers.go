// Package api exposes the HTTP surface: sending, queue management, the
// event log, suppression administration and stats.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailroom/internal/delivery"
	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/eventlog"
	"github.com/ignite/mailroom/internal/pkg/httputil"
	"github.com/ignite/mailroom/internal/queue"
	"github.com/ignite/mailroom/internal/stats"
	"github.com/ignite/mailroom/internal/suppression"
	"github.com/ignite/mailroom/internal/template"
	"github.com/ignite/mailroom/internal/worker"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	orch      *delivery.Orchestrator
	store     *queue.Store
	registry  *suppression.Registry
	log       *eventlog.Log
	templates *template.Store
	agg       *stats.Aggregator
	pool      *worker.Pool
}

// NewHandlers creates a Handlers instance. pool may be nil when the server
// runs without background workers.
func NewHandlers(orch *delivery.Orchestrator, store *queue.Store, registry *suppression.Registry, log *eventlog.Log, templates *template.Store, agg *stats.Aggregator, pool *worker.Pool) *Handlers {
	return &Handlers{
		orch:      orch,
		store:     store,
		registry:  registry,
		log:       log,
		templates: templates,
		agg:       agg,
		pool:      pool,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	httputil.Error(w, status, message)
}

// respondDomainError maps the known error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var suppressed *delivery.SuppressedError
	var missingVars *template.MissingVariableError

	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, suppression.ErrNotFound), errors.Is(err, template.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidState):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, delivery.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &suppressed):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &missingVars):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoSender), errors.Is(err, domain.ErrNoRecipient), errors.Is(err, domain.ErrNoBody):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck reports liveness and worker status.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.pool != nil {
		status["workers"] = h.pool.Stats()
	}
	respondJSON(w, http.StatusOK, status)
}

type addressPayload struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (a addressPayload) domain() domain.Address {
	return domain.Address{Email: a.Email, Name: a.Name}
}

func toAddresses(in []addressPayload) []domain.Address {
	out := make([]domain.Address, 0, len(in))
	for _, a := range in {
		out = append(out, a.domain())
	}
	return out
}

type sendRequest struct {
	From        addressPayload    `json:"from"`
	ReplyTo     *addressPayload   `json:"reply_to,omitempty"`
	To          []addressPayload  `json:"to"`
	Cc          []addressPayload  `json:"cc,omitempty"`
	Bcc         []addressPayload  `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	TextBody    string            `json:"text_body,omitempty"`
	HTMLBody    string            `json:"html_body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	ScheduleAt  *time.Time        `json:"schedule_at,omitempty"`
	Queue       *bool             `json:"queue,omitempty"`
}

// Send accepts a message and dispatches it: inline, queued, or scheduled.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	var replyTo *domain.Address
	if req.ReplyTo != nil {
		addr := req.ReplyTo.domain()
		replyTo = &addr
	}
	msg, err := domain.NewMessage(domain.MessageSpec{
		From:     req.From.domain(),
		ReplyTo:  replyTo,
		To:       toAddresses(req.To),
		Cc:       toAddresses(req.Cc),
		Bcc:      toAddresses(req.Bcc),
		Subject:  req.Subject,
		TextBody: req.TextBody,
		HTMLBody: req.HTMLBody,
		Headers:  req.Headers,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	opts := queue.EnqueueOptions{Priority: req.Priority, MaxAttempts: req.MaxAttempts}

	if req.ScheduleAt != nil {
		item, err := h.orch.Schedule(msg, *req.ScheduleAt, opts)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, delivery.Outcome{Queued: true, Item: &item})
		return
	}

	if req.Queue != nil && *req.Queue {
		item, err := h.orch.Enqueue(msg, opts)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, delivery.Outcome{Queued: true, Item: &item})
		return
	}

	out, err := h.orch.Deliver(r.Context(), msg, opts)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, out)
}

type templateSendRequest struct {
	Slug string                 `json:"slug"`
	To   addressPayload         `json:"to"`
	Vars map[string]interface{} `json:"vars,omitempty"`
}

// SendTemplate renders a stored template for one recipient and delivers it.
func (h *Handlers) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	out, err := h.orch.SendTemplate(r.Context(), req.Slug, delivery.TemplateRecipient{
		To:   req.To.domain(),
		Vars: req.Vars,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, out)
}

type bulkSendRequest struct {
	Slug       string `json:"slug"`
	Recipients []struct {
		To   addressPayload         `json:"to"`
		Vars map[string]interface{} `json:"vars,omitempty"`
	} `json:"recipients"`
}

// SendTemplateBulk renders a template for many recipients.
func (h *Handlers) SendTemplateBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	rcpts := make([]delivery.TemplateRecipient, 0, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		rcpts = append(rcpts, delivery.TemplateRecipient{To: rcpt.To.domain(), Vars: rcpt.Vars})
	}

	res, err := h.orch.SendTemplateBulk(r.Context(), req.Slug, rcpts)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetQueueItem returns one queue item.
func (h *Handlers) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ListQueueItems lists items by status with pagination.
func (h *Handlers) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.QueuePending
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items := h.store.List(status, limit, offset)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// SearchQueueItems searches items by subject or recipient.
func (h *Handlers) SearchQueueItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	items := h.store.Search(q, queryInt(r, "limit", 50))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// CancelQueueItem cancels a queue item.
func (h *Handlers) CancelQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Cancel(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RetryQueueItem resets a terminal item for another delivery attempt.
func (h *Handlers) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Retry(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// SetQueueItemPriority updates an item's priority.
func (h *Handlers) SetQueueItemPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority int `json:"priority"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.store.SetPriority(chi.URLParam(r, "id"), req.Priority); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"priority": req.Priority})
}

// GetQueueStats returns queue composition and recent outcomes.
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.agg.Queue())
}

// GetDeliveryStats returns event-log stats over a window.
func (h *Handlers) GetDeliveryStats(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(queryInt(r, "window_hours", 0)) * time.Hour
	respondJSON(w, http.StatusOK, h.agg.Delivery(window))
}

// QueryLogs returns events matching the query parameters.
func (h *Handlers) QueryLogs(w http.ResponseWriter, r *http.Request) {
	events := h.log.Query(eventlog.Filter{
		Type:      domain.EventType(r.URL.Query().Get("type")),
		MessageID: r.URL.Query().Get("message_id"),
		Recipient: r.URL.Query().Get("recipient"),
		Limit:     queryInt(r, "limit", 100),
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ExportLogs streams all matching events as a JSON download.
func (h *Handlers) ExportLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="events.json"`)
	if err := h.log.Export(w, eventlog.Filter{
		Type:      domain.EventType(r.URL.Query().Get("type")),
		Recipient: r.URL.Query().Get("recipient"),
	}); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListSuppression returns every suppressed address.
func (h *Handlers) ListSuppression(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// AddSuppression manually suppresses an address.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Reason string `json:"reason,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	reason := domain.SuppressionReason(req.Reason)
	if reason == "" {
		reason = domain.ReasonManual
	}
	h.registry.Suppress(req.Email, reason)
	respondJSON(w, http.StatusCreated, map[string]string{"email": req.Email, "reason": string(reason)})
}

// GetSuppression returns the suppression detail for one address.
func (h *Handlers) GetSuppression(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	reason, err := h.registry.Reason(email)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	detail := map[string]interface{}{
		"email":  email,
		"reason": reason,
	}
	if bounce, err := h.registry.Bounce(email); err == nil {
		detail["bounce"] = bounce
	}
	if complaint, err := h.registry.Complaint(email); err == nil {
		detail["complaint"] = complaint
	}
	respondJSON(w, http.StatusOK, detail)
}

// RemoveSuppression lifts the block on an address.
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !h.registry.Unsuppress(email) {
		respondError(w, http.StatusNotFound, "address not suppressed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"email": email, "status": "removed"})
}

// ListTemplates returns every stored template.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.templates.List())
}

// GetTemplate returns one template by slug.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.Get(chi.URLParam(r, "slug"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// PutTemplate creates or replaces a template.
func (h *Handlers) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if !httputil.Decode(w, r, &t) {
		return
	}
	t.Slug = chi.URLParam(r, "slug")
	if err := h.templates.Upsert(t); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"slug": t.Slug})
}

// DeleteTemplate removes a template.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.templates.Delete(chi.URLParam(r, "slug")) {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// TestTransport verifies connectivity to the delivery provider.
func (h *Handlers) TestTransport(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.TestConnection(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"transport": h.orch.TransportName(), "status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
