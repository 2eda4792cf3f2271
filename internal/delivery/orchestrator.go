package delivery

import (
	"context"
	"time"

	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/eventlog"
	"github.com/ignite/mailroom/internal/pkg/logger"
	"github.com/ignite/mailroom/internal/queue"
	"github.com/ignite/mailroom/internal/suppression"
	"github.com/ignite/mailroom/internal/template"
)

// Options configures an Orchestrator.
type Options struct {
	// DefaultFrom is the sender used by template and quick sends. Operations
	// that need it fail with ErrNotConfigured when it is empty.
	DefaultFrom domain.Address
	// QueueByDefault routes Deliver through the queue instead of sending
	// inline.
	QueueByDefault bool
}

// Orchestrator coordinates a send end to end: suppression check, transport
// hand-off, event logging and queue bookkeeping. It holds no locks of its
// own; each collaborator synchronizes independently, so nothing is ever
// held across the transport round-trip.
type Orchestrator struct {
	transport Transport
	store     *queue.Store
	registry  *suppression.Registry
	log       *eventlog.Log
	templates *template.Store
	opts      Options
}

// NewOrchestrator wires an orchestrator to its collaborators.
func NewOrchestrator(transport Transport, store *queue.Store, registry *suppression.Registry, log *eventlog.Log, templates *template.Store, opts Options) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		store:     store,
		registry:  registry,
		log:       log,
		templates: templates,
		opts:      opts,
	}
}

// Outcome reports how Deliver disposed of a message: queued for later, or
// sent inline.
type Outcome struct {
	Queued bool              `json:"queued"`
	Item   *domain.QueueItem `json:"item,omitempty"`
	Result *SendResult       `json:"result,omitempty"`
}

// Send delivers a message immediately. Every recipient is checked against
// the suppression registry first; one suppressed address rejects the whole
// message.
func (o *Orchestrator) Send(ctx context.Context, msg *domain.Message) (SendResult, error) {
	if err := o.checkSuppressed(msg); err != nil {
		return SendResult{}, err
	}

	// Written before the transport call so the attempt leaves a trace even
	// if the process dies mid-send.
	for _, addr := range msg.To {
		o.log.Record(domain.NewEvent(msg.ID, domain.EventQueued, addr.Email, msg.Subject))
	}

	res, err := o.transport.Send(ctx, msg)
	if err != nil {
		for _, addr := range msg.To {
			e := domain.NewEvent(msg.ID, domain.EventFailed, addr.Email, msg.Subject)
			e.Transport = o.transport.Name()
			e.Error = err.Error()
			o.log.Record(e)
		}
		return SendResult{}, err
	}

	for _, addr := range msg.To {
		e := domain.NewEvent(msg.ID, domain.EventSent, addr.Email, msg.Subject)
		e.Transport = res.Transport
		e.ProviderMessageID = res.ProviderMessageID
		o.log.Record(e)
	}
	logger.Info("message sent", "message_id", msg.ID, "transport", res.Transport, "recipients", msg.RecipientCount())
	return res, nil
}

// Enqueue admits a message to the queue and logs it. Suppressed recipients
// are rejected at admission; recipients suppressed after admission are
// caught again at claim time.
func (o *Orchestrator) Enqueue(msg *domain.Message, opts queue.EnqueueOptions) (domain.QueueItem, error) {
	if err := o.checkSuppressed(msg); err != nil {
		return domain.QueueItem{}, err
	}
	item, err := o.store.Enqueue(msg, opts)
	if err != nil {
		return domain.QueueItem{}, err
	}
	o.recordQueued(msg, item.ID)
	return item, nil
}

// Schedule admits a message for delivery at a specific time and logs it.
func (o *Orchestrator) Schedule(msg *domain.Message, sendAt time.Time, opts queue.EnqueueOptions) (domain.QueueItem, error) {
	if err := o.checkSuppressed(msg); err != nil {
		return domain.QueueItem{}, err
	}
	item, err := o.store.Schedule(msg, sendAt, opts)
	if err != nil {
		return domain.QueueItem{}, err
	}
	o.recordQueued(msg, item.ID)
	return item, nil
}

// checkSuppressed rejects a message when any recipient, cc and bcc
// included, is suppressed.
func (o *Orchestrator) checkSuppressed(msg *domain.Message) error {
	for _, addr := range msg.Recipients() {
		if o.registry.IsSuppressed(addr.Email) {
			return &SuppressedError{Address: addr.Email}
		}
	}
	return nil
}

func (o *Orchestrator) recordQueued(msg *domain.Message, itemID string) {
	for _, addr := range msg.To {
		e := domain.NewEvent(msg.ID, domain.EventQueued, addr.Email, msg.Subject)
		e.QueueItemID = itemID
		o.log.Record(e)
	}
}

// Deliver routes a message per the configured default: queued, or sent
// inline.
func (o *Orchestrator) Deliver(ctx context.Context, msg *domain.Message, opts queue.EnqueueOptions) (Outcome, error) {
	if o.opts.QueueByDefault {
		item, err := o.Enqueue(msg, opts)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Queued: true, Item: &item}, nil
	}

	res, err := o.Send(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: &res}, nil
}

// TemplateRecipient pairs one recipient with their render context.
type TemplateRecipient struct {
	To   domain.Address
	Vars map[string]interface{}
}

// SendTemplate renders a stored template for one recipient and delivers the
// result. Requires a configured default sender.
func (o *Orchestrator) SendTemplate(ctx context.Context, slug string, rcpt TemplateRecipient) (Outcome, error) {
	msg, err := o.buildFromTemplate(slug, rcpt)
	if err != nil {
		return Outcome{}, err
	}
	return o.Deliver(ctx, msg, queue.EnqueueOptions{})
}

// BulkResult summarizes a bulk template send. Failures do not stop the run.
type BulkResult struct {
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// SendTemplateBulk renders and delivers a template to many recipients, each
// with their own variables. One recipient's failure never blocks the rest.
func (o *Orchestrator) SendTemplateBulk(ctx context.Context, slug string, rcpts []TemplateRecipient) (BulkResult, error) {
	if o.opts.DefaultFrom.Email == "" {
		return BulkResult{}, ErrNotConfigured
	}

	var out BulkResult
	for _, rcpt := range rcpts {
		if _, err := o.SendTemplate(ctx, slug, rcpt); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, logger.RedactEmail(rcpt.To.Email)+": "+err.Error())
			continue
		}
		out.Delivered++
	}
	return out, nil
}

func (o *Orchestrator) buildFromTemplate(slug string, rcpt TemplateRecipient) (*domain.Message, error) {
	if o.opts.DefaultFrom.Email == "" {
		return nil, ErrNotConfigured
	}

	rendered, err := o.templates.Render(slug, rcpt.Vars)
	if err != nil {
		return nil, err
	}
	return domain.NewMessage(domain.MessageSpec{
		From:       o.opts.DefaultFrom,
		To:         []domain.Address{rcpt.To},
		Subject:    rendered.Subject,
		TextBody:   rendered.TextBody,
		HTMLBody:   rendered.HTMLBody,
		TemplateID: slug,
	})
}

// QuickSend sends a plain-text message to one recipient immediately.
// Requires a configured default sender.
func (o *Orchestrator) QuickSend(ctx context.Context, to, subject, body string) (SendResult, error) {
	if o.opts.DefaultFrom.Email == "" {
		return SendResult{}, ErrNotConfigured
	}

	msg, err := domain.NewMessage(domain.MessageSpec{
		From:     o.opts.DefaultFrom,
		To:       []domain.Address{domain.NewAddress(to)},
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return SendResult{}, err
	}
	return o.Send(ctx, msg)
}

// ProcessResult summarizes one queue-draining pass.
type ProcessResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// ProcessBatch claims up to batchSize eligible items and attempts each one.
// Lost claim races are skipped silently; they mean another worker got
// there first. Suppressed recipients fail their item outright.
func (o *Orchestrator) ProcessBatch(ctx context.Context, workerID string, batchSize int) ProcessResult {
	var out ProcessResult

	for _, candidate := range o.store.SelectEligible(batchSize) {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		claimed, err := o.store.Claim(candidate.ID, workerID)
		if err != nil {
			continue
		}
		o.processClaimed(ctx, claimed, &out)
	}
	return out
}

func (o *Orchestrator) processClaimed(ctx context.Context, item domain.QueueItem, out *ProcessResult) {
	msg := item.Message

	for _, addr := range msg.Recipients() {
		if o.registry.IsSuppressed(addr.Email) {
			suppErr := &SuppressedError{Address: addr.Email}
			o.finishFailed(item, suppErr.Error(), out)
			return
		}
	}

	res, err := o.transport.Send(ctx, msg)
	if err != nil {
		o.finishFailed(item, err.Error(), out)
		return
	}

	if err := o.store.MarkSent(item.ID, item.ClaimToken); err != nil {
		// Cancelled mid-flight; the message went out but the item stays
		// cancelled rather than being resurrected.
		logger.Warn("claim stale after send", "item_id", item.ID, "error", err.Error())
		return
	}
	out.Sent++
	for _, addr := range msg.To {
		e := domain.NewEvent(msg.ID, domain.EventSent, addr.Email, msg.Subject)
		e.QueueItemID = item.ID
		e.Transport = res.Transport
		e.ProviderMessageID = res.ProviderMessageID
		o.log.Record(e)
	}
}

func (o *Orchestrator) finishFailed(item domain.QueueItem, errText string, out *ProcessResult) {
	if err := o.store.MarkFailed(item.ID, item.ClaimToken, errText); err != nil {
		logger.Warn("claim stale after failure", "item_id", item.ID, "error", err.Error())
		return
	}
	out.Failed++
	out.Errors = append(out.Errors, errText)

	eventType := domain.EventFailed
	if after, err := o.store.Get(item.ID); err == nil && after.Status == domain.QueueDeferred {
		eventType = domain.EventDeferred
	}
	for _, addr := range item.Message.To {
		e := domain.NewEvent(item.Message.ID, eventType, addr.Email, item.Message.Subject)
		e.QueueItemID = item.ID
		e.Error = errText
		o.log.Record(e)
	}
}

// Cancel cancels a queue item and logs the cancellation.
func (o *Orchestrator) Cancel(id string) error {
	item, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if err := o.store.Cancel(id); err != nil {
		return err
	}
	for _, addr := range item.Message.To {
		e := domain.NewEvent(item.Message.ID, domain.EventCancelled, addr.Email, item.Message.Subject)
		e.QueueItemID = id
		o.log.Record(e)
	}
	return nil
}

// TransportName returns the configured transport's name.
func (o *Orchestrator) TransportName() string { return o.transport.Name() }

// TestConnection verifies the transport is reachable and authenticated.
func (o *Orchestrator) TestConnection(ctx context.Context) error {
	return o.transport.TestConnection(ctx)
}
