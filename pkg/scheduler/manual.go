package scheduler

import (
	"context"
	"time"

	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/occasions"
)

// SendOptions tweak a manual send.
type SendOptions struct {
	OverrideTemplateID string
	TestMode           bool
}

// SendResult reports a manual send. Expected failures are reported here
// rather than as an error.
type SendResult struct {
	Success   bool       `json:"success"`
	MessageID string     `json:"message_id,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	DryRun    bool       `json:"dry_run,omitempty"`
	Subject   string     `json:"subject,omitempty"`
}

// SendNow renders and delivers one important date immediately. It never
// touches nextSendAt, isActive or lastSentAt. Delivery errors are returned
// to the caller without retrying.
func (d *Dispatcher) SendNow(ctx context.Context, contactID, dateID string, opts SendOptions) (*SendResult, error) {
	due, err := d.store.GetDue(ctx, contactID, dateID)
	if err != nil {
		return nil, err
	}
	date := due.Date

	templateID := date.EmailTemplateID
	if opts.OverrideTemplateID != "" {
		templateID = opts.OverrideTemplateID
	}
	tmpl, err := d.store.GetTemplate(ctx, templateID)
	if domain.IsNotFound(err) {
		d.metrics.RecordManualSend("failed")
		return &SendResult{Success: false, Error: "email template not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		d.metrics.RecordManualSend("failed")
		return &SendResult{Success: false, Error: "email template is inactive"}, nil
	}

	rendered := occasions.Render(tmpl, occasions.Tokens(&due.Contact, &date))
	now := d.clock.Now().UTC()
	log := d.logger.With("contact_id", contactID, "date_id", dateID, "manual", true)

	delivery := &occasions.Delivery{
		ContactID:  contactID,
		DateID:     dateID,
		TemplateID: tmpl.ID,
		Recipient:  due.Contact.Email,
		Subject:    rendered.Subject,
		Manual:     true,
		CreatedAt:  now,
	}

	if opts.TestMode {
		delivery.Status = occasions.DeliveryDryRun
		d.record(ctx, log, delivery)
		d.metrics.RecordManualSend(string(occasions.DeliveryDryRun))
		log.Info("manual send dry run", "subject", rendered.Subject)
		return &SendResult{Success: true, DryRun: true, Subject: rendered.Subject}, nil
	}

	msg := message(due, tmpl, rendered, "")
	delete(msg.CustomArgs, "occurrence_key")
	msg.Categories = append(msg.Categories, "manual")
	msg.NoRetry = true

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	messageID, err := d.sender.Send(sendCtx, msg)
	cancel()

	if err != nil {
		log.Warn("manual send failed", "error", err)
		delivery.Status = occasions.DeliveryFailed
		delivery.Error = err.Error()
		d.record(ctx, log, delivery)
		d.metrics.RecordManualSend(string(occasions.DeliveryFailed))
		return &SendResult{Success: false, Error: err.Error(), Subject: rendered.Subject}, nil
	}

	delivery.Status = occasions.DeliverySent
	delivery.MessageID = messageID
	d.record(ctx, log, delivery)
	d.metrics.RecordManualSend(string(occasions.DeliverySent))
	log.Info("manual send delivered", "message_id", messageID)
	return &SendResult{Success: true, MessageID: messageID, SentAt: &now, Subject: rendered.Subject}, nil
}
