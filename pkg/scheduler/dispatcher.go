// Package scheduler dispatches due occasion greetings and handles the
// out-of-band send-now path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getsentry/sentry-go"
	"github.com/jordanlanch/occasions/pkg/email"
	"github.com/jordanlanch/occasions/pkg/logger"
	"github.com/jordanlanch/occasions/pkg/metrics"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/recurrence"
	"golang.org/x/sync/errgroup"
)

// ErrPassInProgress is returned by RunOnce when another pass holds the lock.
var ErrPassInProgress = errors.New("another scheduler pass is in progress")

// Runner runs one scheduler pass. Cron, the CLI and the admin endpoint
// all trigger dispatch through it.
type Runner interface {
	RunOnce(ctx context.Context) (PassResult, error)
}

// PassLocker guards against overlapping passes.
type PassLocker interface {
	TryLock(ctx context.Context) (token string, acquired bool, err error)
	Unlock(ctx context.Context, token string) error
}

// Config tunes a pass.
type Config struct {
	BatchSize       int
	Workers         int
	Lease           time.Duration
	DeliveryTimeout time.Duration
}

// leaseMargin is the lease time kept in reserve after a send for recording
// the delivery and rescheduling.
const leaseMargin = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 15 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 10 * time.Minute
	}
	// A lease that cannot cover a single send would defer every entry.
	if minLease := c.DeliveryTimeout + leaseMargin; c.Lease < minLease {
		c.Lease = 2 * minLease
	}
	return c
}

// PassResult summarises one pass.
type PassResult struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	Claimed        int           `json:"claimed"`
	Sent           int           `json:"sent"`
	Suppressed     int           `json:"suppressed"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Deferred       int           `json:"deferred"`
	TemplateErrors int           `json:"template_errors"`
}

type outcome string

const (
	outcomeSent          outcome = "sent"
	outcomeSuppressed    outcome = "suppressed"
	outcomeFailed        outcome = "failed"
	outcomeSkipped       outcome = "skipped"
	outcomeDeferred      outcome = "deferred"
	outcomeTemplateError outcome = "template_error"
)

func (r *PassResult) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeSuppressed:
		r.Suppressed++
	case outcomeFailed:
		r.Failed++
	case outcomeSkipped:
		r.Skipped++
	case outcomeDeferred:
		r.Deferred++
	case outcomeTemplateError:
		r.TemplateErrors++
	}
}

// Dispatcher sends due greetings and reschedules their next occurrence.
type Dispatcher struct {
	store   occasions.Store
	sender  email.Sender
	lock    PassLocker
	metrics *metrics.Metrics
	logger  logger.Logger
	clock   clock.Clock
	cfg     Config
}

// NewDispatcher creates a dispatcher. lock and m may be nil.
func NewDispatcher(store occasions.Store, sender email.Sender, lock PassLocker, m *metrics.Metrics, log logger.Logger, clk clock.Clock, cfg Config) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		lock:    lock,
		metrics: m,
		logger:  log,
		clock:   clk,
		cfg:     cfg.withDefaults(),
	}
}

// OccurrenceKey identifies one scheduled occurrence of an important date.
func OccurrenceKey(contactID, dateID string, nextSendAt time.Time) string {
	return "occasion:" + contactID + ":" + dateID + ":" + strconv.FormatInt(nextSendAt.Unix(), 10)
}

// RunOnce claims the due entries and processes them with a bounded worker
// pool. A failing entry never stops its siblings.
func (d *Dispatcher) RunOnce(ctx context.Context) (PassResult, error) {
	start := d.clock.Now()
	result := PassResult{StartedAt: start.UTC()}

	if d.lock != nil {
		token, ok, err := d.lock.TryLock(ctx)
		if err != nil {
			d.metrics.RecordPass("error", 0, start)
			return result, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			d.logger.Warn("scheduler pass skipped, another pass is running")
			d.metrics.RecordPass("locked", 0, start)
			return result, ErrPassInProgress
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := d.lock.Unlock(unlockCtx, token); err != nil {
				d.logger.Error("failed to release pass lock", "error", err)
			}
		}()
	}

	claimed, err := d.store.ClaimDue(ctx, start, d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		d.metrics.RecordPass("error", 0, start)
		d.capture(err, nil)
		return result, err
	}
	result.Claimed = len(claimed)
	leaseUntil := start.Add(d.cfg.Lease)

	sort.SliceStable(claimed, func(i, j int) bool {
		pi, pj := claimed[i].Date.Type.Priority(), claimed[j].Date.Type.Priority()
		if pi != pj {
			return pi < pj
		}
		return claimed[i].Date.NextSendAt.Before(*claimed[j].Date.NextSendAt)
	})

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.Workers)
	for _, due := range claimed {
		due := due
		g.Go(func() error {
			o := d.process(ctx, due, leaseUntil)
			d.metrics.RecordDelivery(string(o), string(due.Date.Type))
			mu.Lock()
			result.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	finished := d.clock.Now()
	result.Duration = finished.Sub(start)
	d.metrics.RecordPass("completed", result.Duration, finished)
	d.logger.Info("scheduler pass completed",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"suppressed", result.Suppressed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"deferred", result.Deferred,
		"template_errors", result.TemplateErrors,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (d *Dispatcher) process(ctx context.Context, due occasions.DueOccasion, leaseUntil time.Time) outcome {
	date := due.Date
	log := d.logger.With("contact_id", date.ContactID, "date_id", date.ID, "type", string(date.Type))
	now := d.clock.Now().UTC()
	key := OccurrenceKey(date.ContactID, date.ID, *date.NextSendAt)

	if date.OptOut {
		d.record(ctx, log, &occasions.Delivery{
			ContactID:     date.ContactID,
			DateID:        date.ID,
			TemplateID:    date.EmailTemplateID,
			OccurrenceKey: key,
			Recipient:     due.Contact.Email,
			Status:        occasions.DeliverySuppressed,
			CreatedAt:     now,
		})
		d.advance(ctx, log, due, now, false)
		return outcomeSuppressed
	}

	delivered, err := d.store.HasDelivered(ctx, key)
	if err != nil {
		log.Error("failed to check delivery log", "error", err)
		d.release(ctx, log, due)
		return outcomeFailed
	}
	if delivered {
		log.Warn("occurrence already delivered, rescheduling only", "occurrence_key", key)
		d.advance(ctx, log, due, now, false)
		return outcomeSkipped
	}

	tmpl, err := d.store.GetTemplate(ctx, date.EmailTemplateID)
	if err == nil && !tmpl.IsActive {
		err = fmt.Errorf("email template %s is inactive", tmpl.ID)
	}
	if err != nil {
		log.Error("cannot render occasion email", "template_id", date.EmailTemplateID, "error", err)
		d.capture(err, &due)
		d.release(ctx, log, due)
		return outcomeTemplateError
	}

	rendered := occasions.Render(tmpl, occasions.Tokens(&due.Contact, &date))
	msg := message(&due, tmpl, rendered, key)

	// Another pass may claim the entry once the lease lapses, so a send must
	// be able to finish well inside it.
	if remaining := leaseUntil.Sub(d.clock.Now()); remaining < d.cfg.DeliveryTimeout+leaseMargin {
		log.Warn("lease too short to send, deferring to the next pass", "lease_remaining", remaining)
		d.release(ctx, log, due)
		return outcomeDeferred
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	messageID, err := d.sender.Send(sendCtx, msg)
	cancel()

	delivery := &occasions.Delivery{
		ContactID:     date.ContactID,
		DateID:        date.ID,
		TemplateID:    tmpl.ID,
		OccurrenceKey: key,
		Recipient:     due.Contact.Email,
		Subject:       rendered.Subject,
		CreatedAt:     now,
	}
	if err != nil {
		log.Error("occasion email delivery failed", "error", err)
		d.capture(err, &due)
		delivery.Status = occasions.DeliveryFailed
		delivery.Error = err.Error()
		d.record(ctx, log, delivery)
		d.release(ctx, log, due)
		return outcomeFailed
	}

	delivery.Status = occasions.DeliverySent
	delivery.MessageID = messageID
	d.record(ctx, log, delivery)
	d.advance(ctx, log, due, now, true)
	log.Info("occasion email sent", "message_id", messageID)
	return outcomeSent
}

// advance moves a recurring entry to its next occurrence or deactivates a
// one-shot entry.
func (d *Dispatcher) advance(ctx context.Context, log logger.Logger, due occasions.DueOccasion, now time.Time, sent bool) {
	date := due.Date
	r := occasions.Reschedule{
		ContactID:          date.ContactID,
		DateID:             date.ID,
		LeaseToken:         due.LeaseToken,
		ExpectedNextSendAt: *date.NextSendAt,
		UpdatedAt:          now,
	}
	if sent {
		r.LastSentAt = &now
	}

	if date.RepeatAnnually {
		next, err := recurrence.After(date.Date, date.SendTime, date.Timezone, *date.NextSendAt, now)
		if err != nil {
			log.Error("stored schedule is invalid, deactivating", "error", err)
			d.capture(err, &due)
		} else {
			next = next.UTC()
			r.NextSendAt = &next
			r.IsActive = true
		}
	}

	err := d.store.Reschedule(ctx, r)
	switch {
	case errors.Is(err, occasions.ErrStaleClaim):
		log.Warn("entry changed while it was being dispatched, leaving it as is")
	case err != nil && sent:
		// The delivery row lets the next pass reschedule without resending.
		log.Error("failed to reschedule after send", "error", err)
		d.capture(err, &due)
	case err != nil:
		log.Error("failed to reschedule", "error", err)
		d.capture(err, &due)
	}
}

func (d *Dispatcher) release(ctx context.Context, log logger.Logger, due occasions.DueOccasion) {
	if err := d.store.ReleaseClaim(context.WithoutCancel(ctx), due.Date.ID, due.LeaseToken); err != nil {
		log.Error("failed to release claim", "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, log logger.Logger, delivery *occasions.Delivery) {
	if err := d.store.RecordDelivery(context.WithoutCancel(ctx), delivery); err != nil {
		log.Error("failed to record delivery", "status", string(delivery.Status), "error", err)
	}
}

func (d *Dispatcher) capture(err error, due *occasions.DueOccasion) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "scheduler")
		if due != nil {
			scope.SetTag("occasion_type", string(due.Date.Type))
			scope.SetTag("contact_id", due.Date.ContactID)
			scope.SetTag("date_id", due.Date.ID)
		}
		hub.CaptureException(err)
	})
}

func message(due *occasions.DueOccasion, tmpl *occasions.EmailTemplate, rendered occasions.RenderedEmail, key string) email.Message {
	return email.Message{
		ToEmail:    due.Contact.Email,
		ToName:     due.Contact.FullName(),
		ReplyTo:    due.Contact.OwnerEmail,
		ReplyName:  due.Contact.OwnerName,
		Subject:    rendered.Subject,
		HTML:       rendered.HTML,
		Text:       rendered.Text,
		Categories: []string{"occasion", string(due.Date.Type)},
		CustomArgs: map[string]string{
			"occurrence_key": key,
			"contact_id":     due.Date.ContactID,
			"date_id":        due.Date.ID,
			"template_id":    tmpl.ID,
		},
	}
}
