package occasions

import (
	"context"
	"errors"
	"time"
)

// ErrStaleClaim is returned by Reschedule when the entry moved since it was
// claimed, for instance because an overlapping pass already handled it.
var ErrStaleClaim = errors.New("important date changed since it was claimed")

// Store is the persistence contract for important dates and the
// collaborator entities they reference. Every write is scoped to a single
// contact.
type Store interface {
	// ListDue returns active, non-opted-out entries due at or before the cutoff.
	ListDue(ctx context.Context, before time.Time) ([]DueOccasion, error)
	// ClaimDue leases up to limit due active entries to the caller. Opted-out
	// entries are included so they can be suppressed.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DueOccasion, error)
	ReleaseClaim(ctx context.Context, dateID, leaseToken string) error
	Reschedule(ctx context.Context, r Reschedule) error

	Get(ctx context.Context, contactID, dateID string) (*ImportantDate, error)
	GetDue(ctx context.Context, contactID, dateID string) (*DueOccasion, error)
	List(ctx context.Context, contactID string, filter DateFilter, now time.Time) ([]ImportantDate, error)
	Upsert(ctx context.Context, contactID string, date *ImportantDate) error
	Remove(ctx context.Context, contactID, dateID string) error

	CreateContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, contactID string) (*Contact, error)

	CreateTemplate(ctx context.Context, tmpl *EmailTemplate) error
	GetTemplate(ctx context.Context, templateID string) (*EmailTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]EmailTemplate, error)

	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, contactID, dateID string) ([]Delivery, error)
	HasDelivered(ctx context.Context, occurrenceKey string) (bool, error)
}
