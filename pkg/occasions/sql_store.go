package occasions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/occasions/pkg/database"
	"github.com/jordanlanch/occasions/pkg/domain"
)

const (
	dateColumns = `d.id, d.contact_id, d.occasion_type, d.label, d.notes, d.day_month, d.origin_year,
		d.send_time, d.timezone, d.email_template_id, d.repeat_annually, d.opt_out, d.is_active,
		d.next_send_at, d.last_sent_at, d.created_at, d.updated_at`
	contactColumns = `c.id, c.first_name, c.last_name, c.email, c.phone, c.company, c.title,
		c.owner_name, c.owner_email, c.created_at, c.updated_at`
	templateColumns = `id, name, description, template_type, subject, html_body, text_body,
		is_active, is_default, created_at`
	deliveryColumns = `id, contact_id, date_id, template_id, occurrence_key, recipient, subject,
		status, message_id, error, manual, created_at`
)

// SQLStore implements Store on database/sql. It runs on postgres in
// production and on sqlite in tests.
type SQLStore struct {
	db *database.Client
}

// NewSQLStore creates a store over an opened database client.
func NewSQLStore(db *database.Client) *SQLStore {
	return &SQLStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// ListDue returns active, non-opted-out entries due at or before the cutoff.
func (s *SQLStore) ListDue(ctx context.Context, before time.Time) ([]DueOccasion, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(`
		SELECT `+dateColumns+`, `+contactColumns+`
		FROM important_dates d
		JOIN contacts c ON c.id = d.contact_id
		WHERE d.is_active = ? AND d.opt_out = ?
			AND d.next_send_at IS NOT NULL AND d.next_send_at <= ?
		ORDER BY d.next_send_at ASC`),
		true, false, before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list due dates: %w", err)
	}
	return scanDueRows(rows, "")
}

// ClaimDue leases due entries to one scheduler pass. The outer lease check
// makes a concurrent claimer skip rows that were leased while it waited.
func (s *SQLStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DueOccasion, error) {
	token := uuid.NewString()
	nowMs := now.UnixMilli()

	_, err := s.db.DB.ExecContext(ctx, s.q(`
		UPDATE important_dates
		SET lease_until = ?, lease_token = ?
		WHERE lease_until < ? AND id IN (
			SELECT id FROM important_dates
			WHERE is_active = ? AND next_send_at IS NOT NULL AND next_send_at <= ?
				AND lease_until < ?
			ORDER BY next_send_at ASC
			LIMIT ?
		)`),
		now.Add(lease).UnixMilli(), token, nowMs, true, nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due dates: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx, s.q(`
		SELECT `+dateColumns+`, `+contactColumns+`
		FROM important_dates d
		JOIN contacts c ON c.id = d.contact_id
		WHERE d.lease_token = ?
		ORDER BY d.next_send_at ASC`), token)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed dates: %w", err)
	}
	return scanDueRows(rows, token)
}

// ReleaseClaim drops a lease so the entry is retried by the next pass.
func (s *SQLStore) ReleaseClaim(ctx context.Context, dateID, leaseToken string) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(`
		UPDATE important_dates SET lease_until = 0, lease_token = ''
		WHERE id = ? AND lease_token = ?`), dateID, leaseToken)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// Reschedule commits the post-dispatch state and drops the lease.
func (s *SQLStore) Reschedule(ctx context.Context, r Reschedule) error {
	res, err := s.db.DB.ExecContext(ctx, s.q(`
		UPDATE important_dates
		SET next_send_at = ?, is_active = ?, last_sent_at = COALESCE(?, last_sent_at),
			lease_until = 0, lease_token = '', updated_at = ?
		WHERE id = ? AND contact_id = ? AND lease_token = ? AND next_send_at = ? AND is_active = ?`),
		nullMillis(r.NextSendAt), r.IsActive, nullMillis(r.LastSentAt), r.UpdatedAt.UnixMilli(),
		r.DateID, r.ContactID, r.LeaseToken, r.ExpectedNextSendAt.UnixMilli(), true)
	if err != nil {
		return fmt.Errorf("failed to reschedule date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reschedule date: %w", err)
	}
	if n == 0 {
		return ErrStaleClaim
	}
	return nil
}

// Get loads one important date of a contact.
func (s *SQLStore) Get(ctx context.Context, contactID, dateID string) (*ImportantDate, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+dateColumns+` FROM important_dates d
		WHERE d.id = ? AND d.contact_id = ?`), dateID, contactID)

	date, err := scanDate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("Important date")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch important date: %w", err)
	}
	return date, nil
}

// GetDue loads one important date with its contact.
func (s *SQLStore) GetDue(ctx context.Context, contactID, dateID string) (*DueOccasion, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+dateColumns+`, `+contactColumns+`
		FROM important_dates d
		JOIN contacts c ON c.id = d.contact_id
		WHERE d.id = ? AND d.contact_id = ?`), dateID, contactID)

	due, err := scanDue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("Important date")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch important date: %w", err)
	}
	return due, nil
}

// List returns a contact's important dates matching the filter.
func (s *SQLStore) List(ctx context.Context, contactID string, filter DateFilter, now time.Time) ([]ImportantDate, error) {
	if _, err := s.GetContact(ctx, contactID); err != nil {
		return nil, err
	}

	var (
		where = []string{"d.contact_id = ?"}
		args  = []any{contactID}
	)
	if filter.Type != nil {
		where = append(where, "d.occasion_type = ?")
		args = append(args, string(*filter.Type))
	}
	if filter.IsActive != nil {
		where = append(where, "d.is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if filter.UpcomingDays != nil {
		horizon := now.Add(time.Duration(*filter.UpcomingDays) * 24 * time.Hour)
		where = append(where, "d.next_send_at IS NOT NULL AND d.next_send_at >= ? AND d.next_send_at <= ?")
		args = append(args, now.UnixMilli(), horizon.UnixMilli())
	}

	rows, err := s.db.DB.QueryContext(ctx, s.q(`
		SELECT `+dateColumns+` FROM important_dates d
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY d.created_at ASC, d.id ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list important dates: %w", err)
	}
	defer rows.Close()

	dates := []ImportantDate{}
	for rows.Next() {
		date, err := scanDate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan important date: %w", err)
		}
		dates = append(dates, *date)
	}
	return dates, rows.Err()
}

// Upsert inserts a new important date or replaces the mutable fields of an
// existing one belonging to the same contact. Lease columns are untouched.
func (s *SQLStore) Upsert(ctx context.Context, contactID string, date *ImportantDate) error {
	if _, err := s.GetContact(ctx, contactID); err != nil {
		return err
	}
	if date.ID == "" {
		date.ID = uuid.NewString()
	}
	date.ContactID = contactID

	res, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO important_dates (
			id, contact_id, occasion_type, label, notes, day_month, origin_year, send_time, timezone,
			email_template_id, repeat_annually, opt_out, is_active, next_send_at, last_sent_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			occasion_type = excluded.occasion_type,
			label = excluded.label,
			notes = excluded.notes,
			day_month = excluded.day_month,
			origin_year = excluded.origin_year,
			send_time = excluded.send_time,
			timezone = excluded.timezone,
			email_template_id = excluded.email_template_id,
			repeat_annually = excluded.repeat_annually,
			opt_out = excluded.opt_out,
			is_active = excluded.is_active,
			next_send_at = excluded.next_send_at,
			updated_at = excluded.updated_at
		WHERE important_dates.contact_id = excluded.contact_id`),
		date.ID, contactID, string(date.Type), date.Label, date.Notes, date.Date, nullInt(date.Year),
		date.SendTime, date.Timezone, date.EmailTemplateID, date.RepeatAnnually, date.OptOut,
		date.IsActive, nullMillis(date.NextSendAt), nullMillis(date.LastSentAt),
		date.CreatedAt.UnixMilli(), date.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save important date: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewNotFoundError("Important date")
	}
	return nil
}

// Remove deletes an important date from a contact.
func (s *SQLStore) Remove(ctx context.Context, contactID, dateID string) error {
	res, err := s.db.DB.ExecContext(ctx, s.q(`
		DELETE FROM important_dates WHERE id = ? AND contact_id = ?`), dateID, contactID)
	if err != nil {
		return fmt.Errorf("failed to delete important date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete important date: %w", err)
	}
	if n == 0 {
		if _, err := s.GetContact(ctx, contactID); err != nil {
			return err
		}
		return domain.NewNotFoundError("Important date")
	}
	return nil
}

// CreateContact inserts a contact.
func (s *SQLStore) CreateContact(ctx context.Context, c *Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO contacts (id, first_name, last_name, email, phone, company, title,
			owner_name, owner_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.Title,
		c.OwnerName, c.OwnerEmail, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetContact loads a contact.
func (s *SQLStore) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+contactColumns+` FROM contacts c WHERE c.id = ?`), contactID)

	var c Contact
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Company, &c.Title,
		&c.OwnerName, &c.OwnerEmail, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("Contact")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact: %w", err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

// CreateTemplate inserts an email template.
func (s *SQLStore) CreateTemplate(ctx context.Context, t *EmailTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO email_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Description, t.Type, t.Subject, t.HTMLBody, t.TextBody,
		t.IsActive, t.IsDefault, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create email template: %w", err)
	}
	return nil
}

// GetTemplate loads an email template.
func (s *SQLStore) GetTemplate(ctx context.Context, templateID string) (*EmailTemplate, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT `+templateColumns+` FROM email_templates WHERE id = ?`), templateID)

	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("Email template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch email template: %w", err)
	}
	return t, nil
}

// ListTemplates returns templates matching the filter.
func (s *SQLStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]EmailTemplate, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "template_type = ?")
		args = append(args, filter.Type)
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}

	query := `SELECT ` + templateColumns + ` FROM email_templates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list email templates: %w", err)
	}
	defer rows.Close()

	templates := []EmailTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// RecordDelivery appends to the delivery log.
func (s *SQLStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.DB.ExecContext(ctx, s.q(`
		INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.ContactID, d.DateID, d.TemplateID, d.OccurrenceKey, d.Recipient, d.Subject,
		string(d.Status), d.MessageID, d.Error, d.Manual, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the delivery log of one important date, newest first.
func (s *SQLStore) ListDeliveries(ctx context.Context, contactID, dateID string) ([]Delivery, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.q(`
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE contact_id = ? AND date_id = ?
		ORDER BY created_at DESC, id ASC`), contactID, dateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		var (
			d         Delivery
			status    string
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.ContactID, &d.DateID, &d.TemplateID, &d.OccurrenceKey,
			&d.Recipient, &d.Subject, &status, &d.MessageID, &d.Error, &d.Manual, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Status = DeliveryStatus(status)
		d.CreatedAt = fromMillis(createdAt)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// HasDelivered reports whether an occurrence was already sent.
func (s *SQLStore) HasDelivered(ctx context.Context, occurrenceKey string) (bool, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM deliveries WHERE occurrence_key = ? AND status = ?`),
		occurrenceKey, string(DeliverySent)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery log: %w", err)
	}
	return n > 0, nil
}

func scanDueRows(rows *sql.Rows, token string) ([]DueOccasion, error) {
	defer rows.Close()

	due := []DueOccasion{}
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due date: %w", err)
		}
		d.LeaseToken = token
		due = append(due, *d)
	}
	return due, rows.Err()
}

func scanDate(row rowScanner) (*ImportantDate, error) {
	var d ImportantDate
	dest, finish := dateDest(&d)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &d, nil
}

func scanDue(row rowScanner) (*DueOccasion, error) {
	var (
		due                  DueOccasion
		createdAt, updatedAt int64
	)
	dest, finish := dateDest(&due.Date)
	c := &due.Contact
	dest = append(dest, &c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Company,
		&c.Title, &c.OwnerName, &c.OwnerEmail, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &due, nil
}

// dateDest returns scan targets for dateColumns and a func that copies the
// nullable values into d once Scan succeeded.
func dateDest(d *ImportantDate) ([]any, func()) {
	var (
		typ                  string
		year                 sql.NullInt64
		nextSend, lastSent   sql.NullInt64
		createdAt, updatedAt int64
	)
	dest := []any{&d.ID, &d.ContactID, &typ, &d.Label, &d.Notes, &d.Date, &year,
		&d.SendTime, &d.Timezone, &d.EmailTemplateID, &d.RepeatAnnually, &d.OptOut, &d.IsActive,
		&nextSend, &lastSent, &createdAt, &updatedAt}

	return dest, func() {
		d.Type = OccasionType(typ)
		if year.Valid {
			y := int(year.Int64)
			d.Year = &y
		}
		d.NextSendAt = timePtr(nextSend)
		d.LastSentAt = timePtr(lastSent)
		d.CreatedAt = fromMillis(createdAt)
		d.UpdatedAt = fromMillis(updatedAt)
	}
}

func scanTemplate(row rowScanner) (*EmailTemplate, error) {
	var (
		t         EmailTemplate
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Type, &t.Subject, &t.HTMLBody,
		&t.TextBody, &t.IsActive, &t.IsDefault, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
