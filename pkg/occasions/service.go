package occasions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/recurrence"
)

// Service handles important date, contact and template operations.
type Service struct {
	store     Store
	clock     clock.Clock
	validator *validator.Validate
}

// NewService creates a new occasions service.
func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store:     store,
		clock:     clk,
		validator: NewValidator(),
	}
}

// Store exposes the underlying store to the dispatcher and exporters.
func (s *Service) Store() Store {
	return s.store
}

// CreateDateRequest represents a request to add an important date to a contact.
type CreateDateRequest struct {
	Type            OccasionType `json:"type" validate:"required,oneof=birthday anniversary work_anniversary custom"`
	Label           string       `json:"label" validate:"max=100"`
	Notes           string       `json:"notes" validate:"max=2000"`
	Date            string       `json:"date" validate:"required,daymonth"`
	Year            *int         `json:"year,omitempty" validate:"omitempty,min=1900,max=2100"`
	SendTime        string       `json:"send_time" validate:"omitempty,clocktime"`
	Timezone        string       `json:"timezone" validate:"omitempty,timezone"`
	EmailTemplateID string       `json:"email_template_id" validate:"required"`
	RepeatAnnually  *bool        `json:"repeat_annually,omitempty"`
	OptOut          bool         `json:"opt_out"`
}

// UpdateDateRequest represents a partial update. At least one field must be set.
type UpdateDateRequest struct {
	Type            *OccasionType `json:"type,omitempty" validate:"omitempty,oneof=birthday anniversary work_anniversary custom"`
	Label           *string       `json:"label,omitempty" validate:"omitempty,max=100"`
	Notes           *string       `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Date            *string       `json:"date,omitempty" validate:"omitempty,daymonth"`
	Year            *int          `json:"year,omitempty" validate:"omitempty,min=1900,max=2100"`
	SendTime        *string       `json:"send_time,omitempty" validate:"omitempty,clocktime"`
	Timezone        *string       `json:"timezone,omitempty" validate:"omitempty,timezone"`
	EmailTemplateID *string       `json:"email_template_id,omitempty" validate:"omitempty,min=1"`
	RepeatAnnually  *bool         `json:"repeat_annually,omitempty"`
	OptOut          *bool         `json:"opt_out,omitempty"`
	IsActive        *bool         `json:"is_active,omitempty"`
}

func (r UpdateDateRequest) empty() bool {
	return r.Type == nil && r.Label == nil && r.Notes == nil && r.Date == nil && r.Year == nil &&
		r.SendTime == nil && r.Timezone == nil && r.EmailTemplateID == nil &&
		r.RepeatAnnually == nil && r.OptOut == nil && r.IsActive == nil
}

// CreateContactRequest represents a request to create a contact.
type CreateContactRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"max=32"`
	Country    string `json:"country" validate:"omitempty,len=2"`
	Company    string `json:"company" validate:"max=200"`
	Title      string `json:"title" validate:"max=200"`
	OwnerName  string `json:"owner_name" validate:"max=100"`
	OwnerEmail string `json:"owner_email" validate:"omitempty,email"`
}

// CreateTemplateRequest represents a request to create an email template.
type CreateTemplateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
	Type        string `json:"type" validate:"omitempty,oneof=birthday anniversary work_anniversary custom any"`
	Subject     string `json:"subject" validate:"required,max=300"`
	HTMLBody    string `json:"html_body" validate:"required_without=TextBody"`
	TextBody    string `json:"text_body"`
	IsActive    *bool  `json:"is_active,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// TemplateSummary is the part of a template shown next to a date.
type TemplateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DateResponse is an important date with its template summary.
type DateResponse struct {
	ImportantDate
	Template *TemplateSummary `json:"template,omitempty"`
}

// CreateContact validates and stores a contact.
func (s *Service) CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	phone := ""
	if strings.TrimSpace(req.Phone) != "" {
		normalized, err := NormalizePhone(req.Phone, strings.ToUpper(req.Country))
		if err != nil {
			return nil, domain.NewValidationErrorWrap("phone must be a valid phone number", err)
		}
		phone = normalized
	}

	now := s.clock.Now().UTC()
	contact := &Contact{
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:      phone,
		Company:    req.Company,
		Title:      req.Title,
		OwnerName:  req.OwnerName,
		OwnerEmail: req.OwnerEmail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// GetContact returns a contact by id.
func (s *Service) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	return s.store.GetContact(ctx, contactID)
}

// CreateDate adds an important date to a contact and schedules its first send.
func (s *Service) CreateDate(ctx context.Context, contactID string, req CreateDateRequest) (*ImportantDate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		return nil, err
	}
	if err := s.requireTemplate(ctx, req.EmailTemplateID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	date := &ImportantDate{
		Type:            req.Type,
		Label:           strings.TrimSpace(req.Label),
		Notes:           req.Notes,
		Date:            req.Date,
		Year:            req.Year,
		SendTime:        orDefault(req.SendTime, recurrence.DefaultSendTime),
		Timezone:        orDefault(req.Timezone, recurrence.DefaultTimezone),
		EmailTemplateID: req.EmailTemplateID,
		RepeatAnnually:  true,
		OptOut:          req.OptOut,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.RepeatAnnually != nil {
		date.RepeatAnnually = *req.RepeatAnnually
	}
	if err := s.schedule(date, now); err != nil {
		return nil, err
	}

	if err := s.store.Upsert(ctx, contactID, date); err != nil {
		return nil, err
	}
	return date, nil
}

// GetDate returns one important date with its template summary.
func (s *Service) GetDate(ctx context.Context, contactID, dateID string) (*DateResponse, error) {
	date, err := s.store.Get(ctx, contactID, dateID)
	if err != nil {
		return nil, err
	}

	resp := &DateResponse{ImportantDate: *date}
	tmpl, err := s.store.GetTemplate(ctx, date.EmailTemplateID)
	switch {
	case err == nil:
		resp.Template = &TemplateSummary{ID: tmpl.ID, Name: tmpl.Name, Description: tmpl.Description}
	case !domain.IsNotFound(err):
		return nil, err
	}
	return resp, nil
}

// ListDates returns a contact's important dates.
func (s *Service) ListDates(ctx context.Context, contactID string, filter DateFilter) ([]ImportantDate, error) {
	if filter.Type != nil {
		if err := s.validator.Var(string(*filter.Type), "oneof=birthday anniversary work_anniversary custom"); err != nil {
			return nil, domain.NewValidationError("type must be one of: birthday anniversary work_anniversary custom")
		}
	}
	if filter.UpcomingDays != nil && (*filter.UpcomingDays < 0 || *filter.UpcomingDays > 366) {
		return nil, domain.NewValidationError("upcoming must be between 0 and 366 days")
	}
	return s.store.List(ctx, contactID, filter, s.clock.Now())
}

// UpdateDate applies a partial update. nextSendAt is recomputed when the
// schedule inputs change or an inactive entry is re-activated.
func (s *Service) UpdateDate(ctx context.Context, contactID, dateID string, req UpdateDateRequest) (*ImportantDate, error) {
	if req.empty() {
		return nil, domain.NewValidationError("At least one field must be provided")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	date, err := s.store.Get(ctx, contactID, dateID)
	if err != nil {
		return nil, err
	}

	reschedule := false
	if req.Type != nil {
		date.Type = *req.Type
	}
	if req.Label != nil {
		date.Label = strings.TrimSpace(*req.Label)
	}
	if req.Notes != nil {
		date.Notes = *req.Notes
	}
	if req.Year != nil {
		date.Year = req.Year
	}
	if req.Date != nil && *req.Date != date.Date {
		date.Date = *req.Date
		reschedule = true
	}
	if req.SendTime != nil && *req.SendTime != date.SendTime {
		date.SendTime = *req.SendTime
		reschedule = true
	}
	if req.Timezone != nil {
		if tz := orDefault(*req.Timezone, recurrence.DefaultTimezone); tz != date.Timezone {
			date.Timezone = tz
			reschedule = true
		}
	}
	if req.EmailTemplateID != nil && *req.EmailTemplateID != date.EmailTemplateID {
		if err := s.requireTemplate(ctx, *req.EmailTemplateID); err != nil {
			return nil, err
		}
		date.EmailTemplateID = *req.EmailTemplateID
	}
	if req.RepeatAnnually != nil {
		date.RepeatAnnually = *req.RepeatAnnually
	}
	if req.OptOut != nil {
		date.OptOut = *req.OptOut
	}
	if req.IsActive != nil {
		if *req.IsActive && !date.IsActive {
			reschedule = true
		}
		date.IsActive = *req.IsActive
	}

	now := s.clock.Now().UTC()
	if reschedule && date.IsActive {
		if err := s.schedule(date, now); err != nil {
			return nil, err
		}
	}
	date.UpdatedAt = now

	if err := s.store.Upsert(ctx, contactID, date); err != nil {
		return nil, err
	}
	return date, nil
}

// DeleteDate removes an important date from a contact.
func (s *Service) DeleteDate(ctx context.Context, contactID, dateID string) error {
	return s.store.Remove(ctx, contactID, dateID)
}

// ListDeliveries returns the delivery log of an important date.
func (s *Service) ListDeliveries(ctx context.Context, contactID, dateID string) ([]Delivery, error) {
	if _, err := s.store.Get(ctx, contactID, dateID); err != nil {
		return nil, err
	}
	return s.store.ListDeliveries(ctx, contactID, dateID)
}

// ListDue returns entries whose send time has arrived.
func (s *Service) ListDue(ctx context.Context) ([]DueOccasion, error) {
	return s.store.ListDue(ctx, s.clock.Now())
}

// Upcoming returns active entries due within the next days, overdue ones included.
func (s *Service) Upcoming(ctx context.Context, days int) ([]DueOccasion, error) {
	if days < 1 || days > 366 {
		return nil, domain.NewValidationError("days must be between 1 and 366")
	}
	return s.store.ListDue(ctx, s.clock.Now().Add(time.Duration(days)*24*time.Hour))
}

// ListTemplates returns email templates matching the filter.
func (s *Service) ListTemplates(ctx context.Context, filter TemplateFilter) ([]EmailTemplate, error) {
	return s.store.ListTemplates(ctx, filter)
}

// CreateTemplate validates and stores an email template.
func (s *Service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*EmailTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	tmpl := &EmailTemplate{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Type:        orDefault(req.Type, TemplateTypeAny),
		Subject:     req.Subject,
		HTMLBody:    req.HTMLBody,
		TextBody:    req.TextBody,
		IsActive:    true,
		IsDefault:   req.IsDefault,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if req.IsActive != nil {
		tmpl.IsActive = *req.IsActive
	}
	if err := s.store.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (s *Service) requireTemplate(ctx context.Context, templateID string) error {
	_, err := s.store.GetTemplate(ctx, templateID)
	if domain.IsNotFound(err) {
		return domain.NewValidationError(fmt.Sprintf("email_template_id %q does not reference an existing template", templateID))
	}
	return err
}

func (s *Service) schedule(date *ImportantDate, now time.Time) error {
	next, err := recurrence.NextSend(date.Date, date.SendTime, date.Timezone, now)
	if err != nil {
		return domain.NewValidationErrorWrap(err.Error(), err)
	}
	next = next.UTC()
	date.NextSendAt = &next
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
