package occasions

import "time"

// OccasionType classifies an important date.
type OccasionType string

const (
	TypeBirthday        OccasionType = "birthday"
	TypeAnniversary     OccasionType = "anniversary"
	TypeWorkAnniversary OccasionType = "work_anniversary"
	TypeCustom          OccasionType = "custom"

	// TemplateTypeAny marks a template usable for every occasion.
	TemplateTypeAny = "any"
)

// Priority orders entries within a scheduler pass; lower goes first.
func (t OccasionType) Priority() int {
	switch t {
	case TypeBirthday:
		return 1
	case TypeAnniversary:
		return 2
	case TypeWorkAnniversary:
		return 3
	default:
		return 5
	}
}

// Label is the human wording used in templates.
func (t OccasionType) Label() string {
	switch t {
	case TypeBirthday:
		return "Birthday"
	case TypeAnniversary:
		return "Anniversary"
	case TypeWorkAnniversary:
		return "Work Anniversary"
	default:
		return "Special Occasion"
	}
}

// ImportantDate is an occasion attached to a contact.
type ImportantDate struct {
	ID              string       `json:"id"`
	ContactID       string       `json:"contact_id"`
	Type            OccasionType `json:"type"`
	Label           string       `json:"label,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Date            string       `json:"date"`
	Year            *int         `json:"year,omitempty"`
	SendTime        string       `json:"send_time"`
	Timezone        string       `json:"timezone"`
	EmailTemplateID string       `json:"email_template_id"`
	RepeatAnnually  bool         `json:"repeat_annually"`
	OptOut          bool         `json:"opt_out"`
	IsActive        bool         `json:"is_active"`
	NextSendAt      *time.Time   `json:"next_send_at,omitempty"`
	LastSentAt      *time.Time   `json:"last_sent_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DisplayLabel prefers the custom label over the type wording.
func (d *ImportantDate) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Type.Label()
}

// Contact is the owner of important dates. Only the fields needed to
// address and personalise a greeting are kept here.
type Contact struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Company    string    `json:"company,omitempty"`
	Title      string    `json:"title,omitempty"`
	OwnerName  string    `json:"owner_name,omitempty"`
	OwnerEmail string    `json:"owner_email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// EmailTemplate is a greeting body with {{token}} placeholders.
type EmailTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Subject     string    `json:"subject"`
	HTMLBody    string    `json:"html_body,omitempty"`
	TextBody    string    `json:"text_body,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// DueOccasion is an important date together with its contact, as handed to
// the dispatcher.
type DueOccasion struct {
	Date       ImportantDate
	Contact    Contact
	LeaseToken string
}

// DeliveryStatus records the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliverySuppressed DeliveryStatus = "suppressed"
	DeliveryDryRun     DeliveryStatus = "dry_run"
)

// Delivery is an entry in the delivery log.
type Delivery struct {
	ID            string         `json:"id"`
	ContactID     string         `json:"contact_id"`
	DateID        string         `json:"date_id"`
	TemplateID    string         `json:"template_id,omitempty"`
	OccurrenceKey string         `json:"occurrence_key,omitempty"`
	Recipient     string         `json:"recipient,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Status        DeliveryStatus `json:"status"`
	MessageID     string         `json:"message_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Manual        bool           `json:"manual"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DateFilter narrows List results. Nil fields do not filter.
type DateFilter struct {
	Type         *OccasionType
	IsActive     *bool
	UpcomingDays *int
}

// TemplateFilter narrows ListTemplates results.
type TemplateFilter struct {
	Type     string
	IsActive *bool
}

// Reschedule is the state transition committed after a scheduled dispatch.
// The write only applies while the row still carries ExpectedNextSendAt and
// LeaseToken.
type Reschedule struct {
	ContactID          string
	DateID             string
	LeaseToken         string
	ExpectedNextSendAt time.Time
	NextSendAt         *time.Time
	IsActive           bool
	LastSentAt         *time.Time
	UpdatedAt          time.Time
}
