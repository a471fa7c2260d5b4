package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jordanlanch/occasions/pkg/database"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/stretchr/testify/require"
)

// Greeting bodies per occasion type
var templateBodies = map[occasions.OccasionType]struct {
	Subject string
	HTML    string
	Text    string
}{
	occasions.TypeBirthday: {
		Subject: "Happy Birthday, {{first_name}}!",
		HTML:    "<p>Hi {{first_name}},</p><p>Everyone at {{company_name}} wishes you a great day.</p><p>{{sender_name}}</p>",
		Text:    "Hi {{first_name}}, everyone at {{company_name}} wishes you a great day. {{sender_name}}",
	},
	occasions.TypeAnniversary: {
		Subject: "Happy Anniversary, {{first_name}}",
		HTML:    "<p>Dear {{full_name}}, congratulations on your anniversary!</p>",
		Text:    "Dear {{full_name}}, congratulations on your anniversary!",
	},
	occasions.TypeWorkAnniversary: {
		Subject: "Congrats on another year at {{company_name}}",
		HTML:    "<p>{{first_name}}, congratulations on your work anniversary as {{designation}}.</p>",
		Text:    "{{first_name}}, congratulations on your work anniversary as {{designation}}.",
	},
	occasions.TypeCustom: {
		Subject: "{{occasion_label}}",
		HTML:    "<p>Thinking of you on {{occasion_label}}, {{first_name}}.</p>",
		Text:    "Thinking of you on {{occasion_label}}, {{first_name}}.",
	},
}

// DateConfig configures a generated important date. Zero values are
// replaced with random but valid choices.
type DateConfig struct {
	Type           occasions.OccasionType
	Date           string
	SendTime       string
	Timezone       string
	RepeatAnnually *bool
	OptOut         bool
	Inactive       bool
	NextSendAt     *time.Time
}

// OpenDatabase opens a private in-memory sqlite database with the schema applied.
func OpenDatabase(t testing.TB) *database.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	client, err := database.NewClient(database.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// OpenStore returns a SQL store over a fresh database.
func OpenStore(t testing.TB) *occasions.SQLStore {
	t.Helper()
	return occasions.NewSQLStore(OpenDatabase(t))
}

// GenerateContact creates a contact with realistic data
func GenerateContact() *occasions.Contact {
	now := time.Now().UTC()
	first := gofakeit.FirstName()
	last := gofakeit.LastName()
	return &occasions.Contact{
		FirstName:  first,
		LastName:   last,
		Email:      gofakeit.Email(),
		Company:    gofakeit.Company(),
		Title:      gofakeit.JobTitle(),
		OwnerName:  gofakeit.Name(),
		OwnerEmail: gofakeit.Email(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// GenerateTemplate creates an active template for an occasion type
func GenerateTemplate(typ occasions.OccasionType) *occasions.EmailTemplate {
	body, ok := templateBodies[typ]
	if !ok {
		body = templateBodies[occasions.TypeCustom]
	}
	return &occasions.EmailTemplate{
		Name:        fmt.Sprintf("%s %s", typ.Label(), gofakeit.BuzzWord()),
		Description: gofakeit.Sentence(6),
		Type:        string(typ),
		Subject:     body.Subject,
		HTMLBody:    body.HTML,
		TextBody:    body.Text,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

// GenerateDate creates an important date from a config
func GenerateDate(config DateConfig, templateID string) *occasions.ImportantDate {
	if config.Type == "" {
		config.Type = pickRandomType()
	}
	if config.Date == "" {
		d := gofakeit.DateRange(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2000, 12, 28, 0, 0, 0, 0, time.UTC))
		config.Date = d.Format("02-01")
	}
	if config.SendTime == "" {
		config.SendTime = "09:00"
	}
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}

	now := time.Now().UTC()
	date := &occasions.ImportantDate{
		Type:            config.Type,
		Date:            config.Date,
		SendTime:        config.SendTime,
		Timezone:        config.Timezone,
		EmailTemplateID: templateID,
		RepeatAnnually:  true,
		OptOut:          config.OptOut,
		IsActive:        !config.Inactive,
		NextSendAt:      config.NextSendAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if config.RepeatAnnually != nil {
		date.RepeatAnnually = *config.RepeatAnnually
	}
	if config.Type == occasions.TypeCustom {
		date.Label = gofakeit.HipsterWord() + " day"
	}
	return date
}

// Seeded is a contact with one template and one important date.
type Seeded struct {
	Contact  *occasions.Contact
	Template *occasions.EmailTemplate
	Date     *occasions.ImportantDate
}

// SeedOccasion inserts a generated contact, template and date.
func SeedOccasion(t testing.TB, store occasions.Store, config DateConfig) Seeded {
	t.Helper()
	ctx := context.Background()

	contact := GenerateContact()
	require.NoError(t, store.CreateContact(ctx, contact))

	typ := config.Type
	if typ == "" {
		typ = pickRandomType()
		config.Type = typ
	}
	tmpl := GenerateTemplate(typ)
	require.NoError(t, store.CreateTemplate(ctx, tmpl))

	date := GenerateDate(config, tmpl.ID)
	require.NoError(t, store.Upsert(ctx, contact.ID, date))

	return Seeded{Contact: contact, Template: tmpl, Date: date}
}

func pickRandomType() occasions.OccasionType {
	types := []occasions.OccasionType{
		occasions.TypeBirthday, occasions.TypeAnniversary,
		occasions.TypeWorkAnniversary, occasions.TypeCustom,
	}
	return types[rand.Intn(len(types))]
}
