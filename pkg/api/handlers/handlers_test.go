package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jordanlanch/occasions/pkg/email"
	"github.com/jordanlanch/occasions/pkg/logger"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/jordanlanch/occasions/pkg/testdata"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *occasions.SQLStore
	service    *occasions.Service
	dispatcher *scheduler.Dispatcher
	clock      *clock.Mock
}

func setupHandlers(t *testing.T) fixture {
	t.Helper()
	store := testdata.OpenStore(t)
	clk := clock.NewMock()
	clk.Set(testNow)

	sender := email.NewService(email.Config{FromEmail: "noreply@example.com", FromName: "Occasions"}, logger.Discard())
	return fixture{
		store:      store,
		service:    occasions.NewService(store, clk),
		dispatcher: scheduler.NewDispatcher(store, sender, nil, nil, logger.Discard(), clk, scheduler.Config{}),
		clock:      clk,
	}
}

// newContext builds an echo context with path params set in order.
func newContext(method, target, body string, names []string, values ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

var (
	contactParam = []string{"contactId"}
	dateParams   = []string{"contactId", "dateId"}
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDateHandler_Create(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{Type: occasions.TypeBirthday})
	h := NewDateHandler(f.service, f.dispatcher)

	body := `{"type":"birthday","date":"25-12","send_time":"10:30","timezone":"Europe/Paris","email_template_id":"` + seeded.Template.ID + `"}`
	c, rec := newContext(http.MethodPost, "/", body, contactParam, seeded.Contact.ID)

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var date occasions.ImportantDate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &date))
	require.NotNil(t, date.NextSendAt)
	assert.True(t, date.NextSendAt.Equal(time.Date(2025, 12, 25, 9, 30, 0, 0, time.UTC)), "got %s", date.NextSendAt)
	assert.True(t, date.IsActive)
}

func TestDateHandler_Create_Invalid(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	h := NewDateHandler(f.service, f.dispatcher)

	tests := []struct {
		name string
		body string
	}{
		{"february 30", `{"type":"birthday","date":"30-02","email_template_id":"` + seeded.Template.ID + `"}`},
		{"bad time", `{"type":"birthday","date":"01-02","send_time":"25:00","email_template_id":"` + seeded.Template.ID + `"}`},
		{"unknown template", `{"type":"birthday","date":"01-02","email_template_id":"nope"}`},
		{"malformed json", `{"type":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodPost, "/", tt.body, contactParam, seeded.Contact.ID)
			require.NoError(t, h.Create(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decodeError(t, rec).Error)
		})
	}
}

func TestDateHandler_Create_UnknownContact(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	h := NewDateHandler(f.service, f.dispatcher)

	body := `{"type":"birthday","date":"01-02","email_template_id":"` + seeded.Template.ID + `"}`
	c, rec := newContext(http.MethodPost, "/", body, contactParam, "missing")

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDateHandler_ListAndGet(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{Type: occasions.TypeBirthday})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodGet, "/?type=birthday&isActive=true", "", contactParam, seeded.Contact.ID)
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var list models.ListResponse[occasions.ImportantDate]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, seeded.Date.ID, list.Data[0].ID)

	c, rec = newContext(http.MethodGet, "/", "", dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got occasions.DateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Template)
	assert.Equal(t, seeded.Template.Name, got.Template.Name)
}

func TestDateHandler_List_BadQuery(t *testing.T) {
	f := setupHandlers(t)
	h := NewDateHandler(f.service, f.dispatcher)

	for _, q := range []string{"?isActive=maybe", "?upcoming=soon", "?upcoming=400", "?type=wedding"} {
		c, rec := newContext(http.MethodGet, "/"+q, "", contactParam, "c1")
		require.NoError(t, h.List(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDateHandler_List_EmptyIsArray(t *testing.T) {
	f := setupHandlers(t)
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodGet, "/", "", contactParam, "nobody")
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestDateHandler_Get_WrongContact(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	other := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodGet, "/", "", dateParams, other.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDateHandler_Update(t *testing.T) {
	f := setupHandlers(t)
	next := time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{
		Type: occasions.TypeBirthday, Date: "25-12", SendTime: "09:00", NextSendAt: &next,
	})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodPut, "/", `{"notes":"likes tea"}`, dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Update(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got occasions.ImportantDate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "likes tea", got.Notes)
	assert.True(t, got.NextSendAt.Equal(next))

	c, rec = newContext(http.MethodPut, "/", `{"send_time":"15:00"}`, dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Update(c))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.NextSendAt.Equal(time.Date(2025, 12, 25, 15, 0, 0, 0, time.UTC)), "got %s", got.NextSendAt)
}

func TestDateHandler_Update_EmptyBody(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodPut, "/", `{}`, dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Update(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "At least one field must be provided", decodeError(t, rec).Message)
}

func TestDateHandler_Delete(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodDelete, "/", "", dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Delete(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, rec = newContext(http.MethodDelete, "/", "", dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Delete(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDateHandler_Send_LeavesScheduleUntouched(t *testing.T) {
	f := setupHandlers(t)
	next := time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{
		Type: occasions.TypeBirthday, Date: "25-12", NextSendAt: &next,
	})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodPost, "/", "", dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Send(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result scheduler.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)

	after, err := f.store.Get(context.Background(), seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, err)
	assert.True(t, after.NextSendAt.Equal(next))
	assert.Nil(t, after.LastSentAt)
	assert.True(t, after.IsActive)
}

func TestDateHandler_Send_TestMode(t *testing.T) {
	f := setupHandlers(t)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{Type: occasions.TypeBirthday})
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodPost, "/", `{"test_mode":true}`, dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Send(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result scheduler.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.DryRun)
	assert.Equal(t, "Happy Birthday, "+seeded.Contact.FirstName+"!", result.Subject)

	c, rec = newContext(http.MethodGet, "/", "", dateParams, seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, h.Deliveries(c))
	var list models.ListResponse[occasions.Delivery]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, occasions.DeliveryDryRun, list.Data[0].Status)
}

func TestDateHandler_Send_NotFound(t *testing.T) {
	f := setupHandlers(t)
	h := NewDateHandler(f.service, f.dispatcher)

	c, rec := newContext(http.MethodPost, "/", "", dateParams, "c1", "d1")
	require.NoError(t, h.Send(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContactHandler_CreateAndGet(t *testing.T) {
	f := setupHandlers(t)
	h := NewContactHandler(f.service)

	c, rec := newContext(http.MethodPost, "/", `{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"}`, nil)
	c.Set("user_email", "owner@example.com")
	require.NoError(t, h.Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created occasions.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "owner@example.com", created.OwnerEmail)

	c, rec = newContext(http.MethodGet, "/", "", contactParam, created.ID)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ada@example.com")
}

func TestContactHandler_Create_InvalidEmail(t *testing.T) {
	f := setupHandlers(t)
	h := NewContactHandler(f.service)

	c, rec := newContext(http.MethodPost, "/", `{"first_name":"Ada","email":"not-an-email"}`, nil)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplateHandler_CreateAndList(t *testing.T) {
	f := setupHandlers(t)
	h := NewTemplateHandler(f.service)

	body := `{"name":"Warm birthday","type":"birthday","subject":"Happy Birthday {{first_name}}","html_body":"<p>Hi</p>"}`
	c, rec := newContext(http.MethodPost, "/", body, nil)
	require.NoError(t, h.Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	c, rec = newContext(http.MethodGet, "/?type=birthday&isActive=true", "", nil)
	require.NoError(t, h.List(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var list models.ListResponse[occasions.EmailTemplate]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Warm birthday", list.Data[0].Name)
}

func TestAdminHandler_RunScheduler(t *testing.T) {
	f := setupHandlers(t)
	due := testNow.Add(-time.Hour)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{
		Type: occasions.TypeBirthday, Date: "01-06", SendTime: "11:00", NextSendAt: &due,
	})
	h := NewAdminHandler(f.dispatcher, f.service, time.Minute)

	c, rec := newContext(http.MethodGet, "/", "", nil)
	require.NoError(t, h.ListDue(c))
	assert.Contains(t, rec.Body.String(), seeded.Date.ID)

	c, rec = newContext(http.MethodPost, "/", "", nil)
	require.NoError(t, h.RunScheduler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result scheduler.PassResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Sent)

	after, err := f.store.Get(context.Background(), seeded.Contact.ID, seeded.Date.ID)
	require.NoError(t, err)
	assert.True(t, after.NextSendAt.Equal(time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)), "got %s", after.NextSendAt)
}

type stubRunner struct{ err error }

func (s stubRunner) RunOnce(ctx context.Context) (scheduler.PassResult, error) {
	return scheduler.PassResult{}, s.err
}

func TestAdminHandler_RunScheduler_Errors(t *testing.T) {
	f := setupHandlers(t)

	c, rec := newContext(http.MethodPost, "/", "", nil)
	require.NoError(t, NewAdminHandler(stubRunner{err: scheduler.ErrPassInProgress}, f.service, 0).RunScheduler(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, rec = newContext(http.MethodPost, "/", "", nil)
	require.NoError(t, NewAdminHandler(stubRunner{err: errors.New("db gone")}, f.service, 0).RunScheduler(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExportHandler_Upcoming(t *testing.T) {
	f := setupHandlers(t)
	next := testNow.Add(48 * time.Hour)
	seeded := testdata.SeedOccasion(t, f.store, testdata.DateConfig{Type: occasions.TypeBirthday, NextSendAt: &next})
	h := NewExportHandler(f.service, nil)

	c, rec := newContext(http.MethodGet, "/?days=7", "", nil)
	require.NoError(t, h.Upcoming(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "upcoming-occasions-7d.csv")
	assert.Contains(t, rec.Body.String(), seeded.Contact.Email)

	c, rec = newContext(http.MethodGet, "/?days=7&format=xlsx", "", nil)
	require.NoError(t, h.Upcoming(c))
	require.Equal(t, http.StatusOK, rec.Code)

	book, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Upcoming")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExportHandler_Upcoming_BadInput(t *testing.T) {
	f := setupHandlers(t)
	h := NewExportHandler(f.service, nil)

	for _, q := range []string{"?format=pdf", "?days=abc", "?days=0", "?days=400"} {
		c, rec := newContext(http.MethodGet, "/"+q, "", nil)
		require.NoError(t, h.Upcoming(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name  string
		db    Pinger
		cache Pinger
		want  int
	}{
		{"all up", stubPinger{}, stubPinger{}, http.StatusOK},
		{"no cache configured", stubPinger{}, nil, http.StatusOK},
		{"db down", stubPinger{err: errors.New("down")}, nil, http.StatusServiceUnavailable},
		{"cache down", stubPinger{}, stubPinger{err: errors.New("down")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/health", "", nil)
			require.NoError(t, NewHealthHandler(tt.db, tt.cache).Check(c))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
