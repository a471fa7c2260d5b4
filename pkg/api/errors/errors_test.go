package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// captureLog redirects the standard logger to a buffer while fn runs.
func captureLog(fn func()) string {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestValidationError_DomainMessageIsExposed(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/contacts/c1/dates")
	require.NoError(t, ValidationError(c, domain.NewValidationError("date must be DD-MM")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := parseBody(t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "date must be DD-MM", body.Message)
}

func TestValidationError_RawErrorIsHidden(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/contacts/c1/dates")

	logged := captureLog(func() {
		_ = ValidationError(c, errors.New("json: cannot unmarshal number into Go struct field"))
	})

	body := parseBody(t, rec)
	assert.NotContains(t, body.Message, "unmarshal")
	assert.Contains(t, logged, "unmarshal")
	assert.Contains(t, logged, "/api/v1/contacts/c1/dates")
}

func TestInternalError_NoInternalDetails(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/occasions")

	logged := captureLog(func() {
		_ = InternalError(c, errors.New("pq: connection refused"))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Contains(t, logged, "[INTERNAL ERROR]")
}

func TestNotFoundError_NamesResource(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/contacts/c1")
	require.NoError(t, NotFoundError(c, "contact"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "contact not found", parseBody(t, rec).Message)
}

func TestFromDomain_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"validation", domain.NewValidationError("bad"), http.StatusBadRequest, "validation_error"},
		{"not found", domain.NewNotFoundError("important date"), http.StatusNotFound, "not_found"},
		{"conflict", domain.NewConflictError("already running"), http.StatusConflict, "conflict"},
		{"unauthorized", domain.NewUnauthorizedError(), http.StatusUnauthorized, "unauthorized"},
		{"internal", domain.NewInternalError(errors.New("boom")), http.StatusInternalServerError, "internal_error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/")
			_ = captureLog(func() {
				require.NoError(t, FromDomain(c, tt.err))
			})
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.code, parseBody(t, rec).Error)
		})
	}
}

func TestFromDomain_NotFoundMessage(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	_ = captureLog(func() {
		_ = FromDomain(c, domain.NewNotFoundError("important date"))
	})
	assert.Equal(t, "important date not found", parseBody(t, rec).Message)
}
