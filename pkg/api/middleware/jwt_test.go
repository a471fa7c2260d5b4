package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanlanch/occasions/pkg/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-minimum-32-characters-long"

func TestJWTMiddleware(t *testing.T) {
	valid, err := auth.GenerateJWT("user-1", "owner@example.com", auth.RoleAdmin, testSecret, 1)
	require.NoError(t, err)

	tests := []struct {
		name      string
		header    string
		wantCode  int
		wantError string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing_token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid_token_format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
		{"valid", "Bearer " + valid, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotID, gotRole any
			h := JWTMiddleware(testSecret)(func(c echo.Context) error {
				gotID = c.Get("user_id")
				gotRole = c.Get("user_role")
				return c.NoContent(http.StatusOK)
			})

			require.NoError(t, h(c))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantError != "" {
				assert.Contains(t, rec.Body.String(), tt.wantError)
				return
			}
			assert.Equal(t, "user-1", gotID)
			assert.Equal(t, auth.RoleAdmin, gotRole)
		})
	}
}
