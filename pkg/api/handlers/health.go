package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything health can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency status
type HealthHandler struct {
	db    Pinger
	cache Pinger
}

// NewHealthHandler creates a health handler. cache may be nil when Redis is not configured.
func NewHealthHandler(db, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Check godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	resp := map[string]string{"status": "healthy", "database": "up"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		resp["database"] = "down"
		resp["status"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		resp["cache"] = "up"
		if err := h.cache.Ping(ctx); err != nil {
			resp["cache"] = "down"
			resp["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	return c.JSON(status, resp)
}
