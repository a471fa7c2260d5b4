package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/jordanlanch/occasions/pkg/api/errors"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/labstack/echo/v4"
)

// AdminHandler handles operator endpoints
type AdminHandler struct {
	runner      scheduler.Runner
	service     *occasions.Service
	passTimeout time.Duration
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(runner scheduler.Runner, service *occasions.Service, passTimeout time.Duration) *AdminHandler {
	if passTimeout <= 0 {
		passTimeout = 5 * time.Minute
	}
	return &AdminHandler{runner: runner, service: service, passTimeout: passTimeout}
}

// DueOccasion is one row of the due listing
type DueOccasion struct {
	ContactID    string     `json:"contact_id"`
	ContactName  string     `json:"contact_name"`
	ContactEmail string     `json:"contact_email"`
	DateID       string     `json:"date_id"`
	Type         string     `json:"type"`
	Label        string     `json:"label"`
	NextSendAt   *time.Time `json:"next_send_at,omitempty"`
}

// RunScheduler godoc
// @Summary Trigger a scheduler pass
// @Description Runs one dispatch pass synchronously and returns its counters
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} scheduler.PassResult
// @Failure 409 {object} models.ErrorResponse "A pass is already running"
// @Router /admin/scheduler/run [post]
func (h *AdminHandler) RunScheduler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.passTimeout)
	defer cancel()

	result, err := h.runner.RunOnce(ctx)
	if errors.Is(err, scheduler.ErrPassInProgress) {
		return apierrors.ConflictError(c, err.Error())
	}
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// ListDue godoc
// @Summary List due occasions
// @Description Active entries whose send time has arrived
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ListResponse[DueOccasion]
// @Router /admin/occasions/due [get]
func (h *AdminHandler) ListDue(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	due, err := h.service.ListDue(ctx)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	rows := make([]DueOccasion, 0, len(due))
	for _, d := range due {
		rows = append(rows, DueOccasion{
			ContactID:    d.Contact.ID,
			ContactName:  d.Contact.FullName(),
			ContactEmail: d.Contact.Email,
			DateID:       d.Date.ID,
			Type:         string(d.Date.Type),
			Label:        d.Date.DisplayLabel(),
			NextSendAt:   d.Date.NextSendAt,
		})
	}

	return c.JSON(http.StatusOK, models.ListResponse[DueOccasion]{Data: rows, Total: len(rows)})
}
