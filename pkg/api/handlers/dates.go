package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/jordanlanch/occasions/pkg/api/errors"
	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/labstack/echo/v4"
)

const requestTimeout = 10 * time.Second

// DateHandler handles important date HTTP requests
type DateHandler struct {
	service    *occasions.Service
	dispatcher *scheduler.Dispatcher
}

// NewDateHandler creates a new important date handler
func NewDateHandler(service *occasions.Service, dispatcher *scheduler.Dispatcher) *DateHandler {
	return &DateHandler{
		service:    service,
		dispatcher: dispatcher,
	}
}

// SendRequest represents a manual send request
type SendRequest struct {
	OverrideTemplateID string `json:"override_template_id"`
	TestMode           bool   `json:"test_mode"`
}

// List godoc
// @Summary List important dates
// @Description List a contact's important dates, optionally filtered by type, active flag or upcoming window (days)
// @Tags Important Dates
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param type query string false "Occasion type"
// @Param isActive query bool false "Active flag"
// @Param upcoming query int false "Only entries due within this many days"
// @Success 200 {object} models.ListResponse[occasions.ImportantDate]
// @Failure 400 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates [get]
func (h *DateHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var filter occasions.DateFilter
	if v := c.QueryParam("type"); v != "" {
		t := occasions.OccasionType(v)
		filter.Type = &t
	}
	if v := c.QueryParam("isActive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apierrors.ValidationError(c, domain.NewValidationError("isActive must be true or false"))
		}
		filter.IsActive = &b
	}
	if v := c.QueryParam("upcoming"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apierrors.ValidationError(c, domain.NewValidationError("upcoming must be a number of days"))
		}
		filter.UpcomingDays = &n
	}

	dates, err := h.service.ListDates(ctx, c.Param("contactId"), filter)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	if dates == nil {
		dates = []occasions.ImportantDate{}
	}

	return c.JSON(http.StatusOK, models.ListResponse[occasions.ImportantDate]{Data: dates, Total: len(dates)})
}

// Create godoc
// @Summary Add an important date
// @Description Attach an occasion to a contact. nextSendAt is computed from date, send_time and timezone.
// @Tags Important Dates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param request body occasions.CreateDateRequest true "Important date"
// @Success 201 {object} occasions.ImportantDate
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates [post]
func (h *DateHandler) Create(c echo.Context) error {
	var req occasions.CreateDateRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	date, err := h.service.CreateDate(ctx, c.Param("contactId"), req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusCreated, date)
}

// Get godoc
// @Summary Get an important date
// @Tags Important Dates
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param dateId path string true "Date ID"
// @Success 200 {object} occasions.DateResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates/{dateId} [get]
func (h *DateHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	date, err := h.service.GetDate(ctx, c.Param("contactId"), c.Param("dateId"))
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, date)
}

// Update godoc
// @Summary Update an important date
// @Description Partial update. At least one field is required.
// @Tags Important Dates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param dateId path string true "Date ID"
// @Param request body occasions.UpdateDateRequest true "Fields to change"
// @Success 200 {object} occasions.ImportantDate
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates/{dateId} [put]
func (h *DateHandler) Update(c echo.Context) error {
	var req occasions.UpdateDateRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	date, err := h.service.UpdateDate(ctx, c.Param("contactId"), c.Param("dateId"), req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, date)
}

// Delete godoc
// @Summary Delete an important date
// @Tags Important Dates
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param dateId path string true "Date ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates/{dateId} [delete]
func (h *DateHandler) Delete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.service.DeleteDate(ctx, c.Param("contactId"), c.Param("dateId")); err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// Send godoc
// @Summary Send an occasion email now
// @Description Deliver the greeting immediately. The schedule is left untouched. test_mode renders without sending.
// @Tags Important Dates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param dateId path string true "Date ID"
// @Param request body SendRequest false "Send options"
// @Success 200 {object} scheduler.SendResult
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates/{dateId}/send [post]
func (h *DateHandler) Send(c echo.Context) error {
	var req SendRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return apierrors.ValidationError(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	result, err := h.dispatcher.SendNow(ctx, c.Param("contactId"), c.Param("dateId"), scheduler.SendOptions{
		OverrideTemplateID: req.OverrideTemplateID,
		TestMode:           req.TestMode,
	})
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// Deliveries godoc
// @Summary List deliveries of an important date
// @Tags Important Dates
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Param dateId path string true "Date ID"
// @Success 200 {object} models.ListResponse[occasions.Delivery]
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId}/dates/{dateId}/deliveries [get]
func (h *DateHandler) Deliveries(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	deliveries, err := h.service.ListDeliveries(ctx, c.Param("contactId"), c.Param("dateId"))
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	if deliveries == nil {
		deliveries = []occasions.Delivery{}
	}

	return c.JSON(http.StatusOK, models.ListResponse[occasions.Delivery]{Data: deliveries, Total: len(deliveries)})
}
