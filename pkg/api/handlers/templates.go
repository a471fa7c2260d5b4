package handlers

import (
	"context"
	"net/http"
	"strconv"

	apierrors "github.com/jordanlanch/occasions/pkg/api/errors"
	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/labstack/echo/v4"
)

// TemplateHandler handles email template HTTP requests
type TemplateHandler struct {
	service *occasions.Service
}

// NewTemplateHandler creates a new email template handler
func NewTemplateHandler(service *occasions.Service) *TemplateHandler {
	return &TemplateHandler{service: service}
}

// List godoc
// @Summary List email templates
// @Tags Email Templates
// @Produce json
// @Security BearerAuth
// @Param type query string false "Template type"
// @Param isActive query bool false "Active flag"
// @Success 200 {object} models.ListResponse[occasions.EmailTemplate]
// @Router /email-templates [get]
func (h *TemplateHandler) List(c echo.Context) error {
	filter := occasions.TemplateFilter{Type: c.QueryParam("type")}
	if v := c.QueryParam("isActive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apierrors.ValidationError(c, domain.NewValidationError("isActive must be true or false"))
		}
		filter.IsActive = &b
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	templates, err := h.service.ListTemplates(ctx, filter)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	if templates == nil {
		templates = []occasions.EmailTemplate{}
	}

	return c.JSON(http.StatusOK, models.ListResponse[occasions.EmailTemplate]{Data: templates, Total: len(templates)})
}

// Create godoc
// @Summary Create an email template
// @Tags Email Templates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body occasions.CreateTemplateRequest true "Template"
// @Success 201 {object} occasions.EmailTemplate
// @Failure 400 {object} models.ErrorResponse
// @Router /email-templates [post]
func (h *TemplateHandler) Create(c echo.Context) error {
	var req occasions.CreateTemplateRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	tmpl, err := h.service.CreateTemplate(ctx, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusCreated, tmpl)
}
