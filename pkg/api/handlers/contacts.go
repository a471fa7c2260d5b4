package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/jordanlanch/occasions/pkg/api/errors"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/labstack/echo/v4"
)

// ContactHandler handles contact HTTP requests
type ContactHandler struct {
	service *occasions.Service
}

// NewContactHandler creates a new contact handler
func NewContactHandler(service *occasions.Service) *ContactHandler {
	return &ContactHandler{service: service}
}

// Create godoc
// @Summary Create a contact
// @Tags Contacts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body occasions.CreateContactRequest true "Contact"
// @Success 201 {object} occasions.Contact
// @Failure 400 {object} models.ErrorResponse
// @Router /contacts [post]
func (h *ContactHandler) Create(c echo.Context) error {
	var req occasions.CreateContactRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	// Default the owner to the caller
	if req.OwnerEmail == "" {
		if email, ok := c.Get("user_email").(string); ok {
			req.OwnerEmail = email
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	contact, err := h.service.CreateContact(ctx, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusCreated, contact)
}

// Get godoc
// @Summary Get a contact
// @Tags Contacts
// @Produce json
// @Security BearerAuth
// @Param contactId path string true "Contact ID"
// @Success 200 {object} occasions.Contact
// @Failure 404 {object} models.ErrorResponse
// @Router /contacts/{contactId} [get]
func (h *ContactHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	contact, err := h.service.GetContact(ctx, c.Param("contactId"))
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, contact)
}
