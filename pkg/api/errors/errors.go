package errors

import (
	"fmt"
	"log"
	"net/http"

	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/models"
	"github.com/labstack/echo/v4"
)

// ValidationError returns a 400 carrying the user-facing part of err.
// Internal causes are logged, never returned.
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	msg := "Invalid request data. Please check your input and try again."
	if domain.IsValidation(err) {
		msg = domain.MessageOf(err)
	}

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: msg,
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// NotFoundError returns a not found error naming the resource
func NotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: fmt.Sprintf("%s not found", resource),
	})
}

// ConflictError returns a conflict error
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// FromDomain maps a service error onto the matching response.
func FromDomain(c echo.Context, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeValidation:
		return ValidationError(c, err)
	case domain.ErrCodeNotFound:
		log.Printf("[NOT FOUND] Path: %s, Error: %v", c.Request().URL.Path, err)
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: domain.MessageOf(err),
		})
	case domain.ErrCodeConflict:
		return ConflictError(c, domain.MessageOf(err))
	case domain.ErrCodeUnauthorized:
		return UnauthorizedError(c)
	default:
		return InternalError(c, err)
	}
}
