package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	apierrors "github.com/jordanlanch/occasions/pkg/api/errors"
	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/export"
	"github.com/jordanlanch/occasions/pkg/metrics"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/labstack/echo/v4"
)

// ExportHandler handles export HTTP requests
type ExportHandler struct {
	service *occasions.Service
	metrics *metrics.Metrics
}

// NewExportHandler creates a new export handler
func NewExportHandler(service *occasions.Service, m *metrics.Metrics) *ExportHandler {
	return &ExportHandler{service: service, metrics: m}
}

// Upcoming godoc
// @Summary Export upcoming occasions
// @Description Download active occasions due within the next days as CSV or Excel
// @Tags Export
// @Produce text/csv
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param days query int false "Window in days (default 30)"
// @Param format query string false "csv or xlsx (default csv)"
// @Success 200 {file} file
// @Failure 400 {object} models.ErrorResponse
// @Router /occasions/upcoming/export [get]
func (h *ExportHandler) Upcoming(c echo.Context) error {
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apierrors.ValidationError(c, domain.NewValidationError("days must be a number"))
		}
		days = n
	}

	format := c.QueryParam("format")
	if format == "" {
		format = export.FormatCSV
	}
	if format != export.FormatCSV && format != export.FormatXLSX {
		return apierrors.ValidationError(c, domain.NewValidationError("format must be csv or xlsx"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	due, err := h.service.Upcoming(ctx, days)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, due); err != nil {
		return apierrors.InternalError(c, err)
	}
	h.metrics.RecordExportCreated(format)

	filename := fmt.Sprintf("upcoming-occasions-%dd.%s", days, format)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, export.ContentType(format), buf.Bytes())
}
