// Package export writes upcoming-occasion reports.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/recurrence"
	"github.com/xuri/excelize/v2"
)

// Supported formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const sheetName = "Upcoming"

var headers = []string{
	"Next Send (UTC)", "Local Send Time", "Timezone", "Occasion", "Label", "Date",
	"Contact", "Email", "Company", "Repeat Annually", "Opt Out",
}

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Write renders due occasions to w in the given format.
func Write(w io.Writer, format string, due []occasions.DueOccasion) error {
	switch format {
	case FormatCSV, "":
		return writeCSV(w, due)
	case FormatXLSX:
		return writeExcel(w, due)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func row(d occasions.DueOccasion) []string {
	next, local := "", ""
	if d.Date.NextSendAt != nil {
		next = d.Date.NextSendAt.UTC().Format(time.RFC3339)
		local = next
		if loc, err := recurrence.LoadLocation(d.Date.Timezone); err == nil {
			local = d.Date.NextSendAt.In(loc).Format("2006-01-02 15:04")
		}
	}
	return []string{
		next,
		local,
		d.Date.Timezone,
		d.Date.Type.Label(),
		d.Date.Label,
		d.Date.Date,
		d.Contact.FullName(),
		d.Contact.Email,
		d.Contact.Company,
		strconv.FormatBool(d.Date.RepeatAnnually),
		strconv.FormatBool(d.Date.OptOut),
	}
}

// writeCSV generates a CSV report
func writeCSV(w io.Writer, due []occasions.DueOccasion) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, d := range due {
		if err := writer.Write(row(d)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeExcel generates an Excel report
func writeExcel(w io.Writer, due []occasions.DueOccasion) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for r, d := range due {
		for c, v := range row(d) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheetName, "A", lastCol, 20)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
