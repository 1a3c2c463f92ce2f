package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html/template"
	"strings"
	"time"

	"contact_flow_app_go/models"

	"github.com/xuri/excelize/v2"
)

// Export fields selectable in the download form
const (
	ExportCreatedAt = "created_at"
	ExportCustomer  = "customer"
	ExportPhone     = "phone"
	ExportEmail     = "email"
	ExportCompany   = "company"
	ExportMessage   = "message"
	ExportStatus    = "status"
)

// Export formats
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// ExportFields lists every exportable field in display order
var ExportFields = []string{
	ExportCreatedAt,
	ExportCustomer,
	ExportPhone,
	ExportEmail,
	ExportCompany,
	ExportMessage,
	ExportStatus,
}

var exportLabels = map[string]string{
	ExportCreatedAt: "Submitted at",
	ExportCustomer:  "Customer",
	ExportPhone:     "Phone",
	ExportEmail:     "Email",
	ExportCompany:   "Company",
	ExportMessage:   "Message",
	ExportStatus:    "Status",
}

var statusLabels = map[string]string{
	models.StatusNew:        "New",
	models.StatusInProgress: "In progress",
	models.StatusReady:      "Ready",
}

// NormalizeExportFields keeps known fields in display order. An empty
// selection means every field.
func NormalizeExportFields(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return ExportFields, nil
	}
	selected := make(map[string]bool, len(fields))
	for _, f := range fields {
		if _, ok := exportLabels[f]; !ok {
			return nil, NewValidationError("fields", fmt.Sprintf("unknown field %q", f))
		}
		selected[f] = true
	}
	var out []string
	for _, f := range ExportFields {
		if selected[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

// ExportFilename names a download after the time it was generated
func ExportFilename(format string, now time.Time) string {
	return now.Format("requests_20060102_150405") + "." + format
}

// ExportContentType returns the MIME type of an export format
func ExportContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/pdf"
	}
}

func exportValue(field string, request *models.Request) string {
	switch field {
	case ExportCreatedAt:
		return formatTimestamp(request.CreatedAt)
	case ExportCustomer:
		return request.FullName()
	case ExportPhone:
		return request.Phone
	case ExportEmail:
		return request.Email
	case ExportCompany:
		if request.CompanyName != "" {
			return request.Company + " (" + request.CompanyName + ")"
		}
		return request.Company
	case ExportMessage:
		return strings.ReplaceAll(strings.ReplaceAll(request.Message, "\r\n", "\n"), "\r", "\n")
	case ExportStatus:
		if label, ok := statusLabels[request.Status]; ok {
			return label
		}
		return request.Status
	}
	return ""
}

type exportRow struct {
	Label string
	Value string
}

type exportSection struct {
	ID   uint
	Rows []exportRow
}

var requestsHTML = template.Must(template.New("requests").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 11pt; color: #1f2a2a; }
h1 { color: #1b6d34; font-size: 18pt; margin-bottom: 4pt; }
.subtitle { color: #5b6c6c; font-size: 10pt; margin-bottom: 18pt; }
h2 { color: #2fa84f; font-size: 14pt; margin: 18pt 0 8pt; }
table { width: 100%; border-collapse: collapse; page-break-inside: avoid; }
th { width: 30%; text-align: left; vertical-align: top; padding: 4pt; }
td { vertical-align: top; padding: 4pt; white-space: pre-wrap; }
tr { border-bottom: 0.2pt solid #dce7de; }
</style>
</head>
<body>
<h1>Contact requests</h1>
<div class="subtitle">Generated: {{.GeneratedAt}}</div>
{{range .Sections}}
<h2>Request #{{.ID}}</h2>
<table>
{{range .Rows}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
{{end}}</table>
{{else}}
<p>No requests to display.</p>
{{end}}
</body>
</html>`))

// BuildRequestsHTML renders the printable listing of requests
func BuildRequestsHTML(requests []models.Request, fields []string, now time.Time) (string, error) {
	sections := make([]exportSection, 0, len(requests))
	for i := range requests {
		section := exportSection{ID: requests[i].ID}
		for _, f := range fields {
			section.Rows = append(section.Rows, exportRow{Label: exportLabels[f], Value: exportValue(f, &requests[i])})
		}
		sections = append(sections, section)
	}

	var buf bytes.Buffer
	err := requestsHTML.Execute(&buf, map[string]interface{}{
		"GeneratedAt": formatTimestamp(now),
		"Sections":    sections,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render export: %w", err)
	}
	return buf.String(), nil
}

// GenerateRequestsPDF renders the listing through headless Chrome
func GenerateRequestsPDF(ctx context.Context, requests []models.Request, fields []string) ([]byte, error) {
	html, err := BuildRequestsHTML(requests, fields, time.Now())
	if err != nil {
		return nil, err
	}
	return GeneratePDF(ctx, html, DefaultPDFOptions())
}

// BuildRequestsXLSX writes one row per request with a bold header row
func BuildRequestsXLSX(requests []models.Request, fields []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Requests"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	wrapStyle, _ := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})

	columns := append([]string{"ID"}, fields...)
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		label := col
		if l, ok := exportLabels[col]; ok {
			label = l
		}
		f.SetCellValue(sheet, cell, label)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(columns), 1)
	f.SetCellStyle(sheet, "A1", lastHeader, headerStyle)

	for r := range requests {
		row := r + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetCellValue(sheet, cell, requests[r].ID)
		for c, field := range fields {
			cell, _ := excelize.CoordinatesToCellName(c+2, row)
			f.SetCellValue(sheet, cell, exportValue(field, &requests[r]))
			if field == ExportMessage {
				f.SetCellStyle(sheet, cell, cell, wrapStyle)
			}
		}
	}

	for c, field := range fields {
		col, _ := excelize.ColumnNumberToName(c + 2)
		width := 20.0
		if field == ExportMessage {
			width = 60
		}
		f.SetColWidth(sheet, col, col, width)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildRequestsCSV writes a header row and one record per request
func BuildRequestsCSV(requests []models.Request, fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"id"}, fields...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i := range requests {
		record := []string{fmt.Sprintf("%d", requests[i].ID)}
		for _, f := range fields {
			record = append(record, exportValue(f, &requests[i]))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportRequests renders requests in the asked format
func ExportRequests(ctx context.Context, format string, requests []models.Request, fields []string) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return BuildRequestsXLSX(requests, fields)
	case FormatCSV:
		return BuildRequestsCSV(requests, fields)
	case FormatPDF, "":
		return GenerateRequestsPDF(ctx, requests, fields)
	default:
		return nil, NewValidationError("format", "select pdf, xlsx or csv")
	}
}
