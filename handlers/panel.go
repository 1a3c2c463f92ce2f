package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// panelOptions reads the listing sort and company filter shared by the panel
// listing and the download form
func panelOptions(c echo.Context) services.ListOptions {
	return services.ListOptions{
		Sort:    c.QueryParam("sort"),
		Company: c.QueryParam("company"),
		Status:  c.QueryParam("status"),
	}
}

// PanelHandler returns the admin listing, the trash and the export choices
func PanelHandler(c echo.Context) error {
	requests, err := services.ListRequests(db.DB, panelOptions(c))
	if err != nil {
		return respondError(err)
	}
	trash, err := services.ListDeleted(db.DB)
	if err != nil {
		return respondError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"requests":       requests,
		"trash":          trash,
		"export_fields":  services.ExportFields,
		"export_formats": []string{services.FormatPDF, services.FormatXLSX, services.FormatCSV},
	})
}

// PanelActionHandler dispatches the panel forms: bulk and trash actions, and
// the download form
func PanelActionHandler(c echo.Context) error {
	formName := strings.TrimSpace(c.FormValue("form_name"))
	p := middleware.GetPrincipal(c)

	if formName == services.FormDownload {
		return panelDownload(c, p)
	}

	result, err := services.ProcessBulkAction(c.Request().Context(), db.DB, services.Storage, p, services.BulkAction{
		FormName: formName,
		Action:   strings.TrimSpace(c.FormValue("action")),
		IDs:      formIDs(c, "selected"),
	})
	if err != nil {
		return respondError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"action":   result.Action,
		"affected": result.Affected,
		"message":  fmt.Sprintf("%d request(s) updated.", len(result.Affected)),
	})
}

// panelDownload exports the selected requests in the listing's order
func panelDownload(c echo.Context, p services.Principal) error {
	if !p.IsAdmin() {
		return respondError(services.ErrForbidden)
	}
	ids := formIDs(c, "messages")
	if len(ids) == 0 {
		return respondError(services.ErrEmptySelection)
	}

	params, _ := c.FormParams()
	fields, err := services.NormalizeExportFields(params["fields"])
	if err != nil {
		return respondError(err)
	}
	format := strings.ToLower(strings.TrimSpace(c.FormValue("format")))
	if format == "" {
		format = services.FormatPDF
	}

	listed, err := services.ListRequests(db.DB, panelOptions(c))
	if err != nil {
		return respondError(err)
	}
	wanted := make(map[uint]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	selected := make([]models.Request, 0, len(ids))
	for _, r := range listed {
		if wanted[r.ID] {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return respondError(services.ErrEmptySelection)
	}

	content, err := services.ExportRequests(c.Request().Context(), format, selected, fields)
	if err != nil {
		return respondError(err)
	}

	services.LogAuditEvent(db.DB, services.AuditFromPrincipal(p), models.AuditActionExport, nil,
		fmt.Sprintf("Exported %d request(s) as %s", len(selected), format))

	filename := services.ExportFilename(format, time.Now())
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, services.ExportContentType(format), content)
}
