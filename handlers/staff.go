package handlers

import (
	"fmt"
	"net/http"

	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

const staffPageSize = 20

// staffRequestView is the staff detail of one request
type staffRequestView struct {
	Request    *models.Request          `json:"request"`
	Activities []models.Activity        `json:"activities"`
	Changes    []models.ClientChangeLog `json:"changes"`
	Audit      []models.AuditLog        `json:"audit"`
	Editable   bool                     `json:"editable"`
}

// StaffListRequestsHandler lists the requests the caller may see. Employees
// are limited to their department; admins may filter by department.
func StaffListRequestsHandler(c echo.Context) error {
	p := middleware.GetPrincipal(c)
	departmentID, err := optionalUint(c.QueryParam("department_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid department")
	}

	page := pageParam(c)
	opts := services.ListOptions{
		Sort:         c.QueryParam("sort"),
		Company:      c.QueryParam("company"),
		Status:       c.QueryParam("status"),
		DepartmentID: departmentID,
	}
	requests, total, err := services.ListStaffRequests(db.DB, p, opts, page, staffPageSize)
	if err != nil {
		return respondError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"requests":  requests,
		"total":     total,
		"page":      page,
		"page_size": staffPageSize,
	})
}

// StaffRequestDetailHandler returns a request with its full history
func StaffRequestDetailHandler(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	p := middleware.GetPrincipal(c)

	request, err := services.GetRequest(db.DB, id, p.IsAdmin())
	if err != nil {
		return respondError(err)
	}
	if err := services.Authorize(services.Tokens, p, request, services.PermView); err != nil {
		services.LogSecurityEvent("REQUEST_ACCESS_DENIED", p.User.ID, fmt.Sprintf("request=%d", id))
		return respondError(err)
	}

	activities, err := services.RequestActivities(db.DB, id, false)
	if err != nil {
		return respondError(err)
	}
	changes, err := services.RequestChangeLog(db.DB, id)
	if err != nil {
		return respondError(err)
	}
	history, err := services.GetRequestAuditHistory(db.DB, id)
	if err != nil {
		return respondError(err)
	}

	return c.JSON(http.StatusOK, staffRequestView{
		Request:    request,
		Activities: activities,
		Changes:    changes,
		Audit:      history,
		Editable:   services.CanEdit(services.Tokens, p, request),
	})
}

// StaffUpdateRequestHandler either resets the access link (action=reset_access)
// or applies the submitted staff fields
func StaffUpdateRequestHandler(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	p := middleware.GetPrincipal(c)
	svc := services.NewRequestService(db.DB, getConfig(c))

	if c.FormValue("action") == "reset_access" {
		token, err := svc.ResetAccess(c.Request().Context(), p, id)
		if err != nil {
			return respondError(err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": fmt.Sprintf(msgAccessReset, token),
			"token":   token,
		})
	}

	upd := services.StaffUpdate{
		Status:          formField(c, "status"),
		AccessEnabled:   formBool(c, "access_enabled"),
		FinalChanges:    formField(c, "final_changes"),
		FinalResponse:   formField(c, "final_response"),
		ExpectedVersion: formVersion(c),
	}
	if raw := formField(c, "department_id"); raw != nil {
		departmentID, err := optionalUint(*raw)
		if err != nil {
			return respondError(services.NewValidationError("department_id", "select a valid department"))
		}
		upd.SetDepartment = true
		upd.DepartmentID = departmentID
	}

	uploads, closeUploads, err := readUploads(c)
	if err != nil {
		return err
	}
	defer closeUploads()

	request, err := svc.StaffUpdateRequest(c.Request().Context(), p, id, upd, uploads)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Request updated.",
		"request": request,
	})
}
