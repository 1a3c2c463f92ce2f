package handlers

import (
	"net/http"
	"time"

	"contact_flow_app_go/db"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

const auditPageSize = 50

// GetAuditLogsHandler returns filtered and paginated audit logs
func GetAuditLogsHandler(c echo.Context) error {
	page := pageParam(c)

	filters := services.AuditLogFilters{
		UserID:      c.QueryParam("user_id"),
		Action:      c.QueryParam("action"),
		SearchQuery: c.QueryParam("search"),
	}
	requestID, err := optionalUint(c.QueryParam("request_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequestID)
	}
	filters.RequestID = requestID

	if dateFrom := c.QueryParam("date_from"); dateFrom != "" {
		if t, err := time.Parse("2006-01-02", dateFrom); err == nil {
			filters.DateFrom = t
		}
	}
	if dateTo := c.QueryParam("date_to"); dateTo != "" {
		if t, err := time.Parse("2006-01-02", dateTo); err == nil {
			filters.DateTo = t.Add(24*time.Hour - time.Second) // End of day
		}
	}

	logs, total, err := services.GetAuditLogs(db.DB, filters, page, auditPageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch audit logs")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":      logs,
		"total":     total,
		"page":      page,
		"page_size": auditPageSize,
	})
}
