package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// AuditContext contains contextual information for audit logging
type AuditContext struct {
	UserID    string
	UserName  string
	UserRole  string
	IPAddress string
	UserAgent string
}

// AuditFromPrincipal builds the audit context of a staff caller
func AuditFromPrincipal(p Principal) AuditContext {
	ctx := AuditContext{IPAddress: p.IPAddress, UserAgent: p.UserAgent}
	if p.User != nil {
		ctx.UserID = p.User.ID
		ctx.UserName = p.User.Name
		switch {
		case p.User.IsSuperuser:
			ctx.UserRole = "superuser"
		case p.Profile != nil:
			ctx.UserRole = p.Profile.Role
		}
	}
	return ctx
}

func newAuditLog(ctx AuditContext, action models.AuditAction, requestID *uint, description string, oldValues, newValues interface{}) models.AuditLog {
	var oldJSON, newJSON string
	if oldValues != nil {
		if bytes, err := json.Marshal(oldValues); err == nil {
			oldJSON = string(bytes)
		}
	}
	if newValues != nil {
		if bytes, err := json.Marshal(newValues); err == nil {
			newJSON = string(bytes)
		}
	}

	return models.AuditLog{
		UserID:      ptrIfNotEmpty(ctx.UserID),
		UserName:    ctx.UserName,
		UserRole:    ctx.UserRole,
		RequestID:   requestID,
		Action:      action,
		Description: description,
		OldValues:   oldJSON,
		NewValues:   newJSON,
		IPAddress:   ctx.IPAddress,
		UserAgent:   ctx.UserAgent,
	}
}

// LogAudit writes an audit entry inside the caller's transaction, so the
// entry exists exactly when the change it describes does
func LogAudit(tx *gorm.DB, ctx AuditContext, action models.AuditAction, requestID *uint, description string, oldValues, newValues interface{}) error {
	entry := newAuditLog(ctx, action, requestID, description, oldValues, newValues)
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogBulkAudit writes one audit row per affected request in a single batch
func LogBulkAudit(tx *gorm.DB, ctx AuditContext, action models.AuditAction, requestIDs []uint, description string, newValues interface{}) error {
	if len(requestIDs) == 0 {
		return nil
	}
	rows := make([]models.AuditLog, 0, len(requestIDs))
	for _, id := range requestIDs {
		id := id
		rows = append(rows, newAuditLog(ctx, action, &id, description, nil, newValues))
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to write bulk audit log: %w", err)
	}
	return nil
}

// LogAuditEvent creates an audit log entry asynchronously. Used for events
// that do not change a request, such as exports and sign-ins.
func LogAuditEvent(db *gorm.DB, ctx AuditContext, action models.AuditAction, requestID *uint, description string) {
	// Run in goroutine to avoid blocking the request
	go func() {
		entry := newAuditLog(ctx, action, requestID, description, nil, nil)
		if err := db.Create(&entry).Error; err != nil {
			log.Printf("[AUDIT] Failed to create audit log: %v", err)
		}
	}()
}

// LogSecurityEvent logs security-related events to the standard log
func LogSecurityEvent(eventType, userID, details string) {
	log.Printf("[SECURITY] %s | User: %s | Details: %s", eventType, userID, details)
}

// ptrIfNotEmpty returns a pointer to the string if not empty, nil otherwise
func ptrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// auditSnapshot captures the staff-editable fields before an update
func auditSnapshot(request *models.Request) map[string]interface{} {
	return map[string]interface{}{
		"status":         request.Status,
		"department_id":  request.DepartmentID,
		"access_enabled": request.AccessEnabled,
		"final_changes":  request.FinalChanges,
		"final_response": request.FinalResponse,
	}
}

// GetRequestAuditHistory retrieves the audit history of one request, newest
// first. The history outlives a purge of the request.
func GetRequestAuditHistory(db *gorm.DB, requestID uint) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := db.Where("request_id = ?", requestID).
		Order("created_at DESC").Order("id DESC").
		Find(&logs).Error
	return logs, err
}

// AuditLogFilters contains filter options for audit log queries
type AuditLogFilters struct {
	UserID      string
	Action      string
	RequestID   *uint
	DateFrom    time.Time
	DateTo      time.Time
	SearchQuery string
}

// GetAuditLogs retrieves paginated audit logs
func GetAuditLogs(db *gorm.DB, filters AuditLogFilters, page, pageSize int) ([]models.AuditLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := db.Model(&models.AuditLog{})
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.RequestID != nil {
		query = query.Where("request_id = ?", *filters.RequestID)
	}
	if !filters.DateFrom.IsZero() {
		query = query.Where("created_at >= ?", filters.DateFrom)
	}
	if !filters.DateTo.IsZero() {
		query = query.Where("created_at <= ?", filters.DateTo)
	}
	if filters.SearchQuery != "" {
		searchPattern := "%" + filters.SearchQuery + "%"
		query = query.Where("description LIKE ? OR user_name LIKE ?", searchPattern, searchPattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&logs).Error

	return logs, total, err
}
