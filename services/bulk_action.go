package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// Panel forms
const (
	FormBulk     = "bulk"
	FormTrash    = "trash"
	FormDownload = "download"
)

// Panel action codes
const (
	ActionMarkNew        = "mark_new"
	ActionMarkInProgress = "mark_in_progress"
	ActionMarkReady      = "mark_ready"
	ActionDelete         = "delete"
	ActionRestore        = "restore"
	ActionEmpty          = "empty"
)

// statusActions maps the bulk status codes to the status they set
var statusActions = map[string]string{
	ActionMarkNew:        models.StatusNew,
	ActionMarkInProgress: models.StatusInProgress,
	ActionMarkReady:      models.StatusReady,
}

// BulkAction is an action submitted from one of the panel forms. On the trash
// form "delete" purges the selection and "empty" purges the whole trash.
type BulkAction struct {
	FormName string
	Action   string
	IDs      []uint
}

// BulkResult lists the requests an action changed. Selected IDs that did not
// qualify (missing, trashed, already in the target state) are left out.
type BulkResult struct {
	Action   string
	Affected []uint
}

// ValidateBulkAction checks the form, the action code and the selection.
// Only "empty" may be sent without a selection.
func ValidateBulkAction(action BulkAction) error {
	switch action.FormName {
	case FormBulk:
		if _, ok := statusActions[action.Action]; !ok && action.Action != ActionDelete {
			return ErrInvalidAction
		}
	case FormTrash:
		switch action.Action {
		case ActionRestore, ActionDelete, ActionEmpty:
		default:
			return ErrInvalidAction
		}
	default:
		return ErrInvalidAction
	}

	if action.Action != ActionEmpty && len(action.IDs) == 0 {
		return ErrEmptySelection
	}
	return nil
}

// ProcessBulkAction applies a validated panel action in one transaction. The
// change, its activity entries and one audit row per affected request commit
// together or not at all. Attachment objects of purged requests are removed
// after the commit.
func ProcessBulkAction(ctx context.Context, db *gorm.DB, storage StorageProvider, p Principal, action BulkAction) (*BulkResult, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := ValidateBulkAction(action); err != nil {
		return nil, err
	}

	ids := uniqueIDs(action.IDs)
	audit := AuditFromPrincipal(p)
	actor := p.ActorID()
	result := &BulkResult{Action: action.Action}
	var purgedKeys []string

	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		switch {
		case action.FormName == FormBulk && action.Action == ActionDelete:
			result.Affected, err = SoftDelete(tx, ids, actor)
			if err != nil {
				return err
			}
			return LogBulkAudit(tx, audit, models.AuditActionDelete, result.Affected, "Moved to trash (bulk)", nil)

		case action.FormName == FormBulk:
			target := statusActions[action.Action]
			result.Affected, err = bulkSetStatus(tx, ids, target, actor)
			if err != nil {
				return err
			}
			return LogBulkAudit(tx, audit, models.AuditActionStatusChange, result.Affected,
				"Status changed to "+target+" (bulk)", map[string]interface{}{"status": target})

		case action.Action == ActionRestore:
			result.Affected, err = Restore(tx, ids, actor)
			if err != nil {
				return err
			}
			return LogBulkAudit(tx, audit, models.AuditActionRestore, result.Affected, "Restored from trash", nil)

		case action.Action == ActionEmpty:
			result.Affected, purgedKeys, err = Purge(tx, nil)
			if err != nil {
				return err
			}
			return LogBulkAudit(tx, audit, models.AuditActionPurge, result.Affected, "Purged (trash emptied)", nil)

		default:
			result.Affected, purgedKeys, err = Purge(tx, &ids)
			if err != nil {
				return err
			}
			return LogBulkAudit(tx, audit, models.AuditActionPurge, result.Affected, "Purged from trash", nil)
		}
	})
	if err != nil {
		return nil, err
	}

	if storage != nil {
		for _, key := range purgedKeys {
			if err := storage.Delete(ctx, key); err != nil {
				log.Printf("[WARNING] Failed to delete attachment object %s: %v", key, err)
			}
		}
	}

	BulkActions.WithLabelValues(action.FormName, action.Action).Inc()
	log.Printf("[AUDIT] %s/%s by %s affected %d request(s)", action.FormName, action.Action, audit.UserID, len(result.Affected))
	return result, nil
}

// bulkSetStatus moves the live requests of ids to status. Trashed requests and
// requests already in that status are skipped and get no entry.
func bulkSetStatus(tx *gorm.DB, ids []uint, status string, actor *string) ([]uint, error) {
	var rows []struct {
		ID     uint
		Status string
	}
	err := tx.Model(&models.Request{}).
		Select("id", "status").
		Where("id IN ? AND is_deleted = ? AND status <> ?", ids, false, status).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select requests: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	affected := make([]uint, 0, len(rows))
	entries := make([]ActivityInput, 0, len(rows))
	for _, row := range rows {
		affected = append(affected, row.ID)
		entries = append(entries, ActivityInput{
			RequestID: row.ID,
			Type:      models.ActivityStatusChange,
			Message:   "Status changed to " + status,
			ActorID:   actor,
			Meta:      statusMeta(row.Status, status),
		})
	}

	err = tx.Model(&models.Request{}).
		Where("id IN ? AND is_deleted = ?", affected, false).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
			"version":    gorm.Expr("version + 1"),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	if err := logActivities(tx, entries); err != nil {
		return nil, err
	}
	return affected, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
