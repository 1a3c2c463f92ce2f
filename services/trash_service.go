package services

import (
	"fmt"
	"time"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// SoftDelete moves the requests of ids to the trash. IDs that are missing or
// already trashed are skipped, so calling it twice changes nothing the second
// time. It returns the IDs that actually moved.
func SoftDelete(tx *gorm.DB, ids []uint, actor *string) ([]uint, error) {
	affected, err := pluckIDs(tx, ids, false)
	if err != nil || len(affected) == 0 {
		return affected, err
	}

	if err := setDeleted(tx, affected, true); err != nil {
		return nil, err
	}
	if err := logActivities(tx, systemEntries(affected, "Moved to trash", actor)); err != nil {
		return nil, err
	}
	return affected, nil
}

// Restore takes the requests of ids out of the trash. IDs not in the trash,
// purged ones included, are skipped.
func Restore(tx *gorm.DB, ids []uint, actor *string) ([]uint, error) {
	affected, err := pluckIDs(tx, ids, true)
	if err != nil || len(affected) == 0 {
		return affected, err
	}

	if err := setDeleted(tx, affected, false); err != nil {
		return nil, err
	}
	if err := logActivities(tx, systemEntries(affected, "Restored from trash", actor)); err != nil {
		return nil, err
	}
	return affected, nil
}

// Purge permanently deletes trashed requests together with their attachments,
// activities and change logs. A nil ids empties the whole trash; requests
// outside the trash are never touched. It returns the purged IDs and the
// storage keys of their attachments, to be removed once the transaction commits.
func Purge(tx *gorm.DB, ids *[]uint) ([]uint, []string, error) {
	var affected []uint
	var err error
	if ids == nil {
		err = tx.Model(&models.Request{}).Where("is_deleted = ?", true).Order("id").Pluck("id", &affected).Error
		if err != nil {
			err = fmt.Errorf("failed to list trash: %w", err)
		}
	} else {
		affected, err = pluckIDs(tx, *ids, true)
	}
	if err != nil || len(affected) == 0 {
		return affected, nil, err
	}

	keys, err := deleteRequestRows(tx, affected)
	if err != nil {
		return nil, nil, err
	}
	return affected, keys, nil
}

// pluckIDs returns the IDs of ids whose is_deleted flag equals deleted
func pluckIDs(tx *gorm.DB, ids []uint, deleted bool) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	err := tx.Model(&models.Request{}).
		Where("id IN ? AND is_deleted = ?", ids, deleted).
		Order("id").
		Pluck("id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select requests: %w", err)
	}
	return found, nil
}

func setDeleted(tx *gorm.DB, ids []uint, deleted bool) error {
	err := tx.Model(&models.Request{}).
		Where("id IN ? AND is_deleted = ?", ids, !deleted).
		Updates(map[string]interface{}{
			"is_deleted": deleted,
			"updated_at": time.Now(),
			"version":    gorm.Expr("version + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update trash flag: %w", err)
	}
	return nil
}

func systemEntries(ids []uint, message string, actor *string) []ActivityInput {
	entries := make([]ActivityInput, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, ActivityInput{
			RequestID: id,
			Type:      models.ActivitySystem,
			Message:   message,
			ActorID:   actor,
		})
	}
	return entries
}

// deleteRequestRows hard deletes requests and every row that belongs to them.
// Audit logs stay.
func deleteRequestRows(tx *gorm.DB, ids []uint) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var keys []string
	if err := tx.Model(&models.Attachment{}).Where("request_id IN ?", ids).Pluck("storage_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	dependents := []interface{}{
		&models.Attachment{},
		&models.Activity{},
		&models.ClientChangeLog{},
	}
	for _, model := range dependents {
		if err := tx.Where("request_id IN ?", ids).Delete(model).Error; err != nil {
			return nil, fmt.Errorf("failed to delete request dependents: %w", err)
		}
	}
	if err := tx.Where("id IN ?", ids).Delete(&models.Request{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete requests: %w", err)
	}
	return keys, nil
}
