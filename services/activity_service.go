package services

import (
	"fmt"

	"contact_flow_app_go/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultPublicFeedSize is the number of entries shown on the landing page
const DefaultPublicFeedSize = 5

// ActivityInput describes a single activity entry to append
type ActivityInput struct {
	RequestID uint
	Type      models.ActivityType
	Message   string
	ActorID   *string
	IsPublic  bool
	Meta      map[string]interface{}
}

// LogActivity appends an activity entry. Callers pass the transaction that
// carries the mutation the entry describes.
func LogActivity(tx *gorm.DB, input ActivityInput) (*models.Activity, error) {
	if input.RequestID == 0 {
		return nil, NewValidationError("request_id", "is required")
	}
	if !models.IsValidActivityType(input.Type) {
		return nil, NewValidationError("type", fmt.Sprintf("unknown activity type %q", input.Type))
	}

	activity := &models.Activity{
		RequestID: input.RequestID,
		ActorID:   input.ActorID,
		Type:      input.Type,
		Message:   input.Message,
		IsPublic:  input.IsPublic,
	}
	if len(input.Meta) > 0 {
		activity.Meta = datatypes.JSONMap(input.Meta)
	}

	if err := tx.Create(activity).Error; err != nil {
		return nil, fmt.Errorf("failed to log activity: %w", err)
	}
	return activity, nil
}

// logActivities appends several entries in one INSERT
func logActivities(tx *gorm.DB, inputs []ActivityInput) error {
	if len(inputs) == 0 {
		return nil
	}
	rows := make([]models.Activity, 0, len(inputs))
	for _, input := range inputs {
		row := models.Activity{
			RequestID: input.RequestID,
			ActorID:   input.ActorID,
			Type:      input.Type,
			Message:   input.Message,
			IsPublic:  input.IsPublic,
		}
		if len(input.Meta) > 0 {
			row.Meta = datatypes.JSONMap(input.Meta)
		}
		rows = append(rows, row)
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to log activities: %w", err)
	}
	return nil
}

// RequestActivities returns the history of one request in chronological order
func RequestActivities(db *gorm.DB, requestID uint, publicOnly bool) ([]models.Activity, error) {
	query := db.Where("request_id = ?", requestID)
	if publicOnly {
		query = query.Where("is_public = ?", true)
	}

	var activities []models.Activity
	err := query.Order("created_at ASC, id ASC").Find(&activities).Error
	return activities, err
}

// PublicFeed returns the most recent public entries across requests that are
// not in the trash, newest first.
func PublicFeed(db *gorm.DB, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = DefaultPublicFeedSize
	}

	var activities []models.Activity
	err := db.Model(&models.Activity{}).
		Joins("JOIN requests ON requests.id = activities.request_id").
		Where("activities.is_public = ? AND requests.is_deleted = ?", true, false).
		Order("activities.created_at DESC, activities.id DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// statusMeta builds the from/to metadata of a status_change entry
func statusMeta(from, to string) map[string]interface{} {
	return map[string]interface{}{"from": from, "to": to}
}
