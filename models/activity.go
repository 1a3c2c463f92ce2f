package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityType classifies an entry in a request's history
type ActivityType string

const (
	ActivityComment      ActivityType = "comment"
	ActivityStatusChange ActivityType = "status_change"
	ActivityAssignment   ActivityType = "assignment"
	ActivityFileUpload   ActivityType = "file_upload"
	ActivitySystem       ActivityType = "system"
)

// ErrImmutableActivity is returned when something tries to rewrite history
var ErrImmutableActivity = errors.New("activity entries are immutable")

// Activity is an append-only history entry of a request. Public entries may
// be shown to the submitter and on the landing page feed.
type Activity struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	RequestID uint    `gorm:"not null;index" json:"request_id"`
	ActorID   *string `gorm:"type:uuid" json:"actor_id,omitempty"`

	Type     ActivityType      `gorm:"size:32;not null" json:"type"`
	Message  string            `gorm:"type:text" json:"message"`
	IsPublic bool              `gorm:"not null;default:false;index" json:"is_public"`
	Meta     datatypes.JSONMap `json:"meta,omitempty"`
}

// TableName specifies the table name
func (Activity) TableName() string {
	return "activities"
}

// BeforeUpdate prevents modification of activity entries
func (a *Activity) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableActivity
}

// IsValidActivityType checks the activity type against the known kinds
func IsValidActivityType(t ActivityType) bool {
	switch t {
	case ActivityComment, ActivityStatusChange, ActivityAssignment, ActivityFileUpload, ActivitySystem:
		return true
	}
	return false
}
