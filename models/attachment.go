package models

import "time"

// Attachment is a file uploaded with a request. It is only removed together
// with its parent request.
type Attachment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RequestID uint `gorm:"not null;index" json:"request_id"`

	StorageKey   string  `gorm:"not null" json:"-"`
	OriginalName string  `gorm:"size:255;not null" json:"original_name"`
	ContentType  string  `gorm:"size:255;not null" json:"content_type"`
	Size         int64   `gorm:"not null" json:"size"`
	UploadedByID *string `gorm:"type:uuid" json:"uploaded_by_id,omitempty"`
}

// TableName specifies the table name for Attachment model
func (Attachment) TableName() string {
	return "attachments"
}
