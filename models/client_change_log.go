package models

import "time"

// Fields a token holder may change on their own request
const (
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldCompany     = "company"
	FieldCompanyName = "company_name"
	FieldMessage     = "message"
)

// ClientChangeLog records one field edited by the submitter
type ClientChangeLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RequestID     uint   `gorm:"not null;index" json:"request_id"`
	Field         string `gorm:"size:32;not null" json:"field"`
	PreviousValue string `gorm:"type:text" json:"previous_value"`
	NewValue      string `gorm:"type:text" json:"new_value"`
}

// TableName specifies the table name
func (ClientChangeLog) TableName() string {
	return "client_change_logs"
}
