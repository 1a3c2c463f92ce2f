package models

import (
	"strings"
	"time"
)

// Request status
const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusReady      = "ready"
)

// Company codes offered on the public form
const (
	CompanyOne   = "firma1"
	CompanyTwo   = "firma2"
	CompanyThree = "firma3"
	CompanyOther = "inna"
)

// Request is a contact submission tracked through the staff workflow.
type Request struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_requests_listing,priority:3" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Submitter information
	FirstName   string `gorm:"size:100;not null" json:"first_name"`
	LastName    string `gorm:"size:100;not null" json:"last_name"`
	Phone       string `gorm:"size:20;not null" json:"phone"`
	Email       string `gorm:"not null" json:"email"`
	Company     string `gorm:"size:50;not null;index" json:"company"`
	CompanyName string `gorm:"size:255" json:"company_name,omitempty"`
	Message     string `gorm:"type:text;not null" json:"message"`

	// Staff answer
	FinalChanges  string `gorm:"type:text" json:"final_changes,omitempty"`
	FinalResponse string `gorm:"type:text" json:"final_response,omitempty"`

	// Workflow
	Status    string `gorm:"size:32;not null;default:new;index:idx_requests_listing,priority:2" json:"status"`
	IsDeleted bool   `gorm:"not null;default:false;index:idx_requests_listing,priority:1" json:"is_deleted"`

	// Access token (raw value is never stored)
	AccessTokenHash      string     `gorm:"size:128;not null;index" json:"-"`
	// AccessTokenLookup is the unsalted SHA-256 of the raw token, used only
	// to keep raw tokens unique at issuance
	AccessTokenLookup    string     `gorm:"size:64;index" json:"-"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
	AccessEnabled        bool       `gorm:"not null;default:true" json:"access_enabled"`

	// Ownership
	DepartmentID *uint       `gorm:"index" json:"department_id,omitempty"`
	Department   *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	CreatedByID  *string     `gorm:"type:uuid" json:"created_by_id,omitempty"`

	// Version is bumped on every staff or token-holder write and used as a
	// conditional update guard.
	Version int `gorm:"not null;default:1" json:"version"`

	// Relationships
	Attachments []Attachment `gorm:"foreignKey:RequestID" json:"attachments,omitempty"`
}

// TableName specifies the table name for Request model
func (Request) TableName() string {
	return "requests"
}

// FullName joins first and last name
func (r *Request) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// IsEditableByHolder reports whether the token holder may still change the request
func (r *Request) IsEditableByHolder() bool {
	return r.Status == StatusNew
}

// IsValidStatus checks if the status is valid
func IsValidStatus(status string) bool {
	switch status {
	case StatusNew, StatusInProgress, StatusReady:
		return true
	}
	return false
}

// IsValidCompany checks if the company code is one of the offered choices
func IsValidCompany(company string) bool {
	switch company {
	case CompanyOne, CompanyTwo, CompanyThree, CompanyOther:
		return true
	}
	return false
}
