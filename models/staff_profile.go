package models

import "time"

// Staff roles
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// StaffProfile binds a staff account to a role and, for employees, the
// department whose requests they may see.
type StaffProfile struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID       string      `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Role         string      `gorm:"size:16;not null" json:"role"`
	DepartmentID *uint       `gorm:"index" json:"department_id,omitempty"`
	Department   *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
}

// TableName specifies the table name
func (StaffProfile) TableName() string {
	return "staff_profiles"
}

// IsAdmin reports whether the profile bypasses department scoping
func (p *StaffProfile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// IsValidRole checks if the role is valid
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleEmployee
}
