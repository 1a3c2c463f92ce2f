package services

import (
	"errors"
	"fmt"
	"strings"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// CreateDepartment adds a department, or returns the existing one with the same name
func CreateDepartment(db *gorm.DB, name string) (*models.Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("name", "this field is required")
	}

	var department models.Department
	err := db.Where("name = ?", name).First(&department).Error
	if err == nil {
		return &department, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load department: %w", err)
	}

	department = models.Department{Name: name, IsActive: true}
	if err := db.Create(&department).Error; err != nil {
		return nil, fmt.Errorf("failed to create department: %w", err)
	}
	return &department, nil
}

// GetDepartmentBySlug finds a department by slug
func GetDepartmentBySlug(db *gorm.DB, slug string) (*models.Department, error) {
	var department models.Department
	if err := db.Where("slug = ?", slug).First(&department).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &department, nil
}

// ListDepartments returns all departments by name
func ListDepartments(db *gorm.DB, activeOnly bool) ([]models.Department, error) {
	query := db.Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var departments []models.Department
	err := query.Find(&departments).Error
	return departments, err
}

// StaffMember is a staff account with its profile
type StaffMember struct {
	User    models.User          `json:"user"`
	Profile *models.StaffProfile `json:"profile,omitempty"`
}

// ListStaff returns every staff account with its profile, if any
func ListStaff(db *gorm.DB) ([]StaffMember, error) {
	var users []models.User
	if err := db.Preload("Profile").Preload("Profile.Department").Order("name ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	members := make([]StaffMember, 0, len(users))
	for _, user := range users {
		members = append(members, StaffMember{User: user, Profile: user.Profile})
	}
	return members, nil
}

// AssignStaffProfile sets the role and department of a staff account,
// creating the profile as an employee profile when it is missing. Only admins
// may call it. Employees must belong to a department.
func AssignStaffProfile(db *gorm.DB, p Principal, userID, role string, departmentID *uint) (*models.StaffProfile, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if role == "" {
		role = models.RoleEmployee
	}
	if !models.IsValidRole(role) {
		return nil, NewValidationError("role", "select a valid role")
	}
	if role == models.RoleEmployee && departmentID == nil {
		return nil, NewValidationError("department_id", "employees must belong to a department")
	}

	var profile models.StaffProfile
	err := db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if departmentID != nil {
			var count int64
			if err := tx.Model(&models.Department{}).Where("id = ?", *departmentID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return NewValidationError("department_id", "department does not exist")
			}
		}

		err := tx.Where(models.StaffProfile{UserID: userID}).
			Attrs(models.StaffProfile{Role: models.RoleEmployee}).
			FirstOrCreate(&profile).Error
		if err != nil {
			return fmt.Errorf("failed to load staff profile: %w", err)
		}

		oldValues := map[string]interface{}{"role": profile.Role, "department_id": profile.DepartmentID}
		newValues := map[string]interface{}{"role": role, "department_id": departmentID}
		if err := tx.Model(&profile).Updates(map[string]interface{}{
			"role":          role,
			"department_id": departmentID,
		}).Error; err != nil {
			return fmt.Errorf("failed to update staff profile: %w", err)
		}
		profile.Role = role
		profile.DepartmentID = departmentID

		return LogAudit(tx, AuditFromPrincipal(p), models.AuditActionUpdate, nil,
			fmt.Sprintf("Staff profile of %s set to %s", user.Email, role), oldValues, newValues)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

type staffUserInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,max=254,email"`
	Password string `json:"password" validate:"min=8"`
	Role     string `json:"role" validate:"staff_role"`
}

// CreateStaffUser creates an active staff account with a profile
func CreateStaffUser(db *gorm.DB, name, email, password, role string, departmentID *uint, superuser bool) (*models.User, error) {
	input := staffUserInput{
		Name:     strings.TrimSpace(name),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
		Role:     role,
	}
	if err := validateStruct(&input); err != nil {
		return nil, err
	}
	name, email = input.Name, input.Email

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:        name,
		Email:       email,
		Password:    hash,
		IsActive:    true,
		IsSuperuser: superuser,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return NewValidationError("email", "a user with this email already exists")
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		profile := &models.StaffProfile{UserID: user.ID, Role: role, DepartmentID: departmentID}
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create staff profile: %w", err)
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetStaffActive enables or disables a staff account. Disabling ends every
// session of the account.
func SetStaffActive(db *gorm.DB, p Principal, userID string, active bool) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	if p.User != nil && p.User.ID == userID && !active {
		return NewValidationError("user_id", "you cannot deactivate your own account")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
		if result.Error != nil {
			return fmt.Errorf("failed to update user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if !active {
			if err := DeleteAllUserSessions(tx, userID); err != nil {
				return err
			}
		}
		state := "enabled"
		if !active {
			state = "disabled"
		}
		return LogAudit(tx, AuditFromPrincipal(p), models.AuditActionUpdate, nil,
			fmt.Sprintf("Staff account %s %s", userID, state), nil, map[string]interface{}{"is_active": active})
	})
}
