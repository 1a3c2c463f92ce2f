package services

import (
	"testing"

	"contact_flow_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDepartment(t *testing.T) {
	db := setupTestDB(t)

	first, err := CreateDepartment(db, "  Customer Care ")
	require.NoError(t, err)
	assert.Equal(t, "Customer Care", first.Name)
	assert.Equal(t, "customer-care", first.Slug)

	again, err := CreateDepartment(db, "Customer Care")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = CreateDepartment(db, " ")
	assert.True(t, IsValidationError(err))

	found, err := GetDepartmentBySlug(db, "customer-care")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = GetDepartmentBySlug(db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDepartments(t *testing.T) {
	db := setupTestDB(t)
	seedDepartment(t, db, "Zeta")
	alpha := seedDepartment(t, db, "Alpha")
	require.NoError(t, db.Model(alpha).Update("is_active", false).Error)

	all, err := ListDepartments(db, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alpha", all[0].Name)

	active, err := ListDepartments(db, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Zeta", active[0].Name)
}

func TestCreateStaffUser(t *testing.T) {
	db := setupTestDB(t)
	dept := seedDepartment(t, db, "Billing")

	user, err := CreateStaffUser(db, "Ewa", " EWA@example.com", "long-enough", models.RoleEmployee, &dept.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "ewa@example.com", user.Email)
	assert.NotEqual(t, "long-enough", user.Password)
	require.NotNil(t, user.Profile)
	assert.Equal(t, dept.ID, *user.Profile.DepartmentID)

	tests := []struct {
		name     string
		email    string
		password string
		role     string
		field    string
	}{
		{"Duplicate email", "ewa@example.com", "long-enough", models.RoleAdmin, "email"},
		{"Short password", "new@example.com", "short", models.RoleAdmin, "password"},
		{"Unknown role", "new@example.com", "long-enough", "owner", "role"},
		{"Missing email", "", "long-enough", models.RoleAdmin, "email"},
		{"Malformed email", "not-an-email", "long-enough", models.RoleAdmin, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateStaffUser(db, "Someone", tt.email, tt.password, tt.role, nil, false)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAssignStaffProfile(t *testing.T) {
	db := setupTestDB(t)
	admin := seedStaff(t, db, models.RoleAdmin, nil)
	cert := seedDepartment(t, db, "Cert")

	user := &models.User{Name: "New", Email: "new@example.com", Password: "x", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	_, err := AssignStaffProfile(db, admin, user.ID, models.RoleEmployee, nil)
	assert.True(t, IsValidationError(err), "employees need a department")

	_, err = AssignStaffProfile(db, admin, user.ID, models.RoleEmployee, uintPtr(9999))
	assert.True(t, IsValidationError(err))

	profile, err := AssignStaffProfile(db, admin, user.ID, "", &cert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEmployee, profile.Role)
	assert.Equal(t, cert.ID, *profile.DepartmentID)

	profile, err = AssignStaffProfile(db, admin, user.ID, models.RoleAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, profile.Role)
	assert.Equal(t, int64(1), countRows(t, db, &models.StaffProfile{}, "user_id = ?", user.ID))
	assert.Equal(t, int64(2), countRows(t, db, &models.AuditLog{}, "action = ?", models.AuditActionUpdate))

	employee := seedStaff(t, db, models.RoleEmployee, &cert.ID)
	_, err = AssignStaffProfile(db, employee, user.ID, models.RoleAdmin, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = AssignStaffProfile(db, admin, "missing-user", models.RoleAdmin, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStaff(t *testing.T) {
	db := setupTestDB(t)
	dept := seedDepartment(t, db, "Cert")
	seedStaff(t, db, models.RoleEmployee, &dept.ID)

	members, err := ListStaff(db)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NotNil(t, members[0].Profile)
	require.NotNil(t, members[0].Profile.Department)
	assert.Equal(t, "Cert", members[0].Profile.Department.Name)
}

func TestSetStaffActive(t *testing.T) {
	db := setupTestDB(t)
	admin := seedStaff(t, db, models.RoleAdmin, nil)
	target := seedStaff(t, db, models.RoleAdmin, nil)

	_, err := CreateSession(db, target.User.ID, "127.0.0.1", "test")
	require.NoError(t, err)

	require.NoError(t, SetStaffActive(db, admin, target.User.ID, false))

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", target.User.ID).Error)
	assert.False(t, user.IsActive)
	assert.Zero(t, countRows(t, db, &models.Session{}, "user_id = ?", target.User.ID))

	err = SetStaffActive(db, admin, admin.User.ID, false)
	assert.True(t, IsValidationError(err))

	assert.ErrorIs(t, SetStaffActive(db, admin, "missing", true), ErrNotFound)
	assert.ErrorIs(t, SetStaffActive(db, Principal{}, target.User.ID, true), ErrForbidden)
}
