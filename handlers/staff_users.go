package handlers

import (
	"fmt"
	"net/http"

	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// ListStaffHandler returns every staff account with its profile
func ListStaffHandler(c echo.Context) error {
	members, err := services.ListStaff(db.DB)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"staff": members})
}

// CreateStaffHandler creates a staff account with its profile
func CreateStaffHandler(c echo.Context) error {
	departmentID, err := optionalUint(c.FormValue("department_id"))
	if err != nil {
		return respondError(services.NewValidationError("department_id", "select a valid department"))
	}
	role := c.FormValue("role")
	if role == "" {
		role = models.RoleEmployee
	}

	user, err := services.CreateStaffUser(db.DB,
		c.FormValue("name"),
		c.FormValue("email"),
		c.FormValue("password"),
		role,
		departmentID,
		false,
	)
	if err != nil {
		return respondError(err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionCreate, nil,
		fmt.Sprintf("Created staff account %s (%s)", user.Email, role))
	return c.JSON(http.StatusCreated, user)
}

// AssignProfileHandler sets the role and department of a staff account
func AssignProfileHandler(c echo.Context) error {
	departmentID, err := optionalUint(c.FormValue("department_id"))
	if err != nil {
		return respondError(services.NewValidationError("department_id", "select a valid department"))
	}

	profile, err := services.AssignStaffProfile(db.DB, middleware.GetPrincipal(c), c.Param("id"), c.FormValue("role"), departmentID)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// SetStaffActiveHandler enables or disables a staff account
func SetStaffActiveHandler(c echo.Context) error {
	active := formBool(c, "active")
	if active == nil {
		return respondError(services.NewValidationError("active", "this field is required"))
	}

	if err := services.SetStaffActive(db.DB, middleware.GetPrincipal(c), c.Param("id"), *active); err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": c.Param("id"), "active": *active})
}

// ListDepartmentsHandler returns the departments, active ones only with ?active=1
func ListDepartmentsHandler(c echo.Context) error {
	departments, err := services.ListDepartments(db.DB, c.QueryParam("active") == "1")
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"departments": departments})
}

// CreateDepartmentHandler adds a department
func CreateDepartmentHandler(c echo.Context) error {
	department, err := services.CreateDepartment(db.DB, c.FormValue("name"))
	if err != nil {
		return respondError(err)
	}
	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionCreate, nil,
		"Created department "+department.Name)
	return c.JSON(http.StatusCreated, department)
}
