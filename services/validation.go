package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"contact_flow_app_go/models"

	"github.com/go-playground/validator/v10"
)

// inputValidator is the shared struct validator. Field errors are reported under
// the json name of the field.
var inputValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("company", func(fl validator.FieldLevel) bool {
		return models.IsValidCompany(fl.Field().String())
	})
	_ = v.RegisterValidation("staff_role", func(fl validator.FieldLevel) bool {
		return models.IsValidRole(fl.Field().String())
	})
	return v
}

// validateStruct runs the validate tags of s and turns the first failing
// field into a ValidationError
func validateStruct(s interface{}) error {
	err := inputValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	fe := fieldErrs[0]
	return NewValidationError(fe.Field(), validationMessage(fe))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "email":
		return "enter a valid email address"
	case "company":
		return "select a valid company"
	case "staff_role":
		return "select a valid role"
	default:
		return "is invalid"
	}
}
