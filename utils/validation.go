package utils

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// tagMessages renders a field error for the tags run configs actually use.
var tagMessages = map[string]func(field, param string) string{
	"required": func(field, _ string) string {
		return fmt.Sprintf("%s is required", field)
	},
	"min": func(field, param string) string {
		return fmt.Sprintf("%s must be at least %s", field, param)
	},
	"max": func(field, param string) string {
		return fmt.Sprintf("%s must be at most %s", field, param)
	},
	"gte": func(field, param string) string {
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	},
	"oneof": func(field, param string) string {
		return fmt.Sprintf("%s must be one of: %s", field, param)
	},
}

// ValidateStruct runs the struct's validate tags and converts failures into
// a ValidationError with per-field messages.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(validationErrors)
	}
	return err
}

// ValidationError carries one message per failed field.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError converts validator failures into field messages.
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		field := fieldErr.Field()
		if render, ok := tagMessages[fieldErr.Tag()]; ok {
			fields[field] = render(field, fieldErr.Param())
		} else {
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, fieldErr.Tag())
		}
	}
	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields returns the per-field messages, or nil for other
// error types.
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

// ValidateRequired rejects empty strings with a named error.
func ValidateRequired(value string, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
