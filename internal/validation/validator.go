// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/herald/internal/models"
)

const errorCode = "VALIDATION_ERROR"

// identifierPattern matches job IDs, service names and domain names.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)

var (
	instance     *validator.Validate
	instanceOnce sync.Once
)

// GetValidator returns the shared validator with the custom tags
// registered. It is safe for concurrent use.
func GetValidator() *validator.Validate {
	instanceOnce.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		_ = instance.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})
	})
	return instance
}

// FieldError describes one failed rule.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// RequestValidationError holds every rule a value failed.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the individual field errors.
func (e *RequestValidationError) Errors() []FieldError {
	return e.errors
}

func (e *RequestValidationError) messages() []string {
	out := make([]string, len(e.errors))
	for i, fe := range e.errors {
		out[i] = fe.Message
	}
	return out
}

func (e *RequestValidationError) Error() string {
	if len(e.errors) == 0 {
		return "validation failed"
	}
	return strings.Join(e.messages(), "; ")
}

// ToAPIError renders the errors as a VALIDATION_ERROR body. A single
// failure carries its field and tag in Details; several carry a "fields" list.
func (e *RequestValidationError) ToAPIError() *models.APIError {
	switch len(e.errors) {
	case 0:
		return &models.APIError{Code: errorCode, Message: "Validation failed"}
	case 1:
		fe := e.errors[0]
		return &models.APIError{
			Code:    errorCode,
			Message: fe.Message,
			Details: map[string]any{"field": fe.Field, "tag": fe.Tag},
		}
	}

	fields := make([]map[string]any, len(e.errors))
	for i, fe := range e.errors {
		fields[i] = map[string]any{"field": fe.Field, "tag": fe.Tag, "message": fe.Message}
	}
	return &models.APIError{
		Code:    errorCode,
		Message: strings.Join(e.messages(), "; "),
		Details: map[string]any{"fields": fields},
	}
}

// ValidateStruct validates s. It returns nil or the failures keyed by
// struct namespace.
func ValidateStruct(s any) *RequestValidationError {
	return collect(GetValidator().Struct(s), "")
}

// ValidateVar validates a single value against tag and reports it as field.
func ValidateVar(field string, value any, tag string) *RequestValidationError {
	return collect(GetValidator().Var(value, tag), field)
}

// collect converts a validator error. A non-empty field overrides the
// namespace reported by the validator.
func collect(err error, field string) *RequestValidationError {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		if field == "" {
			field = "unknown"
		}
		return &RequestValidationError{errors: []FieldError{{Field: field, Tag: "unknown", Message: err.Error()}}}
	}

	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		name := field
		if name == "" {
			name = fe.Namespace()
		}
		out[i] = FieldError{
			Field:   name,
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: describe(name, fe),
		}
	}
	return &RequestValidationError{errors: out}
}

func describe(field string, fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "identifier":
		return field + " may only contain letters, digits and _ . : -"
	case "hostname_port":
		return field + " must be host:port"
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, p)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, p)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, p)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, p)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, p)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, p)
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be %s %s characters", field, bound, p)
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, p)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
