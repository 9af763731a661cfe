// Package validation provides field-level checks for API request bodies
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes one invalid field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e *FieldError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors collects every invalid field of a request
type Errors struct {
	Fields []*FieldError `json:"errors"`
}

func (e *Errors) Error() string {
	switch len(e.Fields) {
	case 0:
		return "validation failed"
	case 1:
		return e.Fields[0].Error()
	}
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return fmt.Sprintf("validation failed for %s", strings.Join(names, ", "))
}

// Add records an invalid field
func (e *Errors) Add(field, message string, value ...string) {
	ferr := &FieldError{Field: field, Message: message}
	if len(value) > 0 {
		ferr.Value = value[0]
	}
	e.Fields = append(e.Fields, ferr)
}

// HasErrors returns true if any field failed
func (e *Errors) HasErrors() bool {
	return len(e.Fields) > 0
}

// ValidateRequired checks a string is not blank
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidatePresent checks an optional JSON field was sent, e.g. a *float64 that is not nil
func ValidatePresent(field string, present bool) error {
	if !present {
		return &FieldError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateMaxLength checks a string has at most max bytes
func ValidateMaxLength(field, value string, max int) error {
	if len(value) > max {
		return &FieldError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters", max),
			Value:   fmt.Sprintf("%d characters", len(value)),
		}
	}
	return nil
}

// ValidateOneOf checks value is one of allowed. Empty values pass; combine with
// ValidateRequired when the field is mandatory.
func ValidateOneOf(field, value string, allowed []string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &FieldError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
		Value:   value,
	}
}

// ValidateRange checks min <= value <= max
func ValidateRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &FieldError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
			Value:   fmt.Sprintf("%d", value),
		}
	}
	return nil
}

// ValidateAll runs every check and returns *Errors listing all failures, or nil
func ValidateAll(checks ...error) error {
	errs := &Errors{}
	for _, err := range checks {
		if err == nil {
			continue
		}
		var ferr *FieldError
		var many *Errors
		switch {
		case errors.As(err, &ferr):
			errs.Fields = append(errs.Fields, ferr)
		case errors.As(err, &many):
			errs.Fields = append(errs.Fields, many.Fields...)
		default:
			errs.Add("", err.Error())
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
