package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError maps each rejected request field to a readable reason
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

// Error lists the failures in field order so messages are stable
func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = v.Errors[field]
	}
	return strings.Join(parts, "; ")
}

// NewValidationError converts validator output keyed by JSON field name
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Errors: make(map[string]string, len(errs))}
	for _, fe := range errs {
		out.Errors[fe.Field()] = describe(fe)
	}
	return out
}

var tagMessages = map[string]string{
	"required":    "%s is required",
	"uuid":        "%s must be a UUID",
	"card_status": "%s must be one of active, inactive, blocked, expired",
	"card_code":   "%s must be a card code like ABCD-EFGH-JKLM-NPQR",
	"money":       "%s must be a positive amount up to 9999999999.99 with at most two decimal places",
	"future":      "%s must be a date after today (YYYY-MM-DD)",
	"email":       "%s must be an email address",
}

var paramMessages = map[string]string{
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"gt":    "%s must be greater than %s",
	"gte":   "%s must be %s or more",
	"lte":   "%s must be %s or less",
	"oneof": "%s must be one of: %s",
}

func describe(fe validator.FieldError) string {
	if msg, ok := tagMessages[fe.Tag()]; ok {
		return fmt.Sprintf(msg, fe.Field())
	}
	if msg, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(msg, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
