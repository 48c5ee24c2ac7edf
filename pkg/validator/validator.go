// Package validator applies declarative rules to input values and reports
// field-level failures.
//
//	err := validator.Apply(
//		validator.RequiredString("name", in.Name),
//		validator.Pattern("key", in.Key, featureKeyPattern),
//	)
//	if validator.IsValidationError(err) {
//		// render 422 with validator.ExtractValidationErrors(err)
//	}
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError is a failure on a single field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the set of failures returned by Apply.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field has at least one failure.
func (ve ValidationErrors) Has(field string) bool {
	return slices.ContainsFunc(ve, func(e ValidationError) bool { return e.Field == field })
}

// Rule pairs a check with the error reported when it fails.
type Rule struct {
	Check func() bool
	Error ValidationError
}

// Apply runs every rule and returns ValidationErrors when any fails.
func Apply(rules ...Rule) error {
	var errs ValidationErrors
	for _, r := range rules {
		if !r.Check() {
			errs = append(errs, r.Error)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// IsValidationError reports whether err wraps ValidationErrors.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

// ExtractValidationErrors unwraps ValidationErrors from err, or returns nil.
func ExtractValidationErrors(err error) ValidationErrors {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func RequiredString(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "field is required"},
	}
}

func MaxLenString(field, value string, n int) Rule {
	return Rule{
		Check: func() bool { return len([]rune(value)) <= n },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters long", n)},
	}
}

// Pattern checks value against re. Empty values pass; pair it with
// RequiredString when the field is mandatory.
func Pattern(field, value string, re *regexp.Regexp) Rule {
	return Rule{
		Check: func() bool { return value == "" || re.MatchString(value) },
		Error: ValidationError{Field: field, Message: "has an invalid format"},
	}
}

// OneOf checks value is one of allowed.
func OneOf[T comparable](field string, value T, allowed ...T) Rule {
	return Rule{
		Check: func() bool { return slices.Contains(allowed, value) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be one of %v", allowed)},
	}
}

// Min checks value >= minimum.
func Min[T ~int | ~int32 | ~int64](field string, value, minimum T) Rule {
	return Rule{
		Check: func() bool { return value >= minimum },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at least %v", minimum)},
	}
}

// Custom wraps an arbitrary check.
func Custom(field, message string, check func() bool) Rule {
	return Rule{Check: check, Error: ValidationError{Field: field, Message: message}}
}
