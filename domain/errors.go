package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
)

// Field error codes, shared with the HTTP error body.
const (
	CodeMissing     = "missing"
	CodeStringType  = "string_type"
	CodeTooShort    = "string_too_short"
	CodeTooLong     = "string_too_long"
	CodeEnum        = "enum"
	CodeJSONInvalid = "json_invalid"
	CodeNotAnObject = "model_attributes_type"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("task not found")

// NotFoundError reports a lookup of an id with no live task.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Task with ID '%s' not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string
	Message string
	Code    string
}

// ValidationError groups all field errors of a single request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// ValidateTitle returns nil when title holds 1 to MaxTitleLength characters.
func ValidateTitle(title string) *FieldError {
	return validateLength("title", title, 1, MaxTitleLength)
}

// ValidateDescription returns nil when description holds at most MaxDescriptionLength characters.
func ValidateDescription(description string) *FieldError {
	return validateLength("description", description, 0, MaxDescriptionLength)
}

func validateLength(field, value string, min, max int) *FieldError {
	n := utf8.RuneCountInString(value)
	switch {
	case n < min:
		return &FieldError{Field: field, Message: fmt.Sprintf("String should have at least %d %s", min, plural(min)), Code: CodeTooShort}
	case n > max:
		return &FieldError{Field: field, Message: fmt.Sprintf("String should have at most %d %s", max, plural(max)), Code: CodeTooLong}
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "character"
	}
	return "characters"
}

// StatusFieldError is the complaint for a value outside the status enum.
func StatusFieldError(field string) FieldError {
	quoted := make([]string, len(Statuses))
	for i, s := range Statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	msg := "Input should be " + strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
	return FieldError{Field: field, Message: msg, Code: CodeEnum}
}
