package common

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validator collects field errors and reports them together.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
			break
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Err returns an InvalidInput AppError listing every failed field, or nil.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	messages := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return NewAppError("VALIDATION_FAILED", strings.Join(messages, "; "), ErrInvalidInput)
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value any) *ValidationError

// Required rejects nil, blank strings and empty byte slices.
func Required(fieldName string, value any) *ValidationError {
	missing := &ValidationError{Field: fieldName, Message: "is required"}
	switch v := value.(type) {
	case nil:
		return missing
	case string:
		if strings.TrimSpace(v) == "" {
			return missing
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return missing
		}
	case []byte:
		if len(v) == 0 {
			return missing
		}
	}
	return nil
}

func MaxLength(max int) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at most %d characters", max)}
		}
		return nil
	}
}

func MaxBytes(max int64) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		b, ok := value.([]byte)
		if !ok {
			return nil
		}
		if int64(len(b)) > max {
			return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be at most %d bytes (got %d)", max, len(b))}
		}
		return nil
	}
}

// OneOf accepts a string that is exactly one of allowed.
func OneOf(allowed ...string) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		str, _ := value.(string)
		for _, a := range allowed {
			if str == a {
				return nil
			}
		}
		return &ValidationError{Field: fieldName, Message: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
	}
}

func UUID(fieldName string, value any) *ValidationError {
	str, ok := value.(string)
	if !ok {
		return &ValidationError{Field: fieldName, Message: "must be a string"}
	}
	if _, err := uuid.Parse(str); err != nil {
		return &ValidationError{Field: fieldName, Message: "must be a valid UUID"}
	}
	return nil
}

// ParseUUID parses an identifier supplied by a caller, mapping failures to InvalidInput.
func ParseUUID(field, raw string) (uuid.UUID, error) {
	if err := NewValidator().Field(field, strings.TrimSpace(raw), Required, UUID).Err(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(strings.TrimSpace(raw)), nil
}
