// Package validation wraps go-playground/validator with roomgraph's custom tags
// and turns failures into typed validation errors.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"roomgraph/internal/common/errors"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// FieldError describes a single failed constraint
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Validator validates structs using struct tags
type Validator struct {
	validate *validator.Validate
}

// TransportTypes lists the transports roomgraph can run on
var TransportTypes = []string{"memory", "redis", "rabbitmq", "kafka", "gcp", "nats"}

var (
	defaultValidator *Validator
	defaultOnce      sync.Once
)

// New creates a validator with the custom tags registered
func New() *Validator {
	v := validator.New()
	registerValidators(v)

	// Report yaml/json names so errors match what the user wrote
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &Validator{validate: v}
}

// Struct validates s with the shared validator
func Struct(s interface{}) error {
	defaultOnce.Do(func() { defaultValidator = New() })
	return defaultValidator.Struct(s)
}

// Struct validates s and returns a ValidationError listing every failure
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors := v.FieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}
	messages := make([]string, len(fieldErrors))
	for i, fe := range fieldErrors {
		messages[i] = fe.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

// FieldErrors flattens a validator error into FieldErrors
func (v *Validator) FieldErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "nefield":
		return fmt.Sprintf("field '%s' must differ from %s", err.Field(), err.Param())
	case "room_name":
		return fmt.Sprintf("field '%s' must be a room name without whitespace", err.Field())
	case "cron_spec":
		return fmt.Sprintf("field '%s' must be a valid cron schedule", err.Field())
	case "transport_type":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), strings.Join(TransportTypes, ", "))
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

// ValidRoomName reports whether name can be used as a room name
func ValidRoomName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func registerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("room_name", func(fl validator.FieldLevel) bool {
		return ValidRoomName(fl.Field().String())
	})

	_ = v.RegisterValidation("cron_spec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	_ = v.RegisterValidation("transport_type", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, t := range TransportTypes {
			if value == t {
				return true
			}
		}
		return false
	})
}
