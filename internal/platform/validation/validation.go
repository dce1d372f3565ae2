// Package validation validates command structs with go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var portCodePattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("portcode", func(fl validator.FieldLevel) bool {
		return portCodePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	// dateorder=Field requires the tagged time to be on or after the named sibling field.
	if err := v.RegisterValidation("dateorder", func(fl validator.FieldLevel) bool {
		end, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		sibling := fl.Parent().FieldByName(fl.Param())
		if !sibling.IsValid() {
			return false
		}
		start, ok := sibling.Interface().(time.Time)
		if !ok {
			return false
		}
		return !end.Before(start)
	}); err != nil {
		panic(err)
	}
	return v
}

// FieldError describes one failed rule.
type FieldError struct {
	Field string
	Rule  string
	Param string
}

// Error aggregates failed rules for one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", f.Field, f.Rule, f.Param))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
	}
	return "validation: " + strings.Join(parts, "; ")
}

// Struct validates v and returns *Error when any rule fails.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Namespace(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

// PortCode reports whether code is a country-prefixed five character port code.
func PortCode(code string) bool {
	return portCodePattern.MatchString(code)
}
