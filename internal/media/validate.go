package media

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the package validator, built once. Struct metadata is
// cached by the validator, so a single instance is shared by all callers.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("igtimestamp", func(fl validator.FieldLevel) bool {
			_, err := ParseTimestamp(fl.Field().String())
			return err == nil
		})
		validate.RegisterStructValidation(pageLevel, Page{})
	})
	return validate
}

// pageLevel enforces rules that differ between top-level feed entries and
// album children: a feed entry must carry its own timestamp, a child may
// inherit the album's.
func pageLevel(sl validator.StructLevel) {
	page := sl.Current().Interface().(Page)
	for i, e := range page.Data {
		if e.Timestamp == "" {
			sl.ReportError(e.Timestamp, fmt.Sprintf("Data[%d].Timestamp", i), "Timestamp", "required", "")
		}
	}
}

// FieldError is one failed constraint.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s failed %s=%s", f.Field, f.Tag, f.Param)
	}
	return fmt.Sprintf("%s failed %s", f.Field, f.Tag)
}

// ValidationError reports that a provider response did not match the
// expected shape.
type ValidationError struct {
	Schema string
	Fields []FieldError
	err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: invalid: %v", e.Schema, e.err)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s: invalid: %s", e.Schema, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.err }

// Validate checks v against its `validate` struct tags. schema names the
// payload in the returned error (e.g. "media page", "user profile").
func Validate(schema string, v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	verr := &ValidationError{Schema: schema, err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{
				Field: strings.TrimPrefix(fe.Namespace(), "Page."),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
	}
	return verr
}

// ValidatePage checks a feed page before it is accepted by the sync stage.
func ValidatePage(p *Page) error {
	if p == nil {
		return &ValidationError{Schema: "media page", err: errors.New("nil page")}
	}
	return Validate("media page", p)
}
