package output

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/giftlists/internal/giftlist"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError lists every way a document breaks the output schema.
type ValidationError struct {
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	return "invalid document: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func documentValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			doc, ok := sl.Current().Interface().(giftlist.Document)
			if !ok {
				return
			}
			if doc.NumberOfLists != len(doc.Lists) {
				sl.ReportError(doc.NumberOfLists, "number_of_lists", "NumberOfLists", "eq_len_lists", fmt.Sprint(len(doc.Lists)))
			}
		}, giftlist.Document{})
		validate = v
	})
	return validate
}

// Validate checks doc against the output schema.
func Validate(doc giftlist.Document) error {
	err := documentValidator().Struct(doc)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate document: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems, Err: err}
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Document.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return fmt.Sprintf("%s must be an absolute URL, got %q", field, fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "eq_len_lists":
		return fmt.Sprintf("%s is %v but lists holds %s", field, fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
