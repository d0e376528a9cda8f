package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxNameLength = 1024

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// NewValidator returns a validator with the catalog's custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()

	// Reject names made only of whitespace.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return v
}

func defaultValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = NewValidator()
	})

	return validate
}

// ValidateStruct validates a meta struct and wraps failures in ErrValidation.
func ValidateStruct(input any) error {
	if err := defaultValidator().Struct(input); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describeValidationError(err))
	}

	return nil
}

// ValidateName checks an entity name such as a namespace, dataset or job name.
func ValidateName(kind, name string) error {
	if err := defaultValidator().Var(name, fmt.Sprintf("notblank,max=%d", maxNameLength)); err != nil {
		return fmt.Errorf("%w: invalid %s name %q", ErrValidation, kind, name)
	}

	return nil
}

// ValidateRunMeta checks run creation input, including the nominal time window.
func ValidateRunMeta(meta RunMeta) error {
	if err := ValidateStruct(meta); err != nil {
		return err
	}

	if meta.ID != nil && *meta.ID == uuid.Nil {
		return fmt.Errorf("%w: run id must not be the nil uuid", ErrValidation)
	}

	if meta.NominalStartTime != nil && meta.NominalEndTime != nil &&
		meta.NominalEndTime.Before(*meta.NominalStartTime) {
		return fmt.Errorf("%w: nominal end time precedes nominal start time", ErrValidation)
	}

	return nil
}

// ValidatePage checks a list request. A zero limit means the default.
func ValidatePage(page Page) (Page, error) {
	if err := ValidateStruct(page); err != nil {
		return Page{}, err
	}

	return page.Normalized(), nil
}

func describeValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}

	messages := make([]string, 0, len(errs))

	for _, fieldErr := range errs {
		switch fieldErr.Tag() {
		case "required", "notblank":
			messages = append(messages, fmt.Sprintf("missing value for required field '%s'", fieldErr.Namespace()))
		default:
			messages = append(messages, fmt.Sprintf("%s should be %s %s, got %v",
				fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Param(), fieldErr.Value()))
		}
	}

	return strings.Join(messages, ", ")
}
