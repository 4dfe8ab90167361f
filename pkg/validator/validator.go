package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/settlement-api/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	v := playground.New()
	v.SetTagName("validate")
	// Report json names so messages match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &validator{v: v}
}

// Validate checks the struct tags of obj and returns a Validation AppError
// naming the first failing fields.
func (v *validator) Validate(obj interface{}) error {
	if err := v.v.Struct(obj); err != nil {
		return translate(err)
	}
	return nil
}

func (v *validator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := v.v.Var(value, strings.Join(rules, ",")); err != nil {
		var fieldErrs playground.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return errors.NewValidation(fmt.Sprintf("%s failed on %s", field, describe(fieldErrs[0])), err)
		}
		return errors.NewValidation(field+" is invalid", err)
	}
	return nil
}

func translate(err error) error {
	var fieldErrs playground.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.NewValidation("invalid request", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), describe(fe)))
	}
	return errors.NewValidation(strings.Join(msgs, "; "), err)
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	case "datetime":
		return "must match format " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
