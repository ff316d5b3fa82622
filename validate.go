package tokenledger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("tokenamount", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return types.ValidAmount(fl.Field().Int())
	})
	_ = v.RegisterValidation("txntype", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return txn.Type(fl.Field().String()).Valid()
	})

	return v
}

// structErr runs struct-tag validation and converts the first failure
// into a ValidationError.
func (l *Ledger) structErr(in any) error {
	err := l.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "input", Message: err.Error(), Err: err}
	}

	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: fieldMessage(fe), Err: verrs}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return fmt.Sprintf("must be at most %s bytes", fe.Param())
	case "tokenamount":
		return fmt.Sprintf("must be between 1 and %d", types.MaxSafeAmount)
	case "txntype":
		return fmt.Sprintf("unknown transaction type %q", fe.Value())
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
