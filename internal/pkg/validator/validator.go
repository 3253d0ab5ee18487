package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Money travels as decimal.Decimal; compare it numerically for gt/gte rules.
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		if d, ok := v.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	_ = validate.RegisterValidation("payout_method", oneOf("click", "payme"))
	_ = validate.RegisterValidation("review_decision", oneOf("approve", "reject"))
	_ = validate.RegisterValidation("settle_outcome", oneOf("approved", "rejected"))
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "This field is required"
		case "min":
			out[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			out[field] = "Value is too long (max: " + fe.Param() + ")"
		case "gt":
			out[field] = "Value must be greater than " + fe.Param()
		case "gte":
			out[field] = "Value must be at least " + fe.Param()
		case "lte":
			out[field] = "Value must be at most " + fe.Param()
		case "url":
			out[field] = "Invalid URL format"
		case "uuid":
			out[field] = "Invalid UUID"
		case "payout_method":
			out[field] = "Invalid payout method. Must be: click or payme"
		case "review_decision":
			out[field] = "Invalid decision. Must be: approve or reject"
		case "settle_outcome":
			out[field] = "Invalid outcome. Must be: approved or rejected"
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}
