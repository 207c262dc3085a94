package serverutils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func ValidateRequest(req interface{}) error {
	return validate.Struct(req)
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		field := strings.ToLower(e.Field()[:1]) + e.Field()[1:]
		if e.Param() != "" {
			out[field] = e.Tag() + "=" + e.Param()
		} else {
			out[field] = e.Tag()
		}
	}
	return out
}
