package http

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks the struct tags on request payloads. One instance for
// the whole transport layer; validator caches struct metadata internally.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs tag validation and flattens the result into a
// single client-facing error.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag()+" validation")
	}
	return errors.New(strings.Join(fields, "; "))
}
