package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// maxBodySize bounds API request bodies.
const maxBodySize = 16 * 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON name so clients can map errors to inputs.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody decodes and validates a JSON request body into T. Validation
// failures come back as a *domain.ValidationError.
func decodeBody[T any](r *http.Request, op string) (*T, error) {
	var payload T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&payload); err != nil {
		return nil, domain.Invalid(op, "Request body must be valid JSON")
	}

	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, domain.Invalid(op, "Invalid request")
		}
		var out error
		for _, fe := range verrs {
			out = domain.AddFieldError(out, fe.Field(), validationMessage(fe))
		}
		if ve, ok := out.(*domain.ValidationError); ok {
			ve.Op = op
		}
		return nil, out
	}

	return &payload, nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
