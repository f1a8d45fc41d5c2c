package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return out
	}
	for _, e := range ve {
		switch e.Tag() {
		case "required":
			out[e.Field()] = "is required"
		case "email":
			out[e.Field()] = "must be a valid email address"
		case "min":
			out[e.Field()] = fmt.Sprintf("must be at least %s characters", e.Param())
		case "max":
			out[e.Field()] = fmt.Sprintf("must be at most %s characters", e.Param())
		default:
			out[e.Field()] = fmt.Sprintf("failed on %q", e.Tag())
		}
	}
	return out
}

// decode reads a JSON body into T and validates it, writing a 400 on failure.
func decode[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "invalid_input"})
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Code:   "invalid_input",
			Fields: fieldErrors(err),
		})
		return nil, false
	}
	return &req, true
}
