package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeAndValidate parses the JSON body into dst and runs struct validation.
// Failures come back as CodeValidation with per-field details.
func DecodeAndValidate(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body is not valid JSON").
			WithDetails(map[string]any{"reason": decodeReason(err)})
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]string, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				details[fieldName(fieldErr)] = constraintMessage(fieldErr)
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "request failed validation").
				WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request failed validation")
	}
	return nil
}

func decodeReason(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q expects %s", typeErr.Field, typeErr.Type.String())
	case errors.Is(err, io.EOF):
		return "request body is empty"
	default:
		return err.Error()
	}
}

func fieldName(fieldErr validator.FieldError) string {
	ns := fieldErr.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fieldErr.Field()
}

func constraintMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fieldErr.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fieldErr.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fieldErr.Param())
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed the %q constraint", fieldErr.Tag())
	}
}
