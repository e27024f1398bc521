package responses

import (
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/types"
)

// JSON writes a success envelope with the provided status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, types.SuccessEnvelope{Data: data})
}

// Error maps a domain error onto the wire: status, public message, and
// details only when the code allows exposing them.
func Error(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(logg.WithField(ctx, "error_dump", pkgerrors.Dump(err)), "request failed", err)
	} else {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "request rejected")
	}

	payload := types.APIError{
		Code:    string(typed.Code()),
		Message: meta.PublicMessage,
	}
	if meta.DetailsAllowed {
		if typed.Message() != "" {
			payload.Message = typed.Message()
		}
		payload.Details = typed.Details()
	}
	write(w, meta.HTTPStatus, types.ErrorEnvelope{Error: payload})
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
