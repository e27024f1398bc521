package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
)

type samplePayload struct {
	Email    string `json:"email" validate:"required,email"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

func TestDecodeAndValidateAccepts(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"ada@example.com","quantity":2}`))

	var payload samplePayload
	require.NoError(t, DecodeAndValidate(req, &payload))
	assert.Equal(t, "ada@example.com", payload.Email)
}

func TestDecodeAndValidateRejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":`))

	var payload samplePayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestDecodeAndValidateRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.co","quantity":1,"extra":true}`))

	var payload samplePayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestDecodeAndValidateReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"not-an-email","quantity":0}`))

	var payload samplePayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "Email")
	assert.Contains(t, details, "Quantity")
}

func TestDecodeAndValidateEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(""))

	var payload samplePayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
