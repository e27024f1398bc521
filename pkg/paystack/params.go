package paystack

import (
	"encoding/json"
	"time"
)

// InitializeParams carries everything the hosted-payment initialization needs.
// Amount is in the gateway's minor currency unit (kobo), never a float.
type InitializeParams struct {
	Email       string
	AmountMinor int64
	Reference   string
	Currency    string
	CallbackURL string
	Metadata    map[string]any
}

type initializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (p InitializeParams) toRequest() initializeRequest {
	return initializeRequest{
		Email:       p.Email,
		Amount:      p.AmountMinor,
		Reference:   p.Reference,
		Currency:    p.Currency,
		CallbackURL: p.CallbackURL,
		Metadata:    p.Metadata,
	}
}

// InitializeResult is the gateway's answer to a transaction initialization.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	RawPayload       json.RawMessage
}

// VerifyResult is the gateway's settlement report for a reference.
type VerifyResult struct {
	Status      string
	Reference   string
	AmountMinor int64
	Currency    string
	Channel     string
	PaidAt      *time.Time
	Metadata    map[string]any
	RawPayload  json.RawMessage
}

// Settled reports whether the gateway considers the transaction paid.
func (v *VerifyResult) Settled() bool {
	return v != nil && v.Status == StatusSuccess
}

// Gateway transaction statuses reported by the verify endpoint.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusPending   = "pending"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string         `json:"status"`
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Channel   string         `json:"channel"`
	PaidAt    *time.Time     `json:"paid_at"`
	Metadata  map[string]any `json:"metadata"`
}
