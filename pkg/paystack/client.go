package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quickdish-ng/storefront-backend/pkg/config"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

var (
	errSecretKeyRequired = errors.New("paystack secret key is required")
	errLoggerRequired    = errors.New("paystack logger is required")
	errInvalidSecretKey  = errors.New("paystack secret key must start with sk_test_ or sk_live_")
)

// Client exposes Paystack primitives with centralized auth, logging, timeouts,
// and error mapping.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	currency   string
	logger     *logger.Logger
	metrics    *metrics.PaymentMetrics
}

// NewClient initializes the Paystack wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PaystackConfig, logg *logger.Logger, m *metrics.PaymentMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	if !strings.HasPrefix(secretKey, "sk_test_") && !strings.HasPrefix(secretKey, "sk_live_") {
		return nil, errInvalidSecretKey
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		secretKey:  secretKey,
		currency:   cfg.Currency,
		logger:     logg,
		metrics:    m,
	}

	logg.Info(ctx, "paystack client initialized")
	return c, nil
}

// Currency returns the configured settlement currency.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// InitializeTransaction asks the gateway for a hosted-payment URL for the
// reference/amount pair.
func (c *Client) InitializeTransaction(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	if params.AmountMinor < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initialization amount must be at least one minor unit")
	}
	if params.Email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	c.log(ctx, "request", "initialize_transaction", map[string]any{
		"reference":    params.Reference,
		"amount_minor": params.AmountMinor,
		"email":        params.Email,
	})

	body, raw, err := c.post(ctx, "/transaction/initialize", params.toRequest(), "initialize_transaction")
	if err != nil {
		c.log(ctx, "error", "initialize_transaction", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data initializeData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode initialization payload")
	}

	c.log(ctx, "response", "initialize_transaction", map[string]any{
		"reference":   data.Reference,
		"access_code": data.AccessCode,
	})
	return &InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
		RawPayload:       raw,
	}, nil
}

// VerifyTransaction queries the gateway for the settlement status of a
// reference. A gateway-side "not found" maps to CodeReferenceNotFound so the
// reconciler can distinguish it from transport failures.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	c.log(ctx, "request", "verify_transaction", map[string]any{"reference": reference})

	path := "/transaction/verify/" + url.PathEscape(reference)
	body, raw, err := c.get(ctx, path, "verify_transaction")
	if err != nil {
		c.log(ctx, "error", "verify_transaction", map[string]any{"error": err.Error(), "reference": reference})
		return nil, err
	}

	var data verifyData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode verification payload")
	}

	c.log(ctx, "response", "verify_transaction", map[string]any{
		"reference": data.Reference,
		"status":    data.Status,
	})
	return &VerifyResult{
		Status:      data.Status,
		Reference:   data.Reference,
		AmountMinor: data.Amount,
		Currency:    data.Currency,
		Channel:     data.Channel,
		PaidAt:      data.PaidAt,
		Metadata:    data.Metadata,
		RawPayload:  raw,
	}, nil
}

// IsDuplicateReference reports whether the gateway rejected an initialization
// because the reference string was already used.
func IsDuplicateReference(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		return false
	}
	return strings.Contains(strings.ToLower(typed.Message()), "duplicate")
}

func (c *Client) post(ctx context.Context, path string, payload any, op string) (json.RawMessage, json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, op)
}

func (c *Client) get(ctx context.Context, path string, op string) (json.RawMessage, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	return c.send(req, op)
}

func (c *Client) send(req *http.Request, op string) (json.RawMessage, json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGatewayCall(op, time.Since(start))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("paystack %s failed", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "read gateway response")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paystack %s returned malformed payload", op))
	}

	if resp.StatusCode >= 400 || !env.Status {
		return nil, nil, c.mapGatewayError(resp.StatusCode, env.Message, op)
	}
	return env.Data, raw, nil
}

func (c *Client) mapGatewayError(status int, message, op string) error {
	msg := message
	if msg == "" {
		msg = fmt.Sprintf("paystack %s failed", op)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeConfiguration, msg)
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeReferenceNotFound, msg)
	case strings.Contains(strings.ToLower(msg), "duplicate"):
		return pkgerrors.New(pkgerrors.CodeConflict, msg)
	case status >= 500:
		return pkgerrors.New(pkgerrors.CodeGatewayUnavailable, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeGateway, msg)
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("paystack %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("paystack %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "email", "phone", "authorization"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
