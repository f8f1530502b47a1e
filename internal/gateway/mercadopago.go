package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// DefaultBaseURL is the Mercado Pago REST API.
const DefaultBaseURL = "https://api.mercadopago.com"

// MercadoPagoConfig contains configuration for the Mercado Pago provider.
type MercadoPagoConfig struct {
	// AccessToken is the seller's access token (APP_USR-... or TEST-...).
	AccessToken string

	// BaseURL overrides the API root. Default: DefaultBaseURL
	BaseURL string

	// MaxRetries is the number of retries for transient failures. Default: 3
	MaxRetries uint64

	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	// Default: 250ms
	RetryBaseDelay time.Duration

	// Timeout bounds each HTTP request. Default: 10s
	Timeout time.Duration

	// HTTPClient replaces the default client (tests).
	HTTPClient *http.Client
}

// Validate checks that required configuration is present.
func (c *MercadoPagoConfig) Validate() error {
	if c.AccessToken == "" {
		return ErrInvalidAccessToken
	}
	return nil
}

// IsTestMode returns true if using sandbox credentials.
func (c *MercadoPagoConfig) IsTestMode() bool {
	return strings.HasPrefix(c.AccessToken, "TEST-")
}

// MercadoPagoProvider implements Provider against the Mercado Pago REST API.
type MercadoPagoProvider struct {
	token      string
	baseURL    string
	maxRetries uint64
	baseDelay  time.Duration
	client     *http.Client
}

var _ Provider = (*MercadoPagoProvider)(nil)

// NewMercadoPagoProvider creates a provider from validated configuration.
func NewMercadoPagoProvider(cfg MercadoPagoConfig) (*MercadoPagoProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &MercadoPagoProvider{
		token:      cfg.AccessToken,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		client:     client,
	}, nil
}

// GetPreapproval fetches GET /preapproval/{id}.
func (p *MercadoPagoProvider) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var resp preapprovalResponse
	if err := p.get(ctx, "preapproval", "/preapproval/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}

	return &Preapproval{
		ID:                resp.ID,
		Status:            resp.Status,
		PayerEmail:        resp.PayerEmail,
		ExternalReference: resp.ExternalReference,
		PlanID:            resp.PreapprovalPlanID,
		Reason:            resp.Reason,
		NextPaymentDate:   resp.NextPaymentDate.ptr(),
		DateCreated:       resp.DateCreated.Time,
		LastModified:      resp.LastModified.Time,
	}, nil
}

// GetPayment fetches GET /v1/payments/{id}.
func (p *MercadoPagoProvider) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var resp paymentResponse
	if err := p.get(ctx, "payment", "/v1/payments/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}

	subscriptionID := resp.PointOfInteraction.TransactionData.SubscriptionID
	if subscriptionID == "" {
		if v, ok := resp.Metadata["preapproval_id"].(string); ok {
			subscriptionID = v
		}
	}

	return &Payment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		PayerEmail:        resp.Payer.Email,
		Amount:            resp.TransactionAmount,
		Currency:          resp.CurrencyID,
		SubscriptionID:    subscriptionID,
		Metadata:          resp.Metadata,
		DateCreated:       resp.DateCreated.Time,
		DateApproved:      resp.DateApproved.ptr(),
		LastUpdated:       resp.DateLastUpdated.Time,
	}, nil
}

// get performs an authenticated GET, retrying transport errors, 429 and 5xx.
func (p *MercadoPagoProvider) get(ctx context.Context, operation, path string, out any) error {
	start := time.Now()
	outcome := "success"
	defer func() {
		telemetry.Business.GatewayAPILatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}()

	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.baseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("mercadopago: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.token)
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("mercadopago: %s: %w", path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if resp.StatusCode >= 400 {
			apiErr := decodeAPIError(resp, path)
			if apiErr.Retryable() {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("mercadopago: decode %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		outcome = "error"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
	}
	return err
}

func decodeAPIError(resp *http.Response, path string) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Path: path}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Message
		apiErr.Cause = payload.Error
	}
	return apiErr
}

// =============================================================================
// Wire types
// =============================================================================

type preapprovalResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	PayerEmail        string `json:"payer_email"`
	ExternalReference string `json:"external_reference"`
	PreapprovalPlanID string `json:"preapproval_plan_id"`
	Reason            string `json:"reason"`
	NextPaymentDate   mpTime `json:"next_payment_date"`
	DateCreated       mpTime `json:"date_created"`
	LastModified      mpTime `json:"last_modified"`
}

type paymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Metadata           map[string]any `json:"metadata"`
	DateCreated        mpTime         `json:"date_created"`
	DateApproved       mpTime         `json:"date_approved"`
	DateLastUpdated    mpTime         `json:"date_last_updated"`
	PointOfInteraction struct {
		Type            string `json:"type"`
		TransactionData struct {
			SubscriptionID string `json:"subscription_id"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// mpTime accepts the gateway's timestamp formats and treats null or empty
// strings as the zero time.
type mpTime struct {
	time.Time
}

var mpTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

func (t *mpTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range mpTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("mercadopago: invalid timestamp %q", s)
}

func (t mpTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
