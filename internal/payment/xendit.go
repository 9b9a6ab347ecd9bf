package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/resilience"
)

const xenditName = "xendit"

// XenditConfig configures the Xendit invoice API client.
type XenditConfig struct {
	SecretKey     string
	CallbackToken string
	BaseURL       string
	Timeout       time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
}

// Xendit creates hosted invoices and verifies invoice callbacks.
type Xendit struct {
	secretKey     string
	callbackToken string
	baseURL       string
	http          resilience.HTTPClient
}

// NewXendit builds a client whose requests are traced and retried behind breaker.
func NewXendit(cfg XenditConfig, breaker *resilience.Breaker) *Xendit {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.xendit.co"
	}
	return &Xendit{
		secretKey:     cfg.SecretKey,
		callbackToken: cfg.CallbackToken,
		baseURL:       base,
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			Target:      xenditName,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
		},
	}
}

// Name implements Provider.
func (x *Xendit) Name() string { return xenditName }

type xenditItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type xenditFee struct {
	Type  string `json:"type"`
	Value int64  `json:"value"`
}

type xenditInvoiceRequest struct {
	ExternalID         string       `json:"external_id"`
	Amount             int64        `json:"amount"`
	PayerEmail         string       `json:"payer_email,omitempty"`
	Description        string       `json:"description"`
	InvoiceDuration    int64        `json:"invoice_duration,omitempty"`
	Currency           string       `json:"currency"`
	SuccessRedirectURL string       `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string       `json:"failure_redirect_url,omitempty"`
	Items              []xenditItem `json:"items,omitempty"`
	Fees               []xenditFee  `json:"fees,omitempty"`
}

type xenditInvoice struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	Amount     float64   `json:"amount"`
	InvoiceURL string    `json:"invoice_url"`
	ExpiryDate time.Time `json:"expiry_date"`
	PaidAt     time.Time `json:"paid_at"`
}

// CreateInvoice opens an invoice for the order. The order id doubles as the idempotency key,
// so retries never create a second invoice.
func (x *Xendit) CreateInvoice(ctx context.Context, req InvoiceRequest) (inv Invoice, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		obs.IncVec(obs.PaymentIntentTotal, xenditName, result)
	}()
	if strings.TrimSpace(req.OrderID) == "" {
		return Invoice{}, errors.New("xendit: order id is required")
	}
	if req.Amount <= 0 {
		return Invoice{}, errors.New("xendit: amount must be positive")
	}
	payload := xenditInvoiceRequest{
		ExternalID:         req.OrderID,
		Amount:             req.Amount,
		PayerEmail:         req.PayerEmail,
		Description:        req.Description,
		InvoiceDuration:    int64(req.Duration / time.Second),
		Currency:           valueOr(req.Currency, "IDR"),
		SuccessRedirectURL: req.SuccessURL,
		FailureRedirectURL: req.FailureURL,
	}
	for _, it := range req.Items {
		payload.Items = append(payload.Items, xenditItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}
	for _, f := range req.Fees {
		payload.Fees = append(payload.Fees, xenditFee{Type: f.Type, Value: f.Value})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Invoice{}, fmt.Errorf("xendit: encode invoice: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/v2/invoices", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, fmt.Errorf("xendit: build request: %w", err)
	}
	httpReq.SetBasicAuth(x.secretKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-IDEMPOTENCY-KEY", "order-"+req.OrderID)

	resp, err := x.http.Do(ctx, httpReq)
	if err != nil {
		return Invoice{}, fmt.Errorf("xendit: create invoice: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Invoice{}, fmt.Errorf("xendit: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Invoice{}, fmt.Errorf("xendit: create invoice: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	var out xenditInvoice
	if err := json.Unmarshal(raw, &out); err != nil {
		return Invoice{}, fmt.Errorf("xendit: decode invoice: %w", err)
	}
	if out.ID == "" || out.InvoiceURL == "" {
		return Invoice{}, errors.New("xendit: invoice response missing id or url")
	}
	return Invoice{ID: out.ID, URL: out.InvoiceURL, Status: normaliseStatus(out.Status), ExpiresAt: out.ExpiryDate}, nil
}

// VerifyCallback checks the x-callback-token header and normalises the invoice callback.
func (x *Xendit) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	provided := strings.TrimSpace(r.Header.Get("x-callback-token"))
	if x.callbackToken == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(x.callbackToken)) != 1 {
		return CallbackResult{}, fmt.Errorf("%w: callback token mismatch", ErrInvalidCallback)
	}
	var payload xenditInvoice
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if payload.ID == "" && payload.ExternalID == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing invoice reference", ErrInvalidCallback)
	}
	return CallbackResult{
		InvoiceID: payload.ID,
		OrderID:   payload.ExternalID,
		Status:    normaliseStatus(payload.Status),
		Amount:    int64(payload.Amount),
		PaidAt:    payload.PaidAt,
	}, nil
}

func normaliseStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID", "SETTLED":
		return StatusPaid
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusPending
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
