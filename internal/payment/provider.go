package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/backend-vape/internal/pricing"
)

// ErrInvalidCallback is returned when a callback fails verification.
var ErrInvalidCallback = errors.New("payment: invalid callback")

// Status is a provider-neutral invoice state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusExpired Status = "EXPIRED"
)

// InvoiceItem is a line shown on the hosted invoice page.
type InvoiceItem struct {
	Name     string
	Quantity int
	Price    pricing.Money
}

// InvoiceFee is an order-level adjustment. Discounts are negative.
type InvoiceFee struct {
	Type  string
	Value pricing.Money
}

// InvoiceRequest captures what a provider needs to open an invoice for an order.
type InvoiceRequest struct {
	OrderID     string
	Amount      pricing.Money
	Currency    string
	PayerEmail  string
	Description string
	Items       []InvoiceItem
	Fees        []InvoiceFee
	SuccessURL  string
	FailureURL  string
	Duration    time.Duration
}

// Invoice is the provider's reference for a payable invoice.
type Invoice struct {
	ID        string
	URL       string
	Status    Status
	ExpiresAt time.Time
}

// CallbackResult is the normalised content of a verified callback.
type CallbackResult struct {
	InvoiceID string
	OrderID   string
	Status    Status
	Amount    pricing.Money
	PaidAt    time.Time
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	VerifyCallback(r *http.Request, body []byte) (CallbackResult, error)
}
