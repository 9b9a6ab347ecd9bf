package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/backend-vape/internal/order"
)

// InvoiceAttacher stores the invoice reference on an order.
type InvoiceAttacher interface {
	AttachInvoice(ctx context.Context, id, invoiceID, invoiceURL string) error
}

// Service opens invoices for stored orders.
type Service struct {
	Provider   Provider
	Orders     InvoiceAttacher
	Currency   string
	SuccessURL string
	FailureURL string
	Duration   time.Duration
}

// Open creates an invoice for the order's grand total and records it on the order.
// The snapshot amounts are charged as stored; nothing is recomputed here.
func (s *Service) Open(ctx context.Context, o order.Order) (Invoice, error) {
	req := InvoiceRequest{
		OrderID:     o.ID,
		Amount:      o.GrandTotal,
		Currency:    s.Currency,
		PayerEmail:  o.CustomerEmail,
		Description: fmt.Sprintf("Order %s", o.ID),
		SuccessURL:  s.SuccessURL,
		FailureURL:  s.FailureURL,
		Duration:    s.Duration,
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, InvoiceItem{Name: it.ProductName, Quantity: it.Quantity, Price: it.UnitPrice})
	}
	if o.DiscountAmount > 0 {
		req.Fees = append(req.Fees, InvoiceFee{Type: discountLabel(o), Value: -o.DiscountAmount})
	}
	if o.ShippingCost > 0 {
		req.Fees = append(req.Fees, InvoiceFee{Type: "Shipping", Value: o.ShippingCost})
	}
	inv, err := s.Provider.CreateInvoice(ctx, req)
	if err != nil {
		return Invoice{}, err
	}
	if err := s.Orders.AttachInvoice(ctx, o.ID, inv.ID, inv.URL); err != nil {
		return Invoice{}, fmt.Errorf("attach invoice %s: %w", inv.ID, err)
	}
	return inv, nil
}

func discountLabel(o order.Order) string {
	if o.DiscountName != "" {
		return o.DiscountName
	}
	return "Discount"
}
