package order

import (
	"time"

	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// Address is the shipping destination captured at checkout.
type Address struct {
	Recipient  string `json:"recipient" validate:"required,max=120"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2,omitempty" validate:"max=255"`
	City       string `json:"city" validate:"required,max=120"`
	Province   string `json:"province" validate:"required,max=120"`
	PostalCode string `json:"postalCode" validate:"required,max=16"`
}

// Item is a priced line stored with the order.
type Item struct {
	ProductID   string              `json:"productId"`
	ProductName string              `json:"productName"`
	ProductType pricing.ProductType `json:"productType"`
	UnitPrice   pricing.Money       `json:"unitPrice"`
	Quantity    int                 `json:"quantity"`
	LineTotal   pricing.Money       `json:"lineTotal"`
}

// Order is the persisted snapshot of a checkout. Pricing columns are written once and
// never recomputed.
type Order struct {
	ID              string        `json:"id"`
	CustomerEmail   string        `json:"customerEmail"`
	Authenticated   bool          `json:"-"`
	Status          Status        `json:"status"`
	Currency        string        `json:"currency"`
	SubTotal        pricing.Money `json:"subTotal"`
	DiscountAmount  pricing.Money `json:"discountAmount"`
	DiscountCode    string        `json:"discountCode,omitempty"`
	DiscountName    string        `json:"discountName,omitempty"`
	DiscountKind    string        `json:"discountKind,omitempty"`
	TotalPrice      pricing.Money `json:"totalPrice"`
	ShippingCost    pricing.Money `json:"shippingCost"`
	GrandTotal      pricing.Money `json:"grandTotal"`
	ShippingCourier string        `json:"shippingCourier,omitempty"`
	ShippingService string        `json:"shippingService,omitempty"`
	ShippingAddress Address       `json:"shippingAddress"`
	Notes           string        `json:"notes,omitempty"`
	InvoiceID       string        `json:"-"`
	InvoiceURL      string        `json:"invoiceUrl,omitempty"`
	PaidAt          *time.Time    `json:"paidAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	Items           []Item        `json:"items,omitempty"`
}

// ApplyPricing copies a calculation into the order's snapshot columns.
func (o *Order) ApplyPricing(p pricing.Payable) {
	o.SubTotal = p.Subtotal
	o.DiscountAmount = p.DiscountAmount
	o.TotalPrice = p.Total
	o.ShippingCost = p.ShippingCost
	o.GrandTotal = p.GrandTotal
	o.DiscountCode, o.DiscountName, o.DiscountKind = "", "", ""
	if d := p.AppliedDiscount; d != nil {
		o.DiscountCode = d.Code
		o.DiscountName = d.Name
		o.DiscountKind = string(d.Kind)
	}
}

// ItemsFrom converts priced cart lines into order items. names maps product ids to display names.
func ItemsFrom(lines []pricing.CartItem, names map[string]string) []Item {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		l = l.Normalized()
		items = append(items, Item{
			ProductID:   l.ProductID,
			ProductName: names[l.ProductID],
			ProductType: l.ProductType,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			LineTotal:   l.LineTotal,
		})
	}
	return items
}

// Activity is the event payload describing this order.
func (o Order) Activity() events.OrderActivity {
	return events.OrderActivity{
		OrderID:      o.ID,
		Email:        o.CustomerEmail,
		GrandTotal:   o.GrandTotal,
		DiscountCode: o.DiscountCode,
		DiscountKind: o.DiscountKind,
	}
}
