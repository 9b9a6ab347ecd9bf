package events

import "github.com/noah-isme/backend-vape/internal/pricing"

// Topic constants for storefront events.
const (
	TopicCartUpdated     = "cart.updated"
	TopicCheckoutStarted = "checkout.started"
	TopicOrderCreated    = "order.created"
	TopicOrderPaid       = "order.paid"
	TopicOrderExpired    = "order.expired"
	TopicOrderCancelled  = "order.cancelled"
)

// ClientTopics are the topics the storefront may report directly.
func ClientTopics() []string {
	return []string{TopicCartUpdated, TopicCheckoutStarted}
}

// CartLine is a product and quantity in a reported cart.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CartActivity is the payload of cart.updated and checkout.started.
type CartActivity struct {
	SessionID string        `json:"sessionId"`
	Email     string        `json:"email,omitempty"`
	Items     []CartLine    `json:"items"`
	Subtotal  pricing.Money `json:"subtotal,omitempty"`
	Total     pricing.Money `json:"total,omitempty"`
}

// OrderActivity is the payload of the order.* topics.
type OrderActivity struct {
	OrderID      string        `json:"orderId"`
	SessionID    string        `json:"sessionId,omitempty"`
	Email        string        `json:"email"`
	GrandTotal   pricing.Money `json:"grandTotal"`
	DiscountCode string        `json:"discountCode,omitempty"`
	DiscountKind string        `json:"discountKind,omitempty"`
}
