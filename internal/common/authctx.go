package common

import (
	"context"
	"strings"
)

type ctxKey string

const customerKey ctxKey = "auth/customer"

// Customer is the identity asserted by a verified session token.
type Customer struct {
	Subject string
	Email   string
	Name    string
}

// WithCustomer stores the authenticated customer on the provided context.
func WithCustomer(ctx context.Context, c Customer) context.Context {
	c.Email = NormalizeEmail(c.Email)
	return context.WithValue(ctx, customerKey, c)
}

// CustomerFrom extracts the authenticated customer from the context if present.
func CustomerFrom(ctx context.Context) (Customer, bool) {
	c, ok := ctx.Value(customerKey).(Customer)
	if !ok || c.Email == "" {
		return Customer{}, false
	}
	return c, true
}

// CustomerEmail returns the authenticated email or an empty string for guests.
func CustomerEmail(ctx context.Context) string {
	c, _ := CustomerFrom(ctx)
	return c.Email
}

// NormalizeEmail lowercases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
