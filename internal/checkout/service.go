package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/discount"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/lock"
	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/payment"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/quote"
)

var (
	ErrEmailRequired  = common.Validation("email is required for guest checkout", nil)
	ErrEmptyCart      = common.Validation("cart is empty", nil)
	ErrNothingToPay   = common.Unprocessable("NOTHING_TO_PAY", "order total must be positive", nil)
	ErrInProgress     = common.NewAppError("CHECKOUT_IN_PROGRESS", "another checkout is in progress", http.StatusConflict, nil)
	ErrPaymentFailure = common.NewAppError("PAYMENT_UNAVAILABLE", "payment provider unavailable, please retry", http.StatusBadGateway, nil)
)

// Shipping is the courier option chosen on the checkout page.
type Shipping struct {
	Courier string        `json:"courier" validate:"required,max=32"`
	Service string        `json:"service" validate:"required,max=64"`
	Cost    pricing.Money `json:"cost" validate:"min=0"`
}

// ClientCalculation is what the storefront displayed. It is compared, never used.
type ClientCalculation struct {
	Subtotal       pricing.Money `json:"subtotal"`
	DiscountAmount pricing.Money `json:"discountAmount"`
	Total          pricing.Money `json:"total"`
}

// Input is the checkout payload.
type Input struct {
	Items             []catalog.Line     `json:"items" validate:"required,min=1,max=50,dive"`
	DiscountCode      string             `json:"discountCode" validate:"max=64"`
	Shipping          Shipping           `json:"shipping"`
	Address           order.Address      `json:"address"`
	Email             string             `json:"email" validate:"omitempty,email,max=254"`
	Notes             string             `json:"notes" validate:"max=500"`
	SessionID         string             `json:"sessionId" validate:"max=128"`
	ClientCalculation *ClientCalculation `json:"clientCalculation"`
}

// Output is returned once the order exists and an invoice is open.
type Output struct {
	OrderID    string             `json:"orderId"`
	Status     order.Status       `json:"status"`
	InvoiceURL string             `json:"invoiceUrl"`
	Items      []pricing.CartItem `json:"items"`
	pricing.Payable
}

// OrderWriter persists orders.
type OrderWriter interface {
	Create(ctx context.Context, q db.DBTX, o *order.Order) error
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// InvoiceOpener opens the payment invoice for a stored order.
type InvoiceOpener interface {
	Open(ctx context.Context, o order.Order) (payment.Invoice, error)
}

// DiscountConsumer marks a code as used once its order exists.
type DiscountConsumer interface {
	Consume(ctx context.Context, c discount.Consumption) error
}

// NameSource looks up product display names for the order snapshot.
type NameSource interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Locker serialises checkouts per customer.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service creates orders from raw cart lines. Totals are always recomputed on the server.
type Service struct {
	Pricer    *quote.Pricer
	Names     NameSource
	Orders    OrderWriter
	DB        db.TxBeginner
	Payments  InvoiceOpener
	Discounts DiscountConsumer
	Events    events.Emitter
	Locks     Locker
	LockTTL   time.Duration
	Currency  string
}

// Create prices, stores and invoices an order for the caller on ctx, or for in.Email when
// the caller is a guest.
func (s *Service) Create(ctx context.Context, in Input) (out Output, err error) {
	defer func() {
		obs.IncVec(obs.CheckoutTotal, outcome(err))
	}()

	email := common.CustomerEmail(ctx)
	authenticated := email != ""
	if !authenticated {
		email = common.NormalizeEmail(in.Email)
	}
	if email == "" {
		return Output{}, ErrEmailRequired
	}

	run := func(ctx context.Context) error {
		var runErr error
		out, runErr = s.create(ctx, in, email, authenticated)
		return runErr
	}
	if s.Locks == nil {
		err = run(ctx)
	} else {
		err = s.Locks.WithLock(ctx, lock.CheckoutKey(email), s.LockTTL, run)
	}
	if errors.Is(err, lock.ErrBusy) {
		return Output{}, ErrInProgress
	}
	return out, err
}

func (s *Service) create(ctx context.Context, in Input, email string, authenticated bool) (Output, error) {
	log := zerolog.Ctx(ctx)

	priced, err := s.Pricer.Price(ctx, in.Items, in.DiscountCode)
	if err != nil {
		return Output{}, err
	}
	if priced.DiscountErr != nil {
		return Output{}, priced.DiscountErr
	}
	if len(priced.Items) == 0 {
		return Output{}, ErrEmptyCart
	}
	payable := pricing.WithShipping(priced.Calculation, in.Shipping.Cost)
	if payable.GrandTotal <= 0 {
		return Output{}, ErrNothingToPay
	}
	if c := in.ClientCalculation; c != nil && mismatched(*c, priced.Calculation) {
		obs.Inc(obs.CheckoutPriceMismatchTotal)
		log.Warn().
			Int64("client_total", c.Total).
			Int64("server_total", priced.Calculation.Total).
			Int64("client_discount", c.DiscountAmount).
			Int64("server_discount", priced.Calculation.DiscountAmount).
			Msg("client calculation differs from server, using server totals")
	}

	o := order.Order{
		CustomerEmail:   email,
		Authenticated:   authenticated,
		Currency:        s.currency(),
		ShippingCourier: in.Shipping.Courier,
		ShippingService: in.Shipping.Service,
		ShippingAddress: in.Address,
		Notes:           in.Notes,
	}
	o.ApplyPricing(payable)
	o.Items = order.ItemsFrom(priced.Items, s.names(ctx, priced.Items))

	if err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		return s.Orders.Create(ctx, tx, &o)
	}); err != nil {
		return Output{}, err
	}
	log.Info().Str("order_id", o.ID).Int64("grand_total", o.GrandTotal).Str("discount_kind", o.DiscountKind).Msg("order created")

	inv, err := s.Payments.Open(ctx, o)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("open invoice")
		if _, cancelErr := s.Orders.MarkCancelled(context.WithoutCancel(ctx), o.ID); cancelErr != nil {
			log.Warn().Err(cancelErr).Str("order_id", o.ID).Msg("cancel order without invoice")
		}
		return Output{}, ErrPaymentFailure.WithDetails(map[string]any{"orderId": o.ID})
	}

	applied := priced.Calculation.AppliedDiscount
	if applied != nil {
		obs.IncVec(obs.DiscountAppliedTotal, string(applied.Kind), "checkout_"+quote.DiscountSource(applied))
	}
	if d := priced.Discount; d != nil && applied != nil && !applied.Automatic && s.Discounts != nil {
		err := s.Discounts.Consume(ctx, discount.Consumption{
			OrderID:       o.ID,
			Code:          d.Code,
			Kind:          d.Kind,
			CustomerEmail: email,
			OwnerEmail:    d.OwnerEmail,
			Amount:        o.DiscountAmount,
		})
		if err != nil {
			obs.Inc(obs.DiscountConsumeFailures)
			log.Error().Err(err).Str("order_id", o.ID).Str("code", d.Code).Msg("discount not marked as used")
		}
	}

	activity := o.Activity()
	activity.SessionID = in.SessionID
	events.EmitBestEffort(ctx, s.Events, events.Event{Topic: events.TopicOrderCreated, AggregateID: o.ID, Payload: activity})

	return Output{
		OrderID:    o.ID,
		Status:     o.Status,
		InvoiceURL: inv.URL,
		Items:      priced.Items,
		Payable:    payable,
	}, nil
}

func (s *Service) names(ctx context.Context, items []pricing.CartItem) map[string]string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	var names map[string]string
	if s.Names != nil {
		var err error
		if names, err = s.Names.Names(ctx, ids); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("product names unavailable, storing ids")
		}
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = id
		if n := names[id]; n != "" {
			out[id] = n
		}
	}
	return out
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "IDR"
	}
	return s.Currency
}

func mismatched(c ClientCalculation, server pricing.CartCalculation) bool {
	return c.Subtotal != server.Subtotal || c.DiscountAmount != server.DiscountAmount || c.Total != server.Total
}

func outcome(err error) string {
	var appErr *common.AppError
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &appErr):
		return appErr.Code
	default:
		return "error"
	}
}
