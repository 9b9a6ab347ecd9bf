package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db/dbtest"
	"github.com/noah-isme/backend-vape/internal/discount"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/lock"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/payment"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/quote"
)

type memCatalog map[string]catalog.Product

func (m memCatalog) GetByIDs(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m memCatalog) List(context.Context, common.Pagination) ([]catalog.Product, int, error) {
	return nil, 0, nil
}

type profiles map[string]pricing.UserProfile

func (p profiles) CallerProfile(ctx context.Context) *pricing.UserProfile {
	email := common.CustomerEmail(ctx)
	if email == "" {
		return nil
	}
	prof, ok := p[email]
	if !ok {
		return &pricing.UserProfile{Email: email, AccountType: pricing.AccountIndividual}
	}
	return &prof
}

type codes map[string]*pricing.DiscountRecord

func (c codes) Resolve(_ context.Context, code, _ string) (*pricing.DiscountRecord, error) {
	if rec, ok := c[code]; ok {
		return rec, nil
	}
	return nil, common.Unprocessable("INVALID_CODE", "invalid code", discount.ErrUnknown)
}

type stubInvoices struct {
	err    error
	opened []order.Order
}

func (s *stubInvoices) Open(_ context.Context, o order.Order) (payment.Invoice, error) {
	if s.err != nil {
		return payment.Invoice{}, s.err
	}
	s.opened = append(s.opened, o)
	return payment.Invoice{ID: "inv-" + o.ID, URL: "https://pay.example/" + o.ID}, nil
}

type consumeLog struct {
	calls []discount.Consumption
	err   error
}

func (c *consumeLog) Consume(_ context.Context, in discount.Consumption) error {
	c.calls = append(c.calls, in)
	return c.err
}

type emitted []events.Event

func (e *emitted) Emit(_ context.Context, ev events.Event) error {
	*e = append(*e, ev)
	return nil
}

type fixture struct {
	svc      *Service
	db       *dbtest.Fake
	invoices *stubInvoices
	consumed *consumeLog
	events   *emitted
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat := catalog.NewService(memCatalog{
		"bt-1":  {ID: "bt-1", Name: "Mango Ice 30ml", Type: pricing.ProductBottle, Price: 100000, Active: true},
		"pod-1": {ID: "pod-1", Name: "Pod X", Type: pricing.ProductPod, Price: 250000, Active: true},
	})
	ten := decimal.NewFromInt(10)
	fake := dbtest.New().
		On("INSERT INTO orders", func([]any) dbtest.Result { return dbtest.Result{Rows: [][]any{{time.Now()}}} }).
		On("INSERT INTO order_items", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} }).
		On("UPDATE orders SET status", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} })

	f := fixture{db: fake, invoices: &stubInvoices{}, consumed: &consumeLog{}, events: &emitted{}}
	f.svc = &Service{
		Pricer: &quote.Pricer{
			Catalog:  cat,
			Profiles: profiles{"veteran@example.com": {Email: "veteran@example.com", PriorOrderCount: 4}},
			Codes: codes{
				"SARI10": {Code: "SARI10", Name: "Referral from Sari", Percentage: &ten, Kind: pricing.KindReferral, OwnerEmail: "sari@example.com"},
			},
			Engine: pricing.NewEngine(pricing.DefaultRules()),
		},
		Names:     cat,
		Orders:    order.NewStore(fake),
		DB:        fake,
		Payments:  f.invoices,
		Discounts: f.consumed,
		Events:    f.events,
		Locks:     lock.Locker{R: client, MaxWait: time.Second},
		LockTTL:   5 * time.Second,
	}
	return f
}

func asCustomer(email string) context.Context {
	return common.WithCustomer(context.Background(), common.Customer{Email: email})
}

func baseInput() Input {
	return Input{
		Items:    []catalog.Line{{ProductID: "bt-1", Quantity: 3}},
		Shipping: Shipping{Courier: "jne", Service: "REG", Cost: 15000},
		Address:  order.Address{Recipient: "Budi", Phone: "0812", Line1: "Jl. Merdeka 1", City: "Bandung", Province: "Jawa Barat", PostalCode: "40111"},
	}
}

func TestCreateFirstOrderRecomputesOnServer(t *testing.T) {
	f := newFixture(t)
	in := baseInput()
	in.ClientCalculation = &ClientCalculation{Subtotal: 300000, DiscountAmount: 200000, Total: 100000}

	out, err := f.svc.Create(asCustomer("budi@example.com"), in)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(300000), out.Subtotal)
	require.Equal(t, pricing.Money(60000), out.DiscountAmount, "first order 20% of subtotal, not the client figure")
	require.Equal(t, pricing.Money(255000), out.GrandTotal)
	require.Equal(t, pricing.KindFirstOrder, out.AppliedDiscount.Kind)
	require.Equal(t, "https://pay.example/"+out.OrderID, out.InvoiceURL)

	require.Len(t, f.invoices.opened, 1)
	stored := f.invoices.opened[0]
	require.Equal(t, "budi@example.com", stored.CustomerEmail)
	require.True(t, stored.Authenticated)
	require.Equal(t, "Mango Ice 30ml", stored.Items[0].ProductName)
	require.Equal(t, string(pricing.KindFirstOrder), stored.DiscountKind)
	require.Equal(t, 1, f.db.Commits)

	require.Empty(t, f.consumed.calls, "automatic discounts are not consumed")
	require.Len(t, *f.events, 1)
	require.Equal(t, events.TopicOrderCreated, (*f.events)[0].Topic)
}

func TestCreateReferralForReturningCustomerConsumesCode(t *testing.T) {
	f := newFixture(t)
	in := baseInput()
	in.Items = append(in.Items, catalog.Line{ProductID: "pod-1", Quantity: 1})
	in.DiscountCode = "SARI10"

	out, err := f.svc.Create(asCustomer("veteran@example.com"), in)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(550000), out.Subtotal)
	require.Equal(t, pricing.Money(30000), out.DiscountAmount, "10% of bottles only on a repeat order")
	require.Equal(t, pricing.BaseBottles, out.AppliedDiscount.Base)

	require.Len(t, f.consumed.calls, 1)
	c := f.consumed.calls[0]
	require.Equal(t, out.OrderID, c.OrderID)
	require.Equal(t, "sari@example.com", c.OwnerEmail)
	require.Equal(t, pricing.Money(30000), c.Amount)
}

func TestCreateGuestNeedsEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), baseInput())
	require.ErrorIs(t, err, ErrEmailRequired)

	in := baseInput()
	in.Email = "Guest@Example.com"
	out, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, pricing.KindVolume, out.AppliedDiscount.Kind, "guests never get the first-order rate")
	require.False(t, f.invoices.opened[0].Authenticated)
	require.Equal(t, "guest@example.com", f.invoices.opened[0].CustomerEmail)
}

func TestCreateRejectsInvalidCode(t *testing.T) {
	f := newFixture(t)
	in := baseInput()
	in.DiscountCode = "BOGUS"
	_, err := f.svc.Create(asCustomer("budi@example.com"), in)
	require.ErrorIs(t, err, discount.ErrUnknown)
	require.Zero(t, f.db.Called("INSERT INTO orders"))
}

func TestCreateRejectsZeroPayable(t *testing.T) {
	f := newFixture(t)
	face := pricing.Money(150000)
	f.svc.Pricer.Codes.(codes)["HEMAT150"] = &pricing.DiscountRecord{Code: "HEMAT150", Name: "Hemat", FixedAmount: &face, Kind: pricing.KindCustom}
	in := baseInput()
	in.Items = []catalog.Line{{ProductID: "bt-1", Quantity: 1}}
	in.Shipping.Cost = 0
	in.DiscountCode = "HEMAT150"

	_, err := f.svc.Create(asCustomer("budi@example.com"), in)
	require.ErrorIs(t, err, ErrNothingToPay)
	require.Zero(t, f.db.Called("INSERT INTO orders"))
	require.Empty(t, f.invoices.opened)
}

func TestCreateConsumeFailureDoesNotFailCheckout(t *testing.T) {
	f := newFixture(t)
	f.consumed.err = errors.New("deadlock")
	in := baseInput()
	in.DiscountCode = "SARI10"
	_, err := f.svc.Create(asCustomer("budi@example.com"), in)
	require.NoError(t, err)
	require.Len(t, f.consumed.calls, 1)
}

func TestCreateInvoiceFailureCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.invoices.err = errors.New("breaker open")
	_, err := f.svc.Create(asCustomer("budi@example.com"), baseInput())
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PAYMENT_UNAVAILABLE", appErr.Code)
	require.Equal(t, 1, f.db.Called("UPDATE orders SET status"))
	require.Empty(t, *f.events)
}

func TestCreateRollsBackOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	f.db.On("INSERT INTO order_items", func([]any) dbtest.Result { return dbtest.Result{Err: errors.New("fk violation")} })
	_, err := f.svc.Create(asCustomer("budi@example.com"), baseInput())
	require.Error(t, err)
	require.Equal(t, 1, f.db.Rollbacks)
	require.Empty(t, f.invoices.opened)
}

func TestCreateBusyLock(t *testing.T) {
	f := newFixture(t)
	locks := f.svc.Locks.(lock.Locker)
	locks.MaxWait = 20 * time.Millisecond
	f.svc.Locks = locks

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), lock.CheckoutKey("budi@example.com"), time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := f.svc.Create(asCustomer("budi@example.com"), baseInput())
	require.ErrorIs(t, err, ErrInProgress)
}

func TestCheckoutHandler(t *testing.T) {
	f := newFixture(t)
	h := Handler{Svc: f.svc, Validate: validator.New()}

	body, err := json.Marshal(baseInput())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(string(body)))
	req = req.WithContext(asCustomer("budi@example.com"))
	rr := httptest.NewRecorder()
	h.Checkout(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"grandTotal":255000`)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"items":[{"productId":"bt-1","quantity":1}]}`))
	rr = httptest.NewRecorder()
	h.Checkout(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code, "shipping and address are required")
}
