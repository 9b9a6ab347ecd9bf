package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db/dbtest"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

const orderID = "5b8f6c1e-2f0a-4c55-9f1e-6a3f1d2c7b10"

func TestApplyPricing(t *testing.T) {
	calc := pricing.Calculate([]pricing.CartItem{
		{ProductID: "pod-1", ProductType: pricing.ProductPod, UnitPrice: 150000, Quantity: 1},
		{ProductID: "bt-1", ProductType: pricing.ProductBottle, UnitPrice: 100000, Quantity: 3},
	}, &pricing.UserProfile{PriorOrderCount: 2}, nil)

	var o Order
	o.ApplyPricing(pricing.WithShipping(calc, 20000))
	require.Equal(t, pricing.Money(450000), o.SubTotal)
	require.Equal(t, pricing.Money(150000), o.DiscountAmount)
	require.Equal(t, pricing.Money(300000), o.TotalPrice)
	require.Equal(t, pricing.Money(320000), o.GrandTotal)
	require.Equal(t, string(pricing.KindBundle), o.DiscountKind)
	require.Empty(t, o.DiscountCode)
}

func TestItemsFromNormalisesLineTotals(t *testing.T) {
	items := ItemsFrom([]pricing.CartItem{
		{ProductID: "bt-1", ProductType: pricing.ProductBottle, UnitPrice: 95000, Quantity: 2, LineTotal: 1},
	}, map[string]string{"bt-1": "Mango Ice 30ml"})
	require.Len(t, items, 1)
	require.Equal(t, pricing.Money(190000), items[0].LineTotal)
	require.Equal(t, "Mango Ice 30ml", items[0].ProductName)
}

func TestStoreCreateWritesOrderAndItems(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := dbtest.New().
		On("INSERT INTO orders", func(args []any) dbtest.Result {
			return dbtest.Result{Rows: [][]any{{created}}}
		}).
		On("INSERT INTO order_items", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} })

	o := &Order{
		CustomerEmail: "budi@example.com",
		Currency:      "IDR",
		Items: []Item{
			{ProductID: "bt-1", ProductName: "Mango", ProductType: pricing.ProductBottle, UnitPrice: 1000, Quantity: 2, LineTotal: 2000},
			{ProductID: "pod-1", ProductName: "Pod", ProductType: pricing.ProductPod, UnitPrice: 5000, Quantity: 1, LineTotal: 5000},
		},
	}
	require.NoError(t, NewStore(fake).Create(context.Background(), nil, o))
	require.NotEmpty(t, o.ID)
	require.Equal(t, StatusPendingPayment, o.Status)
	require.Equal(t, created, o.CreatedAt)
	require.Equal(t, 2, fake.Called("INSERT INTO order_items"))

	insert := fake.Calls()[0]
	require.JSONEq(t, `{"recipient":"","phone":"","line1":"","city":"","province":"","postalCode":""}`, string(insert.Args[15].([]byte)))
}

func TestStoreMarkPaidOnlyOnce(t *testing.T) {
	paid := false
	fake := dbtest.New().On("SET status = 'PAID'", func([]any) dbtest.Result {
		if paid {
			return dbtest.Result{Affected: 0}
		}
		paid = true
		return dbtest.Result{Affected: 1}
	})
	store := NewStore(fake)

	changed, err := store.MarkPaid(context.Background(), orderID, time.Now())
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.MarkPaid(context.Background(), orderID, time.Now())
	require.NoError(t, err)
	require.False(t, changed)
}

func TestStoreGetRejectsMalformedID(t *testing.T) {
	_, err := NewStore(dbtest.New()).Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetLoadsItems(t *testing.T) {
	now := time.Now().UTC()
	fake := dbtest.New().
		On("FROM orders WHERE id", func([]any) dbtest.Result {
			return dbtest.Result{Rows: [][]any{{
				orderID, "budi@example.com", true, "PAID", "IDR", int64(300000), int64(60000),
				"", "First order discount", "first-order", int64(240000), int64(15000), int64(255000),
				"jne", "REG", []byte(`{"city":"Bandung"}`), "", "inv-1", "https://pay/inv-1", now, now,
			}}}
		}).
		On("FROM order_items", func([]any) dbtest.Result {
			return dbtest.Result{Rows: [][]any{{"bt-1", "Mango", "bottle", int64(100000), int64(3), int64(300000)}}}
		})

	o, err := NewStore(fake).Get(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, o.Status)
	require.Equal(t, "Bandung", o.ShippingAddress.City)
	require.Equal(t, pricing.Money(255000), o.GrandTotal)
	require.Equal(t, now, *o.PaidAt)
	require.Len(t, o.Items, 1)
	require.Equal(t, pricing.ProductBottle, o.Items[0].ProductType)
	require.Equal(t, 3, o.Items[0].Quantity)
}

type stubReader struct {
	order     Order
	err       error
	cancelled bool
}

func (s *stubReader) Get(context.Context, string) (Order, error) { return s.order, s.err }

func (s *stubReader) ListByEmail(_ context.Context, email string, _ common.Pagination) ([]Order, int, error) {
	if s.order.CustomerEmail != email {
		return []Order{}, 0, nil
	}
	return []Order{s.order}, 1, nil
}

func (s *stubReader) MarkCancelled(context.Context, string) (bool, error) {
	if s.order.Status != StatusPendingPayment {
		return false, nil
	}
	s.cancelled = true
	return true, nil
}

type emitted []events.Event

func (e *emitted) Emit(_ context.Context, ev events.Event) error {
	*e = append(*e, ev)
	return nil
}

func serve(h Handler, method, path, email string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/orders", h.List)
	r.Get("/orders/{orderId}", h.Get)
	r.Post("/orders/{orderId}/cancel", h.Cancel)
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(common.WithCustomer(req.Context(), common.Customer{Email: email}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandlerHidesOtherCustomersOrders(t *testing.T) {
	h := Handler{Orders: &stubReader{order: Order{ID: orderID, CustomerEmail: "budi@example.com", Status: StatusPaid}}}

	rr := serve(h, http.MethodGet, "/orders/"+orderID, "budi@example.com")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(h, http.MethodGet, "/orders/"+orderID, "mallory@example.com")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerList(t *testing.T) {
	h := Handler{Orders: &stubReader{order: Order{ID: orderID, CustomerEmail: "budi@example.com"}}}
	rr := serve(h, http.MethodGet, "/orders?page=1&limit=5", "budi@example.com")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-Total-Count"))

	var body struct {
		Data       []Order           `json:"data"`
		Pagination common.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, 5, body.Pagination.PerPage)
}

func TestHandlerCancel(t *testing.T) {
	reader := &stubReader{order: Order{ID: orderID, CustomerEmail: "budi@example.com", Status: StatusPendingPayment}}
	sink := &emitted{}
	rr := serve(Handler{Orders: reader, Events: sink}, http.MethodPost, "/orders/"+orderID+"/cancel", "budi@example.com")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, reader.cancelled)
	require.Len(t, *sink, 1)
	require.Equal(t, events.TopicOrderCancelled, (*sink)[0].Topic)

	reader = &stubReader{order: Order{ID: orderID, CustomerEmail: "budi@example.com", Status: StatusPaid}}
	rr = serve(Handler{Orders: reader, Events: sink}, http.MethodPost, "/orders/"+orderID+"/cancel", "budi@example.com")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Len(t, *sink, 1)
}

func TestHandlerStorageError(t *testing.T) {
	h := Handler{Orders: &stubReader{err: errors.New("timeout")}}
	rr := serve(h, http.MethodGet, "/orders/"+orderID, "budi@example.com")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
