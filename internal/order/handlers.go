package order

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/events"
)

// Reader is the part of Store the customer endpoints need.
type Reader interface {
	Get(ctx context.Context, id string) (Order, error)
	ListByEmail(ctx context.Context, email string, page common.Pagination) ([]Order, int, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// Handler serves order history for the signed-in customer.
type Handler struct {
	Orders Reader
	Events events.Emitter
}

func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	email := common.CustomerEmail(r.Context())
	page := common.ParsePagination(r, 20, 100)
	orders, total, err := h.Orders.ListByEmail(r.Context(), email, page)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list orders")
		common.WriteError(w, err)
		return
	}
	page.TotalItems = total
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": page,
	})
}

func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, o)
}

// Cancel abandons a pending order. Paid and expired orders cannot be cancelled.
func (h Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}
	changed, err := h.Orders.MarkCancelled(r.Context(), o.ID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !changed {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "only pending orders can be cancelled", nil)
		return
	}
	events.EmitBestEffort(r.Context(), h.Events, events.Event{Topic: events.TopicOrderCancelled, AggregateID: o.ID, Payload: o.Activity()})
	common.Data(w, http.StatusOK, map[string]any{"id": o.ID, "status": StatusCancelled})
}

// load fetches the order in the URL, answering 404 for orders owned by someone else.
func (h Handler) load(w http.ResponseWriter, r *http.Request) (Order, bool) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err == nil && !strings.EqualFold(o.CustomerEmail, common.CustomerEmail(r.Context())) {
		err = ErrNotFound
	}
	switch {
	case err == nil:
		return o, true
	case errors.Is(err, ErrNotFound):
		common.WriteError(w, common.NotFound("order not found", err))
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("load order")
		common.WriteError(w, err)
	}
	return Order{}, false
}
