package events

import (
	"context"
	"net/http"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// CartPricer prices reported carts so reminders show trusted totals. Optional.
type CartPricer interface {
	PriceLines(ctx context.Context, lines []CartLine) (pricing.CartCalculation, error)
}

// Handler accepts cart activity reported by the storefront.
type Handler struct {
	Emitter  Emitter
	Pricer   CartPricer
	Validate *validator.Validate
	MaxBody  int64
}

type reportRequest struct {
	Type      string `json:"type" validate:"required"`
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	Items     []struct {
		ProductID string `json:"productId" validate:"required,max=64"`
		Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
	} `json:"items" validate:"max=50,dive"`
}

// Report handles POST /api/v1/events. Only cart.updated and checkout.started are accepted;
// order topics come from the server alone.
func (h Handler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := common.DecodeJSON(w, r, &req, h.MaxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.Validation("invalid event", map[string]any{"error": err.Error()}))
		return
	}
	if !slices.Contains(ClientTopics(), req.Type) {
		common.WriteError(w, common.Validation("unsupported event type", map[string]any{"type": req.Type}))
		return
	}

	activity := CartActivity{SessionID: req.SessionID, Email: common.NormalizeEmail(req.Email)}
	if tokenEmail := common.CustomerEmail(r.Context()); tokenEmail != "" {
		activity.Email = tokenEmail
	}
	for _, it := range req.Items {
		activity.Items = append(activity.Items, CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if h.Pricer != nil && len(activity.Items) > 0 {
		if calc, err := h.Pricer.PriceLines(r.Context(), activity.Items); err == nil {
			activity.Subtotal, activity.Total = calc.Subtotal, calc.Total
		} else {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("price reported cart")
		}
	}

	if err := h.Emitter.Emit(r.Context(), Event{Topic: req.Type, AggregateID: req.SessionID, Payload: activity}); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("topic", req.Type).Msg("record storefront event")
	}
	w.WriteHeader(http.StatusAccepted)
}
