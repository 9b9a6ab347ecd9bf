package quote

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Handler serves cart and checkout page quotes.
type Handler struct {
	Pricer   *Pricer
	Validate *validator.Validate
	MaxBody  int64
}

// Request is the quote payload. Prices are never accepted from the client.
type Request struct {
	Items        []catalog.Line `json:"items" validate:"max=50,dive"`
	DiscountCode string         `json:"discountCode" validate:"max=64"`
	ShippingCost pricing.Money  `json:"shippingCost" validate:"min=0"`
}

// Response is the priced cart returned to the storefront.
type Response struct {
	Items []pricing.CartItem `json:"items"`
	pricing.Payable
	DiscountError string `json:"discountError,omitempty"`
}

// Quote handles POST /api/v1/pricing/quote.
func (h Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(w, r, &req, h.MaxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.Validation("invalid quote request", map[string]any{"error": err.Error()}))
		return
	}
	priced, err := h.Pricer.Price(r.Context(), req.Items, req.DiscountCode)
	if err != nil {
		obs.IncVec(obs.QuoteTotal, "error")
		if !common.IsAppError(err) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("price cart")
		}
		common.WriteError(w, err)
		return
	}

	resp := Response{Items: priced.Items, Payable: pricing.WithShipping(priced.Calculation, req.ShippingCost)}
	result := "ok"
	if priced.DiscountErr != nil {
		resp.DiscountError = "invalid code"
		result = "invalid_code"
	}
	obs.IncVec(obs.QuoteTotal, result)
	if d := priced.Calculation.AppliedDiscount; d != nil {
		obs.IncVec(obs.DiscountAppliedTotal, string(d.Kind), "quote_"+DiscountSource(d))
	}
	common.Data(w, http.StatusOK, resp)
}
