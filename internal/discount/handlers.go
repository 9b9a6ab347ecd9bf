package discount

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// CodeResolver is satisfied by Resolver.
type CodeResolver interface {
	Resolve(ctx context.Context, code, email string) (*pricing.DiscountRecord, error)
}

// Handler exposes code validation for the cart page.
type Handler struct {
	Resolver CodeResolver
	Validate *validator.Validate
	MaxBody  int64
}

type validateRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// ValidateCode handles POST /api/v1/discounts/validate. The caller's identity comes from the
// token only, so scoped and referral codes are checked against the signed-in customer.
func (h Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := common.DecodeJSON(w, r, &req, h.MaxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.WriteError(w, common.Validation("code is required", nil))
		return
	}
	rec, err := h.Resolver.Resolve(r.Context(), req.Code, common.CustomerEmail(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, Describe(rec))
}
