package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
	// account resolves the caller's account type; nil treats everyone as individual.
	account func(ctx context.Context) pricing.AccountType
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, account func(ctx context.Context) pricing.AccountType) *Handler {
	return &Handler{service: service, account: account}
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 24, 100)
	account := pricing.AccountIndividual
	if h.account != nil {
		account = h.account(r.Context())
	}
	views, total, err := h.service.List(r.Context(), page, account)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page.TotalItems = total
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": page,
	})
}
