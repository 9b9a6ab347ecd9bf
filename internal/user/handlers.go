package user

import (
	"net/http"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Handler exposes profile endpoints.
type Handler struct {
	Service *Service
}

type profileResponse struct {
	Email           string              `json:"email"`
	AccountType     pricing.AccountType `json:"accountType"`
	PriorOrderCount int                 `json:"priorOrderCount"`
	LifetimeSpend   pricing.Money       `json:"lifetimeSpend"`
	FirstOrder      bool                `json:"firstOrderEligible"`
}

// Me handles GET /api/v1/me/profile. Requires authentication.
func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := h.Service.CallerProfile(r.Context())
	if p == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PROFILE_UNAVAILABLE", "profile temporarily unavailable", nil)
		return
	}
	common.Data(w, http.StatusOK, profileResponse{
		Email:           p.Email,
		AccountType:     p.AccountType,
		PriorOrderCount: p.PriorOrderCount,
		LifetimeSpend:   p.LifetimeSpend,
		FirstOrder:      p.FirstOrder(),
	})
}
