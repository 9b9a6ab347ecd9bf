package checkout

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
)

type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	MaxBody  int64
}

// Checkout handles POST /api/v1/checkout.
func (h Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := common.DecodeJSON(w, r, &in, h.MaxBody); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Validate.Struct(in); err != nil {
		common.WriteError(w, common.Validation("invalid checkout request", map[string]any{"error": err.Error()}))
		return
	}
	out, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		if !common.IsAppError(err) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("checkout failed")
		}
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}
