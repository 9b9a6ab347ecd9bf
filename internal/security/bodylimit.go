package security

import (
	"net/http"

	"github.com/noah-isme/backend-vape/internal/common"
)

// BodyLimit rejects requests whose declared length exceeds Max and caps the rest, so
// handlers that decode without their own limit (webhooks) are still bounded.
type BodyLimit struct {
	Max int64
}

// Middleware answers oversized requests with 413 PAYLOAD_TOO_LARGE.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
