// handler.go -- HTTP surface of the quota ledger.
package quota

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiwi-labs/kiwi-api/internal/auth"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/metrics"
	"github.com/kiwi-labs/kiwi-api/internal/respond"
)

// ExceededMessage is the human-readable text of every quota 429.
const ExceededMessage = "You've reached your daily scan limit."

// Handler exposes the ledger as middleware and a status endpoint.
type Handler struct {
	Ledger *Ledger
}

// RequireQuota rejects requests from users who have used today's quota.
// Must run after auth.RequireAuth.
func (h *Handler) RequireQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			respond.InternalServerError(w, r, errors.New("missing session context"))
			return
		}

		st, err := h.Ledger.Check(r.Context(), userID)
		var exceeded *ExceededError
		if errors.As(err, &exceeded) {
			logging.Info(r, "scan quota exceeded", "user_id", logging.UserID(userID), "used", st.Used)
			h.WriteExceeded(w, exceeded)
			return
		}
		if err != nil {
			respond.InternalServerError(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteExceeded writes the 429 response for a refused scan.
func (h *Handler) WriteExceeded(w http.ResponseWriter, e *ExceededError) {
	metrics.ObserveQuotaRejection()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.Ledger.now(), e.ResetsAt)))
	respond.Error(w, http.StatusTooManyRequests, respond.ErrorBody{
		Error:    respond.CodeRateLimitExceeded,
		Message:  ExceededMessage,
		ResetsAt: e.ResetsAt.UTC().Format(time.RFC3339),
	})
}

// GetQuota handles GET /v1/quota -- returns remaining scans, the limit, and the reset instant.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respond.InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	st, err := h.Ledger.Status(r.Context(), userID)
	if err != nil {
		respond.InternalServerError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, struct {
		Remaining int    `json:"remaining"`
		Limit     int    `json:"limit"`
		ResetsAt  string `json:"resetsAt"`
	}{st.Remaining, st.Limit, st.ResetsAt.UTC().Format(time.RFC3339)})
}

// retryAfterSeconds rounds up to whole seconds, never below 1.
func retryAfterSeconds(now, resetsAt time.Time) int {
	secs := int(math.Ceil(resetsAt.Sub(now).Seconds()))
	return max(1, secs)
}
