// handler.go -- HTTP handler for POST /v1/scan.
package scan

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kiwi-labs/kiwi-api/internal/auth"
	"github.com/kiwi-labs/kiwi-api/internal/imagecheck"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/metrics"
	"github.com/kiwi-labs/kiwi-api/internal/quota"
	"github.com/kiwi-labs/kiwi-api/internal/respond"
)

// MaxRequestBytes caps the whole multipart body. Larger than imagecheck.MaxBytes to leave
// room for multipart framing; the image itself is still held to imagecheck.MaxBytes.
const MaxRequestBytes = 4 << 20

// FormField is the multipart field carrying the JPEG.
const FormField = "image"

// ReasonMissingImage is reported when the request has no image field.
const ReasonMissingImage = "missing_image"

// Handler exposes the scan service over HTTP.
type Handler struct {
	Service *Service
	Quota   *quota.Handler // writes the 429 when a concurrent scan took the last slot
}

// Scan handles POST /v1/scan -- multipart upload of one JPEG in field "image".
// Must run after auth.RequireAuth and quota.Handler.RequireQuota.
// Returns 200 ScanResult, 400 for a bad upload, 429 when a concurrent scan used the
// last slot, 502 for model failures, 500 otherwise.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respond.InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	up, reason, err := readUpload(r)
	if err != nil {
		metrics.ObserveScan(metrics.OutcomeInvalidImage)
		logging.Info(r, "scan rejected", "reason", reason, "error", err)
		respond.Error(w, http.StatusBadRequest, respond.ErrorBody{
			Error:   respond.CodeBadRequest,
			Message: uploadMessage(reason),
			Reason:  reason,
		})
		return
	}

	result, err := h.Service.Scan(r.Context(), userID, up)
	var (
		invalid  *imagecheck.ValidationError
		exceeded *quota.ExceededError
	)
	switch {
	case err == nil:
		metrics.ObserveScan(metrics.OutcomeSuccess)
		logging.Info(r, "scan completed",
			"user_id", logging.UserID(userID),
			"latency_ms", time.Since(start).Milliseconds(),
			"ingredient_count", len(result.Ingredients),
			"recipe_count", len(result.Recipes),
		)
		respond.JSON(w, http.StatusOK, result)

	case errors.As(err, &invalid):
		metrics.ObserveScan(metrics.OutcomeInvalidImage)
		logging.Info(r, "scan rejected", "reason", string(invalid.Reason), "user_id", logging.UserID(userID))
		respond.Error(w, http.StatusBadRequest, respond.ErrorBody{
			Error:   respond.CodeBadRequest,
			Message: invalid.Message(),
			Reason:  string(invalid.Reason),
		})

	case errors.As(err, &exceeded):
		metrics.ObserveScan(metrics.OutcomeQuotaExceeded)
		logging.Info(r, "scan quota exceeded after model call", "user_id", logging.UserID(userID))
		h.Quota.WriteExceeded(w, exceeded)

	case errors.Is(err, ErrModelCallFailed):
		metrics.ObserveScan(metrics.OutcomeModelFailed)
		logging.Error(r, "scan failed", "kind", "model_call_failed", "user_id", logging.UserID(userID),
			"latency_ms", time.Since(start).Milliseconds(), "error", err)
		respond.Error(w, http.StatusBadGateway, respond.ErrorBody{Error: respond.CodeInvalidModelResponse})

	case errors.Is(err, ErrModelResponseInvalid):
		metrics.ObserveScan(metrics.OutcomeModelInvalid)
		logging.Error(r, "scan failed", "kind", "model_response_invalid", "user_id", logging.UserID(userID),
			"latency_ms", time.Since(start).Milliseconds(), "error", err)
		respond.Error(w, http.StatusBadGateway, respond.ErrorBody{Error: respond.CodeInvalidModelResponse})

	case errors.Is(err, ErrAccountDeleted):
		metrics.ObserveScan(metrics.OutcomeError)
		logging.Info(r, "scan refused", "reason", "account_deleted", "user_id", logging.UserID(userID))
		respond.Unauthorized(w)

	default:
		metrics.ObserveScan(metrics.OutcomeError)
		respond.InternalServerError(w, r, err)
	}
}

// readUpload pulls the image part out of the multipart body. On failure it returns the
// client-facing reason alongside the error.
func readUpload(r *http.Request) (Upload, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return Upload{}, ReasonMissingImage, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return Upload{}, ReasonMissingImage, errors.New("no image field")
		}
		if err != nil {
			return Upload{}, uploadReason(err), err
		}
		if part.FormName() != FormField {
			part.Close()
			continue
		}
		ctype := part.Header.Get("Content-Type")
		// Read one byte past the limit so oversize images reach the validator as too_large.
		data, err := io.ReadAll(io.LimitReader(part, imagecheck.MaxBytes+1))
		part.Close()
		if err != nil {
			reason := uploadReason(err)
			// The declared type is known even when the body was cut off; it outranks size.
			if reason == string(imagecheck.ReasonTooLarge) && ctype != "" && ctype != imagecheck.ContentTypeJPEG {
				reason = string(imagecheck.ReasonWrongContentType)
			}
			return Upload{}, reason, err
		}
		return Upload{Data: data, ContentType: ctype}, "", nil
	}
}

func uploadReason(err error) string {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return string(imagecheck.ReasonTooLarge)
	}
	return ReasonMissingImage
}

func uploadMessage(reason string) string {
	if reason == ReasonMissingImage {
		return "Missing image field in form data"
	}
	return (&imagecheck.ValidationError{Reason: imagecheck.Reason(reason)}).Message()
}
