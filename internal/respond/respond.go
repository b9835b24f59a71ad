// respond.go -- Package-wide HTTP response helpers.
//
// Every failure uses the same envelope: {"error":"<code>","message":"<optional>"}.
// Clients branch on the code; messages are for humans only.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/kiwi-labs/kiwi-api/internal/logging"
)

// Stable error codes. These are the client contract.
const (
	CodeUnauthorized         = "unauthorized"
	CodeBadRequest           = "bad_request"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeInvalidModelResponse = "invalid_model_response"
	CodeInternal             = "internal_error"
	CodeMissingToken         = "missing_token"
	CodeInvalidToken         = "invalid_token"
)

// ErrorBody is the JSON error envelope. Extra fields appear only for the codes that carry them.
type ErrorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Reason   string `json:"reason,omitempty"`   // image validation sub-reason
	ResetsAt string `json:"resetsAt,omitempty"` // quota reset instant, RFC 3339
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Error writes the error envelope with the given status.
func Error(w http.ResponseWriter, status int, body ErrorBody) {
	JSON(w, status, body)
}

// BadRequest returns a 400 with code bad_request.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrorBody{Error: CodeBadRequest, Message: message})
}

// Unauthorized returns a 401. Keep the message generic, it must not reveal which check failed.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, ErrorBody{Error: CodeUnauthorized})
}

// InternalServerError logs the error and returns a generic 500.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Error(r, "internal server error", "error", err)
	Error(w, http.StatusInternalServerError, ErrorBody{Error: CodeInternal})
}
