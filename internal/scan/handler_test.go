package scan

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/kiwi-labs/kiwi-api/internal/auth"
	"github.com/kiwi-labs/kiwi-api/internal/imagecheck"
	"github.com/kiwi-labs/kiwi-api/internal/quota"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

// multipartRequest builds an authenticated POST /v1/scan carrying data in field.
func (f *fixture) multipartRequest(t *testing.T, field string, data []byte, contentType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="fridge.jpg"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("creating part: %v", err)
	}
	part.Write(data)
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/v1/scan", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r.WithContext(auth.ContextWithSession(r.Context(), f.user, []byte("hash")))
}

func (f *fixture) handler() *Handler {
	ledger := f.svc.Quota.(*quota.Ledger)
	return &Handler{Service: f.svc, Quota: &quota.Handler{Ledger: ledger}}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestHandlerScan_Success(t *testing.T) {
	f := newFixture(validModelJSON, 2)
	w := httptest.NewRecorder()

	f.handler().Scan(w, f.multipartRequest(t, FormField, jpegBytes(50*1024), "image/jpeg"))

	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Ingredients []map[string]any `json:"ingredients"`
		Recipes     []map[string]any `json:"recipes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Ingredients) != 1 || len(body.Recipes) != 1 {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Recipes[0]["cookTimeMinutes"] != float64(5) {
		t.Errorf("cookTimeMinutes: got %v", body.Recipes[0]["cookTimeMinutes"])
	}
	if f.count() != 3 {
		t.Errorf("quota: expected 3, got %d", f.count())
	}
}

func TestHandlerScan_BadUploads(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		data       []byte
		ctype      string
		wantReason string
	}{
		{"missing image field", "photo", jpegBytes(100), "image/jpeg", ReasonMissingImage},
		{"empty file", FormField, nil, "image/jpeg", string(imagecheck.ReasonEmpty)},
		{"png content type", FormField, jpegBytes(100), "image/png", string(imagecheck.ReasonWrongContentType)},
		{"not a jpeg", FormField, []byte("\x89PNG\r\n\x1a\n...."), "", string(imagecheck.ReasonBadMagicBytes)},
		{"too large", FormField, jpegBytes(imagecheck.MaxBytes + 1), "image/jpeg", string(imagecheck.ReasonTooLarge)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(validModelJSON, 0)
			w := httptest.NewRecorder()

			f.handler().Scan(w, f.multipartRequest(t, tt.field, tt.data, tt.ctype))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: expected 400, got %d", w.Code)
			}
			body := decodeError(t, w)
			if body["error"] != "bad_request" || body["reason"] != tt.wantReason {
				t.Errorf("unexpected body %v", body)
			}
			if f.model.Calls() != 0 {
				t.Error("model should not be called")
			}
			if f.count() != 0 {
				t.Error("quota should not be charged")
			}
		})
	}
}

func TestHandlerScan_OversizeBody(t *testing.T) {
	f := newFixture(validModelJSON, 0)
	w := httptest.NewRecorder()

	f.handler().Scan(w, f.multipartRequest(t, FormField, jpegBytes(MaxRequestBytes+1024), "image/jpeg"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: expected 400, got %d", w.Code)
	}
	if body := decodeError(t, w); body["reason"] != string(imagecheck.ReasonTooLarge) {
		t.Errorf("reason: got %q", body["reason"])
	}
}

func TestHandlerScan_OversizeBodyWithWrongType(t *testing.T) {
	f := newFixture(validModelJSON, 0)

	// A 3 MiB field ahead of a 2 MiB PNG pushes the body past the cap mid-image.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	note, _ := mw.CreateFormField("note")
	note.Write(bytes.Repeat([]byte("x"), 3<<20))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+FormField+`"; filename="fridge.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("creating part: %v", err)
	}
	part.Write(jpegBytes(2 << 20))
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/v1/scan", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r = r.WithContext(auth.ContextWithSession(r.Context(), f.user, []byte("hash")))
	w := httptest.NewRecorder()

	f.handler().Scan(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: expected 400, got %d", w.Code)
	}
	if got := decodeError(t, w); got["reason"] != string(imagecheck.ReasonWrongContentType) {
		t.Errorf("reason: expected wrong_content_type, got %q", got["reason"])
	}
	if f.model.Calls() != 0 {
		t.Error("model should not be called")
	}
}

func TestHandlerScan_DeletedAccountIs401(t *testing.T) {
	f := newFixture(validModelJSON, 0)
	f.store.AddUser(&store.User{ID: f.user, Provider: "apple", ProviderSubject: "gone"})
	if err := f.store.DeleteUser(t.Context(), f.user); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	w := httptest.NewRecorder()

	f.handler().Scan(w, f.multipartRequest(t, FormField, jpegBytes(100), "image/jpeg"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: expected 401, got %d", w.Code)
	}
	if body := decodeError(t, w); body["error"] != "unauthorized" {
		t.Errorf("error: got %q", body["error"])
	}
}

func TestHandlerScan_NotMultipart(t *testing.T) {
	f := newFixture(validModelJSON, 0)
	r := httptest.NewRequest(http.MethodPost, "/v1/scan", strings.NewReader(`{"image":"..."}`))
	r.Header.Set("Content-Type", "application/json")
	r = r.WithContext(auth.ContextWithSession(r.Context(), f.user, []byte("hash")))
	w := httptest.NewRecorder()

	f.handler().Scan(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: expected 400, got %d", w.Code)
	}
	if body := decodeError(t, w); body["reason"] != ReasonMissingImage {
		t.Errorf("reason: got %q", body["reason"])
	}
}

func TestHandlerScan_ModelFailuresAre502(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"provider error", "", errors.New("upstream 500")},
		{"malformed output", "not json at all", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.response, 1)
			f.model.Err = tt.err
			w := httptest.NewRecorder()

			f.handler().Scan(w, f.multipartRequest(t, FormField, jpegBytes(100), "image/jpeg"))

			if w.Code != http.StatusBadGateway {
				t.Fatalf("status: expected 502, got %d", w.Code)
			}
			body := decodeError(t, w)
			if body["error"] != "invalid_model_response" {
				t.Errorf("error: got %q", body["error"])
			}
			if strings.Contains(w.Body.String(), "upstream") || strings.Contains(w.Body.String(), "not json") {
				t.Error("provider details must not reach the client")
			}
			if f.count() != 1 {
				t.Errorf("quota should be unchanged, got %d", f.count())
			}
		})
	}
}

func TestHandlerScan_LostRaceIs429(t *testing.T) {
	f := newFixture(validModelJSON, 4)
	w := httptest.NewRecorder()

	f.handler().Scan(w, f.multipartRequest(t, FormField, jpegBytes(100), "image/jpeg"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if body := decodeError(t, w); body["error"] != "rate_limit_exceeded" {
		t.Errorf("error: got %q", body["error"])
	}
}

func TestHandlerScan_MissingSessionContext(t *testing.T) {
	f := newFixture(validModelJSON, 0)
	r := f.multipartRequest(t, FormField, jpegBytes(100), "image/jpeg")
	w := httptest.NewRecorder()

	f.handler().Scan(w, r.WithContext(t.Context()))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: expected 500, got %d", w.Code)
	}
}
