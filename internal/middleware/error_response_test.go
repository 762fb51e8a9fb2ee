package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/secureops/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRiskFilterError("Critical"))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if body.Code != model.ErrCodeInvalidRiskFilter {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRiskFilter)
	}
	if body.Message != "Invalid risk filter: Critical" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestWriteErrorResponse_JSONFieldNames はJSONのフィールド名を検証する。
func TestWriteErrorResponse_JSONFieldNames(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())

	var raw map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, key := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %v", key, raw)
		}
	}
}

func TestWriteFetchError_Returns502(t *testing.T) {
	w := httptest.NewRecorder()
	fe := model.NewFetchError("directory", model.FetchKindAuth, http.StatusForbidden, errors.New("insufficient privileges"))

	WriteFetchError(w, fe)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != model.ErrCodeUpstreamUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUpstreamUnavailable)
	}
	if body.Category != "upstream" {
		t.Errorf("category = %q, want upstream", body.Category)
	}
	if !strings.Contains(body.Message, "directory") {
		t.Errorf("message = %q, should name the failing source", body.Message)
	}
}

// TestWriteInternalServerError_HidesDetails は内部エラーの詳細をレスポンスに含めないことを検証する。
func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, resp)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want system", body.Category)
	}
}
