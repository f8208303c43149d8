package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/socialsync/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadGateway, model.NewMutationFailedError("like tweet", 400, "Already liked", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeMutationFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMutationFailed)
	}
	if body.Category != model.CategoryWrite {
		t.Errorf("category = %q, want %q", body.Category, model.CategoryWrite)
	}
	if body.Detail != "Already liked" {
		t.Errorf("detail = %q, want %q", body.Detail, "Already liked")
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"not logged in", model.ErrNotLoggedIn, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"remote 4xx", model.NewMutationFailedError("follow", 400, "Already following", nil), http.StatusUnprocessableEntity, model.ErrCodeMutationFailed},
		{"remote 5xx", model.NewFetchFailedError("feed", 503, "", nil), http.StatusBadGateway, model.ErrCodeFetchFailed},
		{"network", model.NewFetchFailedError("feed", 0, "", errors.New("refused")), http.StatusBadGateway, model.ErrCodeFetchFailed},
		{"wrapped", fmt.Errorf("approve: %w", model.NewFetchFailedError("requests", 500, "", nil)), http.StatusBadGateway, model.ErrCodeFetchFailed},
		{"invalid decision", fmt.Errorf("act: %w", model.ErrInvalidDecision), http.StatusBadRequest, "INVALID_DECISION"},
		{"not mounted", model.ErrNotMounted, http.StatusNotFound, "PAGE_NOT_MOUNTED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			resp := w.Result()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}
