package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/storefront/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, InvalidField("items[1].size", "size is required\n"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_request" || body["message"] != "size is required" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["field"] != "items[1].size" {
		t.Fatalf("expected field detail, got %v", body["field"])
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
}

func TestWriteErrorDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("not_found", "", http.StatusNotFound).WithDetails(map[string]any{"status": 200, "message": "ok"})

	WriteError(context.Background(), rec, err)

	var body map[string]any
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &body); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", body["status"])
	}
	if body["message"] != "not found" {
		t.Fatalf("expected default message, got %v", body["message"])
	}
}
