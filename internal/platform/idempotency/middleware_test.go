package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storefront/api/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newRequest(body, key, user string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if user != "" {
		req = req.WithContext(requestctx.WithSubject(req.Context(), requestctx.Subject{ID: user, Role: "user"}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	})
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(`{}`, "", "usr_1"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls)
	}
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(`{"a":1}`, "key-1", "usr_1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(`{"a":1}`, "key-1", "usr_1"))

	if calls != 1 {
		t.Fatalf("expected handler once, ran %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of first response, got %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestMiddlewareKeysAreScopedPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "shared", "usr_1"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "shared", "usr_2"))

	if calls != 2 {
		t.Fatalf("expected independent execution per caller, ran %d", calls)
	}
}

func TestMiddlewareRejectsDifferentPayload(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"a":1}`, "key-1", "usr_1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"a":2}`, "key-1", "usr_1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_key_conflict")
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "usr_1|key-1", fingerprintOf(newRequest(`{}`, "key-1", "usr_1"), []byte(`{}`), "usr_1"), fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{}`, "key-1", "usr_1"))

	if rec.Code != http.StatusConflict || calls != 0 {
		t.Fatalf("expected 409 without running handler, got %d (calls %d)", rec.Code, calls)
	}
	assertErrorCode(t, rec, "idempotency_in_progress")
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "key-1", "usr_1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{}`, "key-1", "usr_1"))

	if calls != 2 {
		t.Fatalf("expected retry to run handler again, ran %d", calls)
	}
	if rec.Header().Get(replayHeaderName) != "" {
		t.Fatalf("expected fresh response")
	}
}

func TestMiddlewareExpiredRecordRunsAgain(t *testing.T) {
	now := fixedTime
	var calls int
	handler := Middleware(NewMemoryStore(), WithTTL(time.Minute), WithClock(func() time.Time { return now }))(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "key-1", "usr_1"))
	now = now.Add(2 * time.Minute)
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "key-1", "usr_1"))

	if calls != 2 {
		t.Fatalf("expected expired key to be reusable, ran %d", calls)
	}
}

func TestCleanerPurgesExpiredRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	cleaner := NewCleaner(store, 2, nil)
	cleaner.clock = func() time.Time { return fixedTime.Add(time.Hour) }

	removed, err := cleaner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected fresh record to remain, have %d", len(store.records))
	}
}

func TestCleanerScheduleRejectsBadSpec(t *testing.T) {
	cleaner := NewCleaner(NewMemoryStore(), 10, nil)
	if _, err := cleaner.Schedule(cron.New(), "not a schedule", time.Second); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	if _, err := cleaner.Schedule(cron.New(), "@hourly", time.Second); err != nil {
		t.Fatalf("expected hourly schedule to register: %v", err)
	}
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
}
