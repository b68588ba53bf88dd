package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const defaultBodyLimit = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the request body into dst, writing a 4xx response on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

// withOptional returns r extended with mw, or r itself when mw is nil.
func withOptional(r chi.Router, mw func(http.Handler) http.Handler) chi.Router {
	if mw == nil {
		return r
	}
	return r.With(mw)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeCommonError handles failures shared by every resource and reports whether a response was written.
func writeCommonError(ctx context.Context, w http.ResponseWriter, err error) bool {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, httpx.InvalidField(verr.Field, verr.Message))
	case errors.Is(err, domain.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions for this resource", http.StatusForbidden))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	default:
		return false
	}
	return true
}

// writeUnexpectedError logs err and responds with a generic 500.
func writeUnexpectedError(ctx context.Context, w http.ResponseWriter, code string, err error) {
	requestctx.Logger(ctx).Error("unexpected handler error", zap.String("code", code), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError(code, "internal server error", http.StatusInternalServerError))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

// parsePagination reads pageSize/pageToken (and limit as an alias) from the query string.
func parsePagination(w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	pager, err := pagination.Parse(r.URL.Query(), pagination.Options{SizeParams: []string{"limit"}})
	if err != nil {
		field := "pageToken"
		if errors.Is(err, pagination.ErrInvalidPageSize) {
			field = "pageSize"
		}
		httpx.WriteError(r.Context(), w, httpx.InvalidField(field, err.Error()))
		return domain.Pagination{}, false
	}
	return pager, true
}

type pageResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newPageResponse[S any, T any](page domain.CursorPage[S], build func(S) T) pageResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, build(item))
	}
	return pageResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	return append([]string(nil), values...)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
