package observability

import (
	"context"
	"sync"

	"github.com/storefront/api/internal/platform/requestctx"
)

type subjectKey struct{}

type subjectHolder struct {
	mu      sync.Mutex
	subject requestctx.Subject
}

func (h *subjectHolder) set(s requestctx.Subject) {
	h.mu.Lock()
	h.subject = s
	h.mu.Unlock()
}

func (h *subjectHolder) get() requestctx.Subject {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subject
}

func withSubjectHolder(ctx context.Context, h *subjectHolder) context.Context {
	return context.WithValue(ctx, subjectKey{}, h)
}

func subjectHolderFrom(ctx context.Context) *subjectHolder {
	h, _ := ctx.Value(subjectKey{}).(*subjectHolder)
	return h
}
