package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxTaxonBodySize = 4 * 1024

// TaxonomyHandlers serves one keyed list, categories or brands, under its own mount point.
type TaxonomyHandlers struct {
	authn *auth.Authenticator
	taxa  services.TaxonomyService
	kind  string
}

// NewTaxonomyHandlers constructs handlers for the list named kind ("category" or "brand").
func NewTaxonomyHandlers(authn *auth.Authenticator, taxa services.TaxonomyService, kind string) *TaxonomyHandlers {
	return &TaxonomyHandlers{authn: authn, taxa: taxa, kind: kind}
}

// Routes wires public reads and superAdmin writes.
func (h *TaxonomyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Get("/{taxonId}", h.get)
	r.Group(func(write chi.Router) {
		if h.authn != nil {
			write.Use(h.authn.RequireAuth(domain.RoleSuperAdmin))
		}
		write.Post("/", h.create)
		write.Put("/{taxonId}", h.update)
		write.Delete("/{taxonId}", h.remove)
	})
}

type taxonRequest struct {
	Name string `json:"name"`
}

type taxonPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func buildTaxonPayload(t services.Taxon) taxonPayload {
	return taxonPayload{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

func (h *TaxonomyHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxa == nil {
		writeServiceUnavailable(ctx, w, h.kind)
		return
	}
	taxa, err := h.taxa.List(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	items := make([]taxonPayload, 0, len(taxa))
	for _, t := range taxa {
		items = append(items, buildTaxonPayload(t))
	}
	writeJSONResponse(w, http.StatusOK, items)
}

func (h *TaxonomyHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxa == nil {
		writeServiceUnavailable(ctx, w, h.kind)
		return
	}
	taxon, err := h.taxa.Get(ctx, chi.URLParam(r, "taxonId"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTaxonPayload(taxon))
}

func (h *TaxonomyHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxa == nil {
		writeServiceUnavailable(ctx, w, h.kind)
		return
	}
	var req taxonRequest
	if !decodeJSONBody(w, r, maxTaxonBodySize, &req) {
		return
	}
	taxon, err := h.taxa.Create(ctx, auth.PrincipalFromContext(ctx), req.Name)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildTaxonPayload(taxon))
}

func (h *TaxonomyHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxa == nil {
		writeServiceUnavailable(ctx, w, h.kind)
		return
	}
	var req taxonRequest
	if !decodeJSONBody(w, r, maxTaxonBodySize, &req) {
		return
	}
	taxon, err := h.taxa.Update(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "taxonId"), req.Name)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTaxonPayload(taxon))
}

func (h *TaxonomyHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxa == nil {
		writeServiceUnavailable(ctx, w, h.kind)
		return
	}
	if err := h.taxa.Delete(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "taxonId")); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": h.kind + " removed"})
}

func (h *TaxonomyHandlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrTaxonInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTaxonNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(h.kind+"_not_found", h.kind+" not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTaxonConflict):
		httpx.WriteError(ctx, w, httpx.NewError(h.kind+"_exists", h.kind+" with this name already exists", http.StatusConflict))
	case errors.Is(err, services.ErrTaxonUnavailable):
		writeServiceUnavailable(ctx, w, h.kind)
	default:
		writeUnexpectedError(ctx, w, h.kind+"_error", err)
	}
}
