package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/services"
)

const (
	defaultUploadRequestLimit = 32 << 20
	uploadMemoryLimit         = 8 << 20
)

// multipart field names accepted for image files.
var uploadFields = []string{"images", "image"}

// UploadHandlers accepts multipart product image uploads from admins.
type UploadHandlers struct {
	authn        *auth.Authenticator
	uploads      services.UploadService
	requestLimit int64
}

// NewUploadHandlers constructs upload handlers. A non-positive requestLimit uses the default.
func NewUploadHandlers(authn *auth.Authenticator, uploads services.UploadService, requestLimit int64) *UploadHandlers {
	if requestLimit <= 0 {
		requestLimit = defaultUploadRequestLimit
	}
	return &UploadHandlers{authn: authn, uploads: uploads, requestLimit: requestLimit}
}

// Routes registers POST / under the upload mount.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth(domain.RoleAdmin))
	}
	group.Post("/", h.upload)
}

type uploadResponse struct {
	URLs []string `json:"urls"`
}

func (h *UploadHandlers) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		writeServiceUnavailable(ctx, w, "upload")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.requestLimit)
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "upload exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart/form-data", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := collectUploadFiles(r.MultipartForm)
	if len(files) == 0 {
		httpx.WriteError(ctx, w, httpx.InvalidField("images", "at least one image file is required"))
		return
	}

	urls, err := h.uploads.UploadImages(ctx, auth.PrincipalFromContext(ctx), files)
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, uploadResponse{URLs: urls})
}

func collectUploadFiles(form *multipart.Form) []storage.File {
	if form == nil {
		return nil
	}
	var files []storage.File
	for _, field := range uploadFields {
		for _, header := range form.File[field] {
			files = append(files, storage.File{
				Name: header.Filename,
				Size: header.Size,
				Open: func() (io.ReadCloser, error) { return header.Open() },
			})
		}
	}
	return files
}

func writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrUploadInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUploadUnavailable):
		writeServiceUnavailable(ctx, w, "upload")
	default:
		writeUnexpectedError(ctx, w, "upload_error", err)
	}
}
