package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/storage"
)

var (
	// ErrUploadInvalidInput indicates a rejected file: empty batch, wrong type or too large.
	ErrUploadInvalidInput = errors.New("upload service: invalid input")
	// ErrUploadUnavailable indicates the object store failed.
	ErrUploadUnavailable = errors.New("upload service: unavailable")
)

type imageUploader interface {
	UploadAll(ctx context.Context, uploaderID string, files []storage.File) ([]string, error)
}

// UploadServiceDeps wires the image uploader.
type UploadServiceDeps struct {
	Uploader imageUploader
	Logger   func(context.Context, string, map[string]any)
}

type uploadService struct {
	uploader imageUploader
	logger   func(context.Context, string, map[string]any)
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService constructs an UploadService.
func NewUploadService(deps UploadServiceDeps) (UploadService, error) {
	if deps.Uploader == nil {
		return nil, errors.New("upload service: uploader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &uploadService{uploader: deps.Uploader, logger: logger}, nil
}

// UploadImages stores every file or none; a single failure fails the batch.
func (s *uploadService) UploadImages(ctx context.Context, caller Principal, files []storage.File) ([]string, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin}); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, invalidField(ErrUploadInvalidInput, "files", "at least one file is required")
	}
	urls, err := s.uploader.UploadAll(ctx, caller.ID, files)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrTooManyFiles):
			return nil, invalidField(ErrUploadInvalidInput, "files", err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUploadUnavailable, err)
	}
	s.logger(ctx, "upload.completed", map[string]any{"actorID": caller.ID, "files": len(urls)})
	return urls, nil
}
