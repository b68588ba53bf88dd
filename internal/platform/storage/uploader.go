package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnsupportedType is returned for payloads that are not JPEG, PNG, WebP or GIF.
	ErrUnsupportedType = errors.New("storage: unsupported image type")
	// ErrTooLarge is returned when a payload exceeds the configured size limit.
	ErrTooLarge = errors.New("storage: image exceeds size limit")
	// ErrTooManyFiles is returned when a batch exceeds the configured file count.
	ErrTooManyFiles = errors.New("storage: too many files")
)

const maxParallelUploads = 4

// ObjectStore writes and removes objects in a bucket.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object, contentType string, body io.Reader) error
	Remove(ctx context.Context, bucket, object string) error
}

// GCSObjectStore implements ObjectStore on Cloud Storage.
type GCSObjectStore struct {
	client *gcs.Client
}

// NewGCSObjectStore wraps client.
func NewGCSObjectStore(client *gcs.Client) (*GCSObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &GCSObjectStore{client: client}, nil
}

func (s *GCSObjectStore) Put(ctx context.Context, bucket, object, contentType string, body io.Reader) error {
	writer := s.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

func (s *GCSObjectStore) Remove(ctx context.Context, bucket, object string) error {
	err := s.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// File is one image submitted for upload.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploaderConfig configures ImageUploader.
type UploaderConfig struct {
	Bucket        string
	PublicBaseURL string
	MaxFiles      int
	MaxBytes      int64
	Clock         func() time.Time
}

// ImageUploader stores product images and returns their public URLs.
type ImageUploader struct {
	store ObjectStore
	cfg   UploaderConfig
}

// NewImageUploader constructs an ImageUploader.
func NewImageUploader(store ObjectStore, cfg UploaderConfig) (*ImageUploader, error) {
	if store == nil {
		return nil, errors.New("storage: object store is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://storage.googleapis.com"
	}
	return &ImageUploader{store: store, cfg: cfg}, nil
}

// UploadAll uploads files concurrently and returns URLs in input order. If any upload fails
// the objects already written are removed and the first error is returned.
func (u *ImageUploader) UploadAll(ctx context.Context, uploaderID string, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if u.cfg.MaxFiles > 0 && len(files) > u.cfg.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), u.cfg.MaxFiles)
	}

	objects := make([]string, len(files))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelUploads)
	for i, file := range files {
		group.Go(func() error {
			object, err := u.uploadOne(gctx, uploaderID, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Name, err)
			}
			objects[i] = object
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		for _, object := range objects {
			if object != "" {
				_ = u.store.Remove(context.WithoutCancel(ctx), u.cfg.Bucket, object)
			}
		}
		return nil, err
	}

	urls := make([]string, len(objects))
	for i, object := range objects {
		urls[i] = u.publicURL(object)
	}
	return urls, nil
}

func (u *ImageUploader) uploadOne(ctx context.Context, uploaderID string, file File) (string, error) {
	if u.cfg.MaxBytes > 0 && file.Size > u.cfg.MaxBytes {
		return "", ErrTooLarge
	}
	rc, err := file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var body io.Reader = rc
	if u.cfg.MaxBytes > 0 {
		body = io.LimitReader(rc, u.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if u.cfg.MaxBytes > 0 && int64(len(data)) > u.cfg.MaxBytes {
		return "", ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	object, err := ImageObjectPath(uploaderID, contentType, u.cfg.Clock())
	if err != nil {
		return "", err
	}
	if err := u.store.Put(ctx, u.cfg.Bucket, object, contentType, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return object, nil
}

func (u *ImageUploader) publicURL(object string) string {
	return u.cfg.PublicBaseURL + "/" + url.PathEscape(u.cfg.Bucket) + "/" + object
}
