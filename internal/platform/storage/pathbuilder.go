package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ImageObjectPath composes products/{uploader}/{yyyy}/{mm}/{ulid}{ext}. The extension is
// derived from the sniffed content type so client-supplied names never reach the bucket.
func ImageObjectPath(uploaderID, contentType string, now time.Time) (string, error) {
	uploader, err := validateSegment("uploaderID", uploaderID)
	if err != nil {
		return "", err
	}
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	now = now.UTC()
	return path.Join("products", uploader, now.Format("2006"), now.Format("01"), strings.ToLower(ulid.Make().String())+ext), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, nil
}
