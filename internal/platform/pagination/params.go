package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/storefront/api/internal/domain"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize to prevent unbounded listings.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// SizeParams lists alternative query keys accepted in place of pageSize, e.g. "limit".
	SizeParams []string
}

// Parse reads pageSize and pageToken from values.
func Parse(values url.Values, opts Options) (domain.Pagination, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > maxSize {
		size = maxSize
	}

	raw := strings.TrimSpace(values.Get("pageSize"))
	for _, key := range opts.SizeParams {
		if raw != "" {
			break
		}
		raw = strings.TrimSpace(values.Get(key))
	}
	if raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(value, maxSize)
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if _, err := DecodeOffset(token); err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{PageSize: size, PageToken: token}, nil
}

// Slice applies the pager to an already ordered result set.
func Slice[T any](items []T, pager domain.Pagination) (domain.CursorPage[T], error) {
	offset, err := DecodeOffset(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if offset >= len(items) {
		return domain.CursorPage[T]{Items: []T{}}, nil
	}
	end := min(offset+size, len(items))
	page := domain.CursorPage[T]{Items: items[offset:end]}
	if end < len(items) {
		page.NextPageToken = EncodeOffset(end)
	}
	return page, nil
}

// Window returns the offset and page size for stores that page natively. Callers fetch
// size+1 rows at offset and pass them to Trim.
func Window(pager domain.Pagination) (int, int, error) {
	offset, err := DecodeOffset(pager.PageToken)
	if err != nil {
		return 0, 0, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return offset, size, nil
}

// Trim builds a page from up to size+1 rows fetched at offset.
func Trim[T any](rows []T, offset, size int) domain.CursorPage[T] {
	if len(rows) <= size {
		if rows == nil {
			rows = []T{}
		}
		return domain.CursorPage[T]{Items: rows}
	}
	return domain.CursorPage[T]{Items: rows[:size], NextPageToken: EncodeOffset(offset + size)}
}
