package pagination

import (
	"errors"
	"net/url"
	"testing"

	"github.com/storefront/api/internal/domain"
)

func TestParseDefaults(t *testing.T) {
	pager, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if pager.PageSize != DefaultPageSize || pager.PageToken != "" {
		t.Fatalf("unexpected defaults %+v", pager)
	}
}

func TestParsePageSize(t *testing.T) {
	values := url.Values{}
	values.Set("limit", "500")
	pager, err := Parse(values, Options{SizeParams: []string{"limit"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if pager.PageSize != DefaultMaxPageSize {
		t.Fatalf("expected clamp to %d, got %d", DefaultMaxPageSize, pager.PageSize)
	}

	values.Set("pageSize", "0")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	values.Set("pageSize", "abc")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestParseRejectsBadToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "%%%")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	if EncodeOffset(0) != "" {
		t.Fatalf("expected empty token for zero offset")
	}
	token := EncodeOffset(40)
	offset, err := DecodeOffset(token)
	if err != nil || offset != 40 {
		t.Fatalf("unexpected decode %d %v", offset, err)
	}
}

func TestSliceWalksPages(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	pager := domain.Pagination{PageSize: 2}

	var seen []int
	for i := 0; i < 5; i++ {
		page, err := Slice(items, pager)
		if err != nil {
			t.Fatalf("Slice: %v", err)
		}
		seen = append(seen, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}
	if len(seen) != 5 || seen[4] != 5 {
		t.Fatalf("expected all items across pages, got %v", seen)
	}

	page, err := Slice(items, domain.Pagination{PageSize: 2, PageToken: EncodeOffset(10)})
	if err != nil || len(page.Items) != 0 || page.NextPageToken != "" {
		t.Fatalf("expected empty final page, got %+v %v", page, err)
	}
}

func TestWindowAndTrim(t *testing.T) {
	offset, size, err := Window(domain.Pagination{PageSize: 2, PageToken: EncodeOffset(4)})
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if offset != 4 || size != 2 {
		t.Fatalf("unexpected window %d/%d", offset, size)
	}

	page := Trim([]int{5, 6, 7}, offset, size)
	if len(page.Items) != 2 || page.NextPageToken != EncodeOffset(6) {
		t.Fatalf("unexpected page %+v", page)
	}
	last := Trim([]int{9}, 8, 2)
	if last.NextPageToken != "" || len(last.Items) != 1 {
		t.Fatalf("unexpected last page %+v", last)
	}
	if _, _, err := Window(domain.Pagination{PageToken: "%%%"}); err == nil {
		t.Fatalf("expected invalid token error")
	}
}
