package domain

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Identifier prefixes for catalog-owned entities.
const (
	UserIDPrefix     = "usr_"
	ProductIDPrefix  = "prod_"
	CheckoutIDPrefix = "chk_"
	OrderIDPrefix    = "ord_"
	CategoryIDPrefix = "cat_"
	BrandIDPrefix    = "brd_"
)

// NewID returns a fresh prefixed ULID.
func NewID(prefix string) string {
	return prefix + ulid.Make().String()
}

// ValidID reports whether id carries prefix followed by a well-formed ULID.
func ValidID(prefix, id string) bool {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.TrimPrefix(id, prefix))
	return err == nil
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if equalFold(v, target) {
			return true
		}
	}
	return false
}
