package domain

import (
	"html"
	"sort"
	"strings"
)

// ProductSort selects the ordering of catalog listings.
type ProductSort string

const (
	SortNewest     ProductSort = "newest"
	SortPriceAsc   ProductSort = "priceAsc"
	SortPriceDesc  ProductSort = "priceDesc"
	SortPopularity ProductSort = "popularity"
)

// ParseProductSort resolves sort keys; unknown or empty values fall back to newest.
func ParseProductSort(value string) ProductSort {
	for _, s := range []ProductSort{SortPriceAsc, SortPriceDesc, SortPopularity, SortNewest} {
		if equalFold(string(s), value) {
			return s
		}
	}
	return SortNewest
}

// ProductQuery filters catalog listings. Zero values do not constrain.
type ProductQuery struct {
	Category string
	Gender   string
	Brand    string
	Material string
	Size     string
	Color    string
	MinPrice *int64
	MaxPrice *int64
	Search   string
	// IncludeDrafts lists unpublished products as well.
	IncludeDrafts bool
	CreatedBy     string
	Sort          ProductSort
}

// Matches reports whether p satisfies every constraint of q.
func (q ProductQuery) Matches(p Product) bool {
	if !q.IncludeDrafts && !p.IsPublished {
		return false
	}
	if q.CreatedBy != "" && p.CreatedBy != q.CreatedBy {
		return false
	}
	if !matchesField(q.Category, p.Category) || !matchesField(q.Gender, p.Gender) ||
		!matchesField(q.Brand, p.Brand) || !matchesField(q.Material, p.Material) {
		return false
	}
	if strings.TrimSpace(q.Size) != "" && !p.HasSize(q.Size) {
		return false
	}
	if strings.TrimSpace(q.Color) != "" && !p.HasColor(q.Color) {
		return false
	}
	if q.MinPrice != nil && p.Price < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && p.Price > *q.MaxPrice {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		// Stored text is HTML-escaped by the sanitizer.
		haystack := strings.ToLower(html.UnescapeString(p.Name + "\n" + p.Description + "\n" + p.Brand))
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func matchesField(want, got string) bool {
	return strings.TrimSpace(want) == "" || equalFold(want, got)
}

// FilterProducts returns the products matching q, sorted by q.Sort.
func FilterProducts(products []Product, q ProductQuery) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if q.Matches(p) {
			out = append(out, p)
		}
	}
	SortProducts(out, q.Sort)
	return out
}

// SortProducts orders products in place. Ties fall back to newest first, then id.
func SortProducts(products []Product, by ProductSort) {
	newer := func(a, b Product) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	}
	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		switch by {
		case SortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case SortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		case SortPopularity:
			if a.SalesCount != b.SalesCount {
				return a.SalesCount > b.SalesCount
			}
		}
		return newer(a, b)
	})
}

// SimilarityTiers returns progressively looser queries used for related-product lookups:
// category and gender, category only, gender only, then the whole published catalog.
func SimilarityTiers(category, gender string) []ProductQuery {
	tiers := make([]ProductQuery, 0, 4)
	if category != "" && gender != "" {
		tiers = append(tiers, ProductQuery{Category: category, Gender: gender})
	}
	if category != "" {
		tiers = append(tiers, ProductQuery{Category: category})
	}
	if gender != "" {
		tiers = append(tiers, ProductQuery{Gender: gender})
	}
	return append(tiers, ProductQuery{})
}
