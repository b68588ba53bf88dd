package textutil

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
)

var (
	policiesOnce sync.Once
	strictPolicy *bluemonday.Policy
	richPolicy   *bluemonday.Policy
)

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policiesOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()

		richPolicy = bluemonday.UGCPolicy()
		richPolicy.AllowAttrs("class").OnElements("p", "span", "ul", "ol", "li")
		richPolicy.AllowAttrs("loading").OnElements("img")
		richPolicy.RequireNoFollowOnLinks(true)
	})
	return strictPolicy, richPolicy
}

// PlainText strips all markup and collapses runs of whitespace.
func PlainText(value string) string {
	strict, _ := policies()
	cleaned := html.UnescapeString(strict.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// RichText keeps the user-generated-content subset of HTML used for product descriptions.
func RichText(value string) string {
	_, rich := policies()
	return strings.TrimSpace(rich.Sanitize(value))
}

// Fold returns the caseless form of value for comparisons and index keys.
func Fold(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}

// NormalizeList trims entries, drops empties and removes caseless duplicates.
// The first spelling of each entry wins.
func NormalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = PlainText(value)
		if value == "" {
			continue
		}
		key := Fold(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
