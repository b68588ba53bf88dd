package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestPlainText(t *testing.T) {
	got := PlainText("  <b>Linen</b>   Shirt <script>alert(1)</script>")
	if got != "Linen Shirt" {
		t.Fatalf("unexpected plain text %q", got)
	}
	if got := PlainText("Tom &amp; Jerry"); got != "Tom & Jerry" {
		t.Fatalf("expected entities decoded, got %q", got)
	}
}

func TestRichTextDropsScripts(t *testing.T) {
	got := RichText(`<p>Soft <em>cotton</em></p><script>alert(1)</script><a href="https://example.com">care</a>`)
	if strings.Contains(got, "script") {
		t.Fatalf("expected script removed, got %q", got)
	}
	if !strings.Contains(got, "<em>cotton</em>") {
		t.Fatalf("expected emphasis kept, got %q", got)
	}
	if !strings.Contains(got, `rel="nofollow"`) {
		t.Fatalf("expected nofollow link, got %q", got)
	}
}

func TestNormalizeList(t *testing.T) {
	t.Run("trims and deduplicates", func(t *testing.T) {
		got := NormalizeList([]string{" M ", "m", "L", "", "  ", "Red"})
		want := []string{"M", "L", "Red"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v got %v", want, got)
		}
	})

	t.Run("returns nil for empty input", func(t *testing.T) {
		if NormalizeList(nil) != nil || NormalizeList([]string{" "}) != nil {
			t.Fatalf("expected nil")
		}
	})
}

func TestFold(t *testing.T) {
	if Fold(" Straße ") != Fold("STRASSE") {
		t.Fatalf("expected caseless match")
	}
}
