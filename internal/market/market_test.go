package market

import (
	"testing"
	"time"

	logx "pricebot/pkg/logx"
)

func TestResolveByHostname(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{FetchTimeout: time.Second}, logx.Nop())

	tests := []struct {
		url    string
		source string
	}{
		{"https://catalog.onliner.by/milk/brest/brestm32", "onliner"},
		{"https://www.catalog.onliner.by/milk/brest/brestm32", "onliner"},
		{"https://www.wildberries.by/catalog/198391221/detail.aspx", "wildberries"},
		{"https://www.wildberries.ru/catalog/198391221/detail.aspx", "wildberries"},
		{"https://www.21vek.by/steam_cleaners/kb2001_kitfort.html", "21vek"},
		{"https://m.21vek.by/steam_cleaners/kb2001_kitfort.html", "21vek"},
		{"https://remzona.by/catalog/some-part", "remzona"},
		{"https://www.shate-mag.by/product/123", "shate-mag"},
	}
	for _, tt := range tests {
		f, err := r.Resolve(tt.url)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", tt.url, err)
		}
		if f.Source() != tt.source {
			t.Fatalf("Resolve(%q) source = %s, want %s", tt.url, f.Source(), tt.source)
		}
	}
}

func TestResolveUnsupported(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{}, logx.Nop())

	for _, u := range []string{
		"https://example.com/product/1",
		"not a url at all",
		"",
	} {
		if _, err := r.Resolve(u); err != ErrUnsupportedSource {
			t.Fatalf("Resolve(%q) = %v, want ErrUnsupportedSource", u, err)
		}
	}
}

func TestSourcesAreUnique(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{}, logx.Nop())
	seen := map[string]bool{}
	for _, s := range r.Sources() {
		if seen[s] {
			t.Fatalf("source %q listed twice", s)
		}
		seen[s] = true
	}
	if len(seen) != 5 {
		t.Fatalf("got %d sources, want 5", len(seen))
	}
}

func TestParsePriceMinor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{in: "123.45", want: 12345},
		{in: "123,45", want: 12345},
		{in: "1 234,5", want: 123450},
		{in: "99", want: 9900},
		{in: "0.999", want: 99},
		{in: "", err: true},
		{in: "abc", err: true},
		{in: "-5", err: true},
	}
	for _, tt := range tests {
		got, err := parsePriceMinor(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("parsePriceMinor(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parsePriceMinor(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parsePriceMinor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestArticleFromURL(t *testing.T) {
	t.Parallel()
	nm, err := articleFromURL("https://www.wildberries.by/catalog/198391221/detail.aspx")
	if err != nil {
		t.Fatalf("articleFromURL error: %v", err)
	}
	if nm != "198391221" {
		t.Fatalf("article = %s, want 198391221", nm)
	}

	if _, err := articleFromURL("https://www.wildberries.by/catalog"); err == nil {
		t.Fatal("expected error for short path")
	}
	if _, err := articleFromURL("https://www.wildberries.by/catalog/abc/detail.aspx"); err == nil {
		t.Fatal("expected error for non-numeric article")
	}
}
