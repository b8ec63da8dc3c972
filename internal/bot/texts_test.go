package bot

import (
	"strings"
	"testing"
	"time"

	"pricebot/internal/storage"
)

func TestParseMinor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"95.50", 9550, false},
		{"95,50", 9550, false},
		{"95", 9500, false},
		{"0.5", 50, false},
		{" 100 ", 10000, false},
		{"1.234", 123, false},
		{"", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
		{"9.9x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMinor(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseMinor(%q): expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseMinor(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseMinor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCardText(t *testing.T) {
	t.Parallel()
	p := storage.Product{Title: "Widget <X>", URL: "https://x/a", Market: "onliner"}
	latest := storage.Snapshot{Price: 9000, Availability: "in stock", RetrievedAt: 1700000000}

	text := cardText(p, latest, 8000, 10000, true, time.UTC)
	for _, want := range []string{
		"<b>Store:</b> onliner",
		`<a href="https://x/a">Widget &lt;X&gt;</a>`,
		"<b>Status:</b> in stock",
		"<b>Price:</b> 90.00 BYN",
		"<b>Min / max price:</b> 80.00 / 100.00 BYN",
		"Updated: 14.11.2023",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("card missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Lowest price ever") {
		t.Fatalf("90.00 is not the all-time low:\n%s", text)
	}

	// At the all-time low the marker appears.
	latest.Price = 8000
	if text := cardText(p, latest, 8000, 10000, true, time.UTC); !strings.Contains(text, "Lowest price ever") {
		t.Fatalf("missing best-price marker:\n%s", text)
	}

	// Single distinct price: one amount on the min/max line.
	if text := cardText(p, latest, 0, 0, false, time.UTC); !strings.Contains(text, "<b>Min / max price:</b> 80.00 BYN") {
		t.Fatalf("expected single-price min line:\n%s", text)
	}
}

func TestThresholdPrompt(t *testing.T) {
	t.Parallel()
	if text := thresholdPrompt(nil); !strings.Contains(text, "No threshold set") {
		t.Fatalf("unexpected prompt: %s", text)
	}
	v := int64(9550)
	if text := thresholdPrompt(&v); !strings.Contains(text, "95.50 BYN") {
		t.Fatalf("unexpected prompt: %s", text)
	}
}
