package monitor

import (
	"strings"
	"testing"
	"time"

	"pricebot/internal/storage"
)

func TestMoney(t *testing.T) {
	t.Parallel()
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{9500, "95.00"},
		{123456, "1234.56"},
		{-150, "-1.50"},
	}
	for _, tt := range tests {
		if got := Money(tt.minor); got != tt.want {
			t.Fatalf("Money(%d) = %s, want %s", tt.minor, got, tt.want)
		}
	}
}

func baseCard() ChangeCard {
	return ChangeCard{
		Product:     storage.Product{Title: "Widget <X>", URL: "https://x/a", Market: "onliner"},
		Latest:      storage.Snapshot{Price: 9000, Availability: "in stock", RetrievedAt: 1700000000},
		LastTwo:     [2]int64{9000, 10000},
		Min:         8000,
		Max:         10000,
		HasMinMax:   true,
		RetrievedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFormatPriceDrop(t *testing.T) {
	t.Parallel()
	text := baseCard().Format()

	for _, want := range []string{
		"<b>Store:</b> onliner",
		`<a href="https://x/a">Widget &lt;X&gt;</a>`,
		"<b>Price:</b> 90.00 BYN",
		"<b>Min / max price:</b> 80.00 / 100.00 BYN",
		"Price dropped by 10.00 BYN  ( -10.0 %)",
		"Updated: 14.11.2023",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("card missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Lowest price ever") {
		t.Fatalf("90.00 is not the all-time low:\n%s", text)
	}
}

func TestFormatPriceRiseAndBestMarker(t *testing.T) {
	t.Parallel()

	c := baseCard()
	c.LastTwo = [2]int64{10000, 9000}
	c.Latest.Price = 10000
	if text := c.Format(); !strings.Contains(text, "Price rose by 10.00 BYN  ( +11.1 %)") {
		t.Fatalf("missing rise line:\n%s", text)
	}

	c = baseCard()
	c.Latest.Price = 8000
	c.LastTwo = [2]int64{8000, 9000}
	if text := c.Format(); !strings.Contains(text, "Lowest price ever") {
		t.Fatalf("missing best-price marker:\n%s", text)
	}
}

func TestFormatAvailabilityOnlyChange(t *testing.T) {
	t.Parallel()
	c := baseCard()
	c.LastTwo = [2]int64{9000, 9000}
	if text := c.Format(); !strings.Contains(text, "Availability changed") {
		t.Fatalf("missing availability line:\n%s", text)
	}
}

func TestFormatSinglePriceHistory(t *testing.T) {
	t.Parallel()
	c := baseCard()
	c.HasMinMax = false
	text := c.Format()
	if !strings.Contains(text, "<b>Min / max price:</b> 90.00 BYN") {
		t.Fatalf("expected single-price min line:\n%s", text)
	}
}
