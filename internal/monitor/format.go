package monitor

import (
	"fmt"
	"html"
	"strings"
	"time"

	"pricebot/internal/storage"
)

// Money renders integer minor units as a decimal amount. Display is the only
// place division by 100 ever happens.
func Money(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ChangeCard is everything the dispatcher knows about one detected change.
type ChangeCard struct {
	Product storage.Product
	Latest  storage.Snapshot
	// Newest and previous price, previous duplicated when history has one row.
	LastTwo [2]int64
	// All-time extremes; defined only with at least two distinct prices.
	Min, Max    int64
	HasMinMax   bool
	RetrievedAt time.Time
}

// Format renders the notification caption in Telegram HTML.
func (c ChangeCard) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>Store:</b> %s\n", html.EscapeString(c.Product.Market))
	fmt.Fprintf(&b, "<b>Item:</b> <a href=\"%s\">%s</a>\n", c.Product.URL, html.EscapeString(c.Product.Title))
	fmt.Fprintf(&b, "<b>Status:</b> %s\n\n", html.EscapeString(c.Latest.Availability))

	if c.LastTwo[0] > 0 {
		fmt.Fprintf(&b, "<b>Price:</b> %s BYN\n", Money(c.LastTwo[0]))
	}
	if c.HasMinMax {
		if c.Latest.Price == c.Min {
			b.WriteString("\U0001F7E2\U0001F7E2\U0001F7E2 Lowest price ever\n")
		}
		fmt.Fprintf(&b, "<b>Min / max price:</b> %s / %s BYN\n", Money(c.Min), Money(c.Max))
	} else if c.Latest.Price > 0 {
		fmt.Fprintf(&b, "<b>Min / max price:</b> %s BYN\n", Money(c.Latest.Price))
	}

	b.WriteString(c.deltaLine())
	b.WriteString("\n")
	fmt.Fprintf(&b, "Updated: %s", c.RetrievedAt.Format("02.01.2006 15:04"))
	return b.String()
}

// deltaLine describes the movement between the last two prices. Equal prices
// mean the availability changed, since an identical snapshot would never have
// been appended.
func (c ChangeCard) deltaLine() string {
	newest, prev := c.LastTwo[0], c.LastTwo[1]
	delta := newest - prev
	switch {
	case delta < 0:
		return fmt.Sprintf("\U0001F7E2 Price dropped by %s BYN  ( -%s %%)", Money(-delta), percent(-delta, prev))
	case delta > 0:
		return fmt.Sprintf("\U0001F534 Price rose by %s BYN  ( +%s %%)", Money(delta), percent(delta, prev))
	default:
		return "Availability changed"
	}
}

func percent(delta, base int64) string {
	if base == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(delta)/float64(base)*100)
}
