package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"pricebot/internal/monitor"
	"pricebot/internal/storage"
)

const welcomeText = `<b>Price tracker</b>

Send me a product link from a supported store and I will watch its price
and availability for you. When something changes you get a message.

Supported stores: onliner, wildberries, 21vek, remzona, shate-mag.`

const helpText = `<b>How it works</b>

Send a product page link to start tracking it. The bot checks tracked
items on a schedule and notifies you when the price or availability
changes.

From the product card you can:
 - group items into a pool to watch the cheapest offer across stores
 - set a price threshold: you are only notified below it
 - remove the item

The product list marks each line:
✅ at its lowest recorded price
🌟 in stock
❌ no price data`

const invalidLinkText = "That link is not from a supported store. " +
	"Supported: onliner, wildberries, 21vek, remzona, shate-mag."

// cardText renders the product card caption in Telegram HTML. Unlike a
// change notification it carries no delta line; it is a plain current view.
func cardText(p storage.Product, latest storage.Snapshot, min, max int64, hasMinMax bool, loc *time.Location) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>Store:</b> %s\n", html.EscapeString(p.Market))
	fmt.Fprintf(&b, "<b>Item:</b> <a href=\"%s\">%s</a>\n", p.URL, html.EscapeString(p.Title))
	fmt.Fprintf(&b, "<b>Status:</b> %s\n\n", html.EscapeString(latest.Availability))

	if latest.Price > 0 {
		fmt.Fprintf(&b, "<b>Price:</b> %s BYN\n", monitor.Money(latest.Price))
	}
	if hasMinMax {
		if latest.Price == min {
			b.WriteString("\U0001F7E2\U0001F7E2\U0001F7E2 Lowest price ever\n")
		}
		fmt.Fprintf(&b, "<b>Min / max price:</b> %s / %s BYN\n", monitor.Money(min), monitor.Money(max))
	} else if latest.Price > 0 {
		fmt.Fprintf(&b, "<b>Min / max price:</b> %s BYN\n", monitor.Money(latest.Price))
	}

	fmt.Fprintf(&b, "\nUpdated: %s", time.Unix(latest.RetrievedAt, 0).In(loc).Format("02.01.2006 15:04"))
	return b.String()
}

func thresholdPrompt(current *int64) string {
	var b strings.Builder
	if current != nil {
		fmt.Fprintf(&b, "Current threshold: <b>%s BYN</b>\n\n", monitor.Money(*current))
	} else {
		b.WriteString("No threshold set: every change is delivered.\n\n")
	}
	b.WriteString("Send a price (e.g. <code>95.50</code>). " +
		"You will only be notified while the price stays below it.")
	return b.String()
}

var errBadAmount = errors.New("bad amount")

// parseMinor parses a user-typed decimal amount into integer minor units.
// At most two fraction digits; a lone digit means tenths.
func parseMinor(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, errBadAmount
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	var minor int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, errBadAmount
		}
		minor = minor*10 + int64(r-'0')
		if minor > 1<<40 {
			return 0, errBadAmount
		}
	}
	minor *= 100
	if len(frac) > 2 {
		frac = frac[:2]
	}
	mult := int64(10)
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, errBadAmount
		}
		minor += int64(r-'0') * mult
		mult /= 10
	}
	return minor, nil
}
