package market

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// htmlStore scrapes server-rendered storefront pages. Title and image come
// from OpenGraph meta tags; price and availability from per-site patterns
// over the raw markup. These stores have no public JSON API.
type htmlStore struct {
	source       string
	http         *httpClient
	normalize    func(*url.URL) string
	pricePats    []*regexp.Regexp
	inStockPats  []*regexp.Regexp
	outStockPats []*regexp.Regexp
}

var (
	ogTitleRe = regexp.MustCompile(`<meta[^>]+property="og:title"[^>]+content="([^"]*)"`)
	ogImageRe = regexp.MustCompile(`<meta[^>]+property="og:image"[^>]+content="([^"]*)"`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
)

func (s *htmlStore) Source() string { return s.source }

func (s *htmlStore) Fetch(ctx context.Context, rawURL string) (Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Snapshot{}, fetchErr(s.source, rawURL, err)
	}
	pageURL := cleanURL(u)
	if s.normalize != nil {
		pageURL = s.normalize(u)
	}

	body, err := s.http.get(ctx, pageURL, true)
	if err != nil {
		return Snapshot{}, fetchErr(s.source, rawURL, err)
	}
	page := string(body)

	title := firstGroup(ogTitleRe, page)
	if title == "" {
		title = pageTitle(page)
	}
	if title == "" {
		return Snapshot{}, fetchErr(s.source, rawURL, fmt.Errorf("no product title in page"))
	}

	snap := Snapshot{
		Title:    html.UnescapeString(title),
		ImageURL: firstGroup(ogImageRe, page),
		Source:   s.source,
	}

	if matchAny(s.outStockPats, page) {
		snap.Availability = availabilityOut
		return snap, nil
	}

	var priceRaw string
	for _, re := range s.pricePats {
		if priceRaw = firstGroup(re, page); priceRaw != "" {
			break
		}
	}
	if priceRaw == "" {
		snap.Availability = availabilityOut
		return snap, nil
	}
	price, err := parsePriceMinor(priceRaw)
	if err != nil {
		return Snapshot{}, fetchErr(s.source, rawURL, err)
	}
	snap.Price = price

	if len(s.inStockPats) == 0 || matchAny(s.inStockPats, page) {
		snap.Availability = availabilityIn
	} else {
		snap.Availability = availabilityOut
	}
	return snap, nil
}

func new21vek(h *httpClient) *htmlStore {
	return &htmlStore{
		source: "21vek",
		http:   h,
		// Mobile links resolve to the desktop host; both serve the same product.
		normalize: func(u *url.URL) string {
			host := strings.Replace(u.Host, "m.", "www.", 1)
			return "https://" + host + u.Path
		},
		pricePats: []*regexp.Regexp{
			regexp.MustCompile(`itemprop="price"[^>]+content="([\d.,]+)"`),
			regexp.MustCompile(`"price"\s*:\s*"([\d.,]+)"`),
		},
		inStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/InStock`),
			regexp.MustCompile(`"availability"\s*:\s*"[^"]*InStock`),
		},
		outStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/OutOfStock`),
			regexp.MustCompile(`"availability"\s*:\s*"[^"]*OutOfStock`),
		},
	}
}

func newRemzona(h *httpClient) *htmlStore {
	return &htmlStore{
		source: "remzona",
		http:   h,
		pricePats: []*regexp.Regexp{
			regexp.MustCompile(`itemprop="price"[^>]+content="([\d.,]+)"`),
			regexp.MustCompile(`"price"\s*:\s*"?([\d.,]+)"?`),
		},
		inStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/InStock`),
			regexp.MustCompile(`[Вв]\s+наличии`),
		},
		outStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/OutOfStock`),
			regexp.MustCompile(`[Нн]ет\s+в\s+наличии`),
		},
	}
}

func newShateMag(h *httpClient) *htmlStore {
	return &htmlStore{
		source: "shate-mag",
		http:   h,
		pricePats: []*regexp.Regexp{
			regexp.MustCompile(`itemprop="price"[^>]+content="([\d.,]+)"`),
			regexp.MustCompile(`"price"\s*:\s*"?([\d.,]+)"?`),
		},
		inStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/InStock`),
			regexp.MustCompile(`[Вв]\s+наличии`),
		},
		outStockPats: []*regexp.Regexp{
			regexp.MustCompile(`schema\.org/OutOfStock`),
			regexp.MustCompile(`[Нн]ет\s+в\s+наличии`),
		},
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func matchAny(pats []*regexp.Regexp, s string) bool {
	for _, re := range pats {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func pageTitle(page string) string {
	t := firstGroup(titleTagRe, page)
	return strings.TrimSpace(tagRe.ReplaceAllString(t, ""))
}
