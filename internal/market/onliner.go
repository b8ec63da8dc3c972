package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// onliner reads the public catalog API: the product page URL's last path
// segment is the API slug.
type onliner struct {
	http *httpClient
}

func newOnliner(h *httpClient) *onliner { return &onliner{http: h} }

func (o *onliner) Source() string { return "onliner" }

type onlinerProduct struct {
	Name   string `json:"name"`
	Images struct {
		Header string `json:"header"`
	} `json:"images"`
	Prices *struct {
		PriceMin struct {
			Amount string `json:"amount"`
		} `json:"price_min"`
	} `json:"prices"`
	StatusTitle string `json:"status_title"`
}

func (o *onliner) Fetch(ctx context.Context, rawURL string) (Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Snapshot{}, fetchErr(o.Source(), rawURL, err)
	}
	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	slug := parts[len(parts)-1]
	if slug == "" {
		return Snapshot{}, fetchErr(o.Source(), rawURL, fmt.Errorf("no product slug in path"))
	}

	apiURL := "https://catalog.api.onliner.by/products/" + slug
	body, err := o.http.get(ctx, apiURL, false)
	if err != nil {
		return Snapshot{}, fetchErr(o.Source(), rawURL, err)
	}

	var p onlinerProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return Snapshot{}, fetchErr(o.Source(), rawURL, err)
	}
	if p.Name == "" {
		return Snapshot{}, fetchErr(o.Source(), rawURL, fmt.Errorf("product payload missing name"))
	}

	snap := Snapshot{
		Title:    p.Name,
		ImageURL: p.Images.Header,
		Source:   o.Source(),
	}
	// A product with no offers has prices = null; it stays listed with its
	// last known identity but nothing to buy.
	if p.Prices == nil || p.Prices.PriceMin.Amount == "" {
		snap.Availability = availabilityOut
		return snap, nil
	}
	price, err := parsePriceMinor(p.Prices.PriceMin.Amount)
	if err != nil {
		return Snapshot{}, fetchErr(o.Source(), rawURL, err)
	}
	snap.Price = price
	snap.Availability = availabilityIn
	return snap, nil
}
