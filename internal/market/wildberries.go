package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// wildberries reads the card API: product pages look like
// /catalog/<nm>/detail.aspx, where <nm> is the numeric article.
type wildberries struct {
	http *httpClient
}

func newWildberries(h *httpClient) *wildberries { return &wildberries{http: h} }

func (w *wildberries) Source() string { return "wildberries" }

type wbCardList struct {
	Data struct {
		Products []struct {
			Name          string `json:"name"`
			TotalQuantity int64  `json:"totalQuantity"`
			Sizes         []struct {
				Price struct {
					Product int64 `json:"product"`
				} `json:"price"`
			} `json:"sizes"`
		} `json:"products"`
	} `json:"data"`
}

func (w *wildberries) Fetch(ctx context.Context, rawURL string) (Snapshot, error) {
	nm, err := articleFromURL(rawURL)
	if err != nil {
		return Snapshot{}, fetchErr(w.Source(), rawURL, err)
	}

	apiURL := "https://card.wb.ru/cards/v2/list?curr=byn&dest=-59202&nm=" + nm + "&ignore_stocks=true"
	body, err := w.http.get(ctx, apiURL, true)
	if err != nil {
		return Snapshot{}, fetchErr(w.Source(), rawURL, err)
	}

	var list wbCardList
	if err := json.Unmarshal(body, &list); err != nil {
		return Snapshot{}, fetchErr(w.Source(), rawURL, err)
	}
	if len(list.Data.Products) == 0 {
		return Snapshot{}, fetchErr(w.Source(), rawURL, fmt.Errorf("article %s not in card response", nm))
	}

	p := list.Data.Products[0]
	snap := Snapshot{
		Title:    p.Name,
		ImageURL: wbImageURL(nm),
		Source:   w.Source(),
	}
	// The card API already quotes prices in minor units.
	if len(p.Sizes) > 0 && p.Sizes[0].Price.Product > 0 {
		snap.Price = p.Sizes[0].Price.Product
		snap.Availability = availabilityIn
	} else {
		snap.Availability = availabilityOut
	}
	if p.TotalQuantity == 0 && snap.Price > 0 {
		snap.Availability = availabilityOut
	}
	return snap, nil
}

// articleFromURL pulls the numeric article out of /catalog/<nm>/detail.aspx:
// second-to-last path segment.
func articleFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("no article in path %q", u.Path)
	}
	nm := parts[len(parts)-2]
	if _, err := strconv.ParseInt(nm, 10, 64); err != nil {
		return "", fmt.Errorf("article %q is not numeric", nm)
	}
	return nm, nil
}

// wbImageURL derives the basket CDN URL for an article's first photo. The
// basket shard is keyed by vol ranges published by the storefront itself.
func wbImageURL(nm string) string {
	id, err := strconv.ParseInt(nm, 10, 64)
	if err != nil {
		return ""
	}
	vol := id / 100000
	part := id / 1000

	var basket int64
	switch {
	case vol <= 143:
		basket = 1
	case vol <= 287:
		basket = 2
	case vol <= 431:
		basket = 3
	case vol <= 719:
		basket = 4
	case vol <= 1007:
		basket = 5
	case vol <= 1061:
		basket = 6
	case vol <= 1115:
		basket = 7
	case vol <= 1169:
		basket = 8
	case vol <= 1313:
		basket = 9
	case vol <= 1601:
		basket = 10
	case vol <= 1655:
		basket = 11
	case vol <= 1919:
		basket = 12
	case vol <= 2045:
		basket = 13
	case vol <= 2189:
		basket = 14
	case vol <= 2405:
		basket = 15
	case vol <= 2621:
		basket = 16
	case vol <= 2837:
		basket = 17
	default:
		basket = 18
	}
	return fmt.Sprintf("https://basket-%02d.wbbasket.ru/vol%d/part%d/%d/images/big/1.webp",
		basket, vol, part, id)
}
