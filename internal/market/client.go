package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// browserHeaders makes HTML storefronts serve the same markup they serve a
// real browser. The JSON APIs (onliner, wildberries) do not need them.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,/;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"Accept-Language": "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7,be;q=0.6",
}

const maxBodyBytes = 4 << 20

type httpClient struct {
	c *http.Client
}

func (h *httpClient) get(ctx context.Context, url string, asBrowser bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if asBrowser {
		for k, v := range browserHeaders {
			req.Header.Set(k, v)
		}
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
