// Package market contains the marketplace source adapters: given a product
// page URL, an adapter returns a normalized snapshot of title, image, price
// (integer minor units) and availability. Routing is by URL hostname,
// resolved through a table built once at startup.
package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "pricebot/pkg/logx"
)

// Snapshot is the normalized result of one fetch. Price is in minor currency
// units; Availability is free text compared verbatim by the change detector.
type Snapshot struct {
	Title        string
	ImageURL     string
	Price        int64
	Availability string
	Source       string
}

// Canonical availability strings. Adapters normalize each storefront's own
// wording to these two values so the detector compares like with like.
const (
	availabilityIn  = "in stock"
	availabilityOut = "out of stock"
)

// Fetcher fetches and parses one marketplace's product pages.
type Fetcher interface {
	// Source is the marketplace tag stored on products ("onliner", "21vek", ...).
	Source() string
	Fetch(ctx context.Context, rawURL string) (Snapshot, error)
}

// ErrUnsupportedSource is returned for URLs whose hostname no adapter claims.
// It is a rejection at ingestion, not a transient failure.
var ErrUnsupportedSource = fmt.Errorf("market: unsupported source")

// FetchError is a transient network or parse failure for one product. The
// polling job logs it and skips the product until the next tick.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("market: fetch %s (%s): %v", e.URL, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(source, url string, err error) error {
	return &FetchError{Source: source, URL: url, Err: err}
}

// Registry routes URLs to fetchers by hostname. The table is fixed after New.
type Registry struct {
	byHost map[string]Fetcher
	log    logx.Logger
}

// Config configures the shared HTTP behavior of all adapters.
type Config struct {
	FetchTimeout time.Duration
}

// NewRegistry builds the full routing table over a shared HTTP client.
func NewRegistry(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &httpClient{c: &http.Client{Timeout: timeout}}

	r := &Registry{byHost: map[string]Fetcher{}, log: log}
	r.register(newOnliner(client), "catalog.onliner.by", "www.catalog.onliner.by")
	r.register(newWildberries(client), "www.wildberries.by", "www.wildberries.ru")
	r.register(new21vek(client), "21vek.by", "www.21vek.by", "m.21vek.by")
	r.register(newRemzona(client), "remzona.by", "www.remzona.by")
	r.register(newShateMag(client), "shate-mag.by", "www.shate-mag.by")
	return r
}

func (r *Registry) register(f Fetcher, hosts ...string) {
	for _, h := range hosts {
		r.byHost[h] = f
	}
}

// Resolve returns the adapter responsible for rawURL, or ErrUnsupportedSource.
func (r *Registry) Resolve(rawURL string) (Fetcher, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return nil, ErrUnsupportedSource
	}
	f, ok := r.byHost[strings.ToLower(u.Hostname())]
	if !ok {
		return nil, ErrUnsupportedSource
	}
	return f, nil
}

// Fetch resolves and fetches in one step.
func (r *Registry) Fetch(ctx context.Context, rawURL string) (Snapshot, error) {
	f, err := r.Resolve(rawURL)
	if err != nil {
		return Snapshot{}, err
	}
	return f.Fetch(ctx, rawURL)
}

// Sources lists every registered source tag once.
func (r *Registry) Sources() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range r.byHost {
		if !seen[f.Source()] {
			seen[f.Source()] = true
			out = append(out, f.Source())
		}
	}
	return out
}

// Canonicalize returns the identity form of a product URL. Two links to the
// same listing must canonicalize to the same string or the catalog would
// track them as separate products.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return "", ErrUnsupportedSource
	}
	return cleanURL(u), nil
}

// cleanURL strips query and fragment, keeping scheme://host/path. Marketplace
// pages carry tracking junk in the query that must not split product identity.
func cleanURL(u *url.URL) string {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + u.Path
}
