package monitor

import (
	"context"
	"errors"
	"time"

	"pricebot/internal/cache"
	"pricebot/internal/market"
	"pricebot/internal/storage"
	logx "pricebot/pkg/logx"
)

// SnapshotSource fetches a normalized snapshot for a product URL.
// *market.Registry is the production implementation.
type SnapshotSource interface {
	Fetch(ctx context.Context, rawURL string) (market.Snapshot, error)
}

// Poller runs one polling pass over a market partition: fetch every product
// of those markets, append a ledger row when the detector sees a change, and
// invalidate memoized views afterwards.
type Poller struct {
	store  *storage.Store
	source SnapshotSource
	cache  *cache.Cache
	now    func() int64
	log    logx.Logger
}

func NewPoller(st *storage.Store, source SnapshotSource, c *cache.Cache, now func() int64, log logx.Logger) *Poller {
	if c == nil {
		c = cache.Nop()
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{store: st, source: source, cache: c, now: now, log: log}
}

// Run polls every product whose source tag is in markets. Fetch failures
// skip the product; they are never treated as a price change.
func (p *Poller) Run(ctx context.Context, markets []string) error {
	products, err := p.store.ProductsByMarket(ctx, markets)
	if err != nil {
		return err
	}

	checked, changed := 0, 0
	for _, prod := range products {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appended, err := p.pollOne(ctx, prod)
		if err != nil {
			p.log.Warn("poll: product skipped",
				logx.Int64("product_id", prod.ID), logx.String("market", prod.Market), logx.Err(err))
			continue
		}
		checked++
		if appended {
			changed++
		}
	}

	// Any appended row can flip status markers on any keyboard.
	p.cache.InvalidateAll(ctx)
	p.log.Info("poll pass done",
		logx.Int("products", len(products)), logx.Int("checked", checked), logx.Int("changed", changed))
	return nil
}

func (p *Poller) pollOne(ctx context.Context, prod storage.Product) (bool, error) {
	fresh, err := p.source.Fetch(ctx, prod.URL)
	if err != nil {
		return false, err
	}

	var latest *storage.Snapshot
	snap, err := p.store.Latest(ctx, prod.ID)
	switch {
	case err == nil:
		latest = &snap
	case errors.Is(err, storage.ErrNoData):
	default:
		return false, err
	}

	if !ShouldAppend(latest, fresh) {
		return false, nil
	}
	return true, p.store.AppendPrice(ctx, storage.Snapshot{
		ProductID:    prod.ID,
		Price:        fresh.Price,
		Availability: fresh.Availability,
		RetrievedAt:  p.now(),
	})
}
