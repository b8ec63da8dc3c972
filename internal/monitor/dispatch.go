package monitor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"pricebot/internal/storage"
	"pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

// MarkupFunc builds the adapter-specific reply markup attached to a
// notification (the product card actions). Owned by the bot layer so the
// dispatcher stays free of UI concerns.
type MarkupFunc func(userID, productID int64) any

// Dispatcher fans detected changes out to subscribers. At-most-once per
// detected change: the dirty flag is cleared after the fan-out whether or not
// every send succeeded, so a failed user waits for the next change rather
// than receiving a stale duplicate.
type Dispatcher struct {
	store   *storage.Store
	adapter transport.Adapter
	markup  MarkupFunc
	limiter *rate.Limiter
	loc     *time.Location
	log     logx.Logger
}

func NewDispatcher(st *storage.Store, ad transport.Adapter, markup MarkupFunc, sendRatePerSec float64, loc *time.Location, log logx.Logger) *Dispatcher {
	if sendRatePerSec <= 0 {
		sendRatePerSec = 20
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:   st,
		adapter: ad,
		markup:  markup,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSec), 1),
		loc:     loc,
		log:     log,
	}
}

// Run is one dispatch cycle: every dirty product is rendered once and sent to
// each of its subscribers, applying threshold suppression per user.
func (d *Dispatcher) Run(ctx context.Context) error {
	products, err := d.store.DirtyProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.dispatchOne(ctx, p)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, p storage.Product) {
	card, err := d.buildCard(ctx, p)
	if err != nil {
		// Storage failure for this product only; it stays dirty for the
		// next cycle.
		d.log.Warn("dispatch: card build failed", logx.Int64("product_id", p.ID), logx.Err(err))
		return
	}

	subs, err := d.store.Subscribers(ctx, p.ID)
	if err != nil {
		d.log.Warn("dispatch: subscriber lookup failed", logx.Int64("product_id", p.ID), logx.Err(err))
		return
	}

	sent := 0
	for _, sub := range subs {
		if suppressed(sub.Threshold, card.Latest.Price) {
			continue
		}
		if err := d.send(ctx, sub.UserID, p, card); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// One user's failure never blocks the rest of the batch.
			d.log.Warn("dispatch: send failed",
				logx.Int64("user_id", sub.UserID), logx.Int64("product_id", p.ID), logx.Err(err))
			continue
		}
		sent++
	}

	if err := d.store.ClearDirty(ctx, p.ID); err != nil {
		d.log.Error("dispatch: clear dirty failed", logx.Int64("product_id", p.ID), logx.Err(err))
		return
	}
	d.log.Info("change dispatched",
		logx.Int64("product_id", p.ID), logx.Int("subscribers", len(subs)), logx.Int("sent", sent))
}

// suppressed implements the threshold gate: deliver iff the latest price is
// strictly below the user's threshold; no threshold means always deliver.
func suppressed(threshold *int64, latest int64) bool {
	return threshold != nil && latest >= *threshold
}

func (d *Dispatcher) buildCard(ctx context.Context, p storage.Product) (ChangeCard, error) {
	latest, err := d.store.Latest(ctx, p.ID)
	if err != nil {
		return ChangeCard{}, err
	}
	pair, err := d.store.LastTwo(ctx, p.ID)
	if err != nil {
		return ChangeCard{}, err
	}
	card := ChangeCard{
		Product:     p,
		Latest:      latest,
		LastTwo:     pair,
		RetrievedAt: time.Unix(latest.RetrievedAt, 0).In(d.loc),
	}
	min, max, err := d.store.MinMax(ctx, p.ID)
	switch {
	case err == nil:
		card.Min, card.Max, card.HasMinMax = min, max, true
	case errors.Is(err, storage.ErrNoData):
		// Fewer than two distinct prices: the card shows the latest alone.
	default:
		return ChangeCard{}, err
	}
	return card, nil
}

func (d *Dispatcher) send(ctx context.Context, userID int64, p storage.Product, card ChangeCard) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	opt := &transport.SendOptions{ParseMode: "HTML"}
	if d.markup != nil {
		opt.ReplyMarkupAdapter = d.markup(userID, p.ID)
	}
	_, err := d.adapter.SendPhoto(ctx, transport.ChatTarget{ChatID: userID}, p.ImageURL, card.Format(), opt)
	return err
}
