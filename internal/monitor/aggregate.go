package monitor

import (
	"context"
	"errors"

	"pricebot/internal/storage"
)

// PriceState is the three-way display classification shared by single
// products and pools. The same comparison runs at both granularities so a
// pool's marker can never disagree with its members' markers.
type PriceState int

const (
	StateNoData PriceState = iota
	StateBestPrice
	StateInStock
)

// Classify compares a current price against a historical minimum. Either
// being absent means no usable data.
func Classify(current, historical *int64) PriceState {
	if current == nil || historical == nil {
		return StateNoData
	}
	if *current == *historical {
		return StateBestPrice
	}
	return StateInStock
}

// PriceView is the aggregate consumed by keyboards and cards: the current
// price, the historical minimum it is judged against, and the resulting
// state. Current and HistoricalMin are nil when no member has price data.
type PriceView struct {
	Current       *int64
	HistoricalMin *int64
	State         PriceState
}

// ProductPrices builds the view for one product: its latest price against its
// own all-time minimum. A product whose history holds a single distinct price
// uses that price as its minimum.
func ProductPrices(ctx context.Context, st *storage.Store, productID int64) (PriceView, error) {
	latest, err := st.Latest(ctx, productID)
	if errors.Is(err, storage.ErrNoData) {
		return PriceView{State: StateNoData}, nil
	}
	if err != nil {
		return PriceView{}, err
	}
	min, err := st.MinPrice(ctx, productID)
	if errors.Is(err, storage.ErrNoData) {
		min = latest.Price
	} else if err != nil {
		return PriceView{}, err
	}
	cur := latest.Price
	view := PriceView{Current: &cur, HistoricalMin: &min}
	view.State = Classify(view.Current, view.HistoricalMin)
	return view, nil
}

// PoolPrices builds the view for a user's pool: the minimum latest price over
// all members against the minimum of the members' own historical minimums.
// Members with no price data are skipped; if no member yields a price the
// whole pool is "no data".
func PoolPrices(ctx context.Context, st *storage.Store, userID, poolID int64) (PriceView, error) {
	members, err := st.PoolProducts(ctx, userID, poolID)
	if err != nil {
		return PriceView{}, err
	}

	var current, historical *int64
	for _, p := range members {
		latest, err := st.Latest(ctx, p.ID)
		if errors.Is(err, storage.ErrNoData) {
			continue
		}
		if err != nil {
			return PriceView{}, err
		}
		min, err := st.MinPrice(ctx, p.ID)
		if errors.Is(err, storage.ErrNoData) {
			min = latest.Price
		} else if err != nil {
			return PriceView{}, err
		}

		if current == nil || latest.Price < *current {
			v := latest.Price
			current = &v
		}
		if historical == nil || min < *historical {
			v := min
			historical = &v
		}
	}

	view := PriceView{Current: current, HistoricalMin: historical}
	view.State = Classify(current, historical)
	return view, nil
}
