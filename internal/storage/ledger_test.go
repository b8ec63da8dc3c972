package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendAt(t *testing.T, s *Store, productID, price, at int64) {
	t.Helper()
	require.NoError(t, s.AppendPrice(context.Background(), Snapshot{
		ProductID: productID, Price: price, Availability: "in stock", RetrievedAt: at,
	}))
}

func TestLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	appendAt(t, s, p.ID, 900, 200)
	appendAt(t, s, p.ID, 950, 300)

	snap, err := s.Latest(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 950, snap.Price)
	require.EqualValues(t, 300, snap.RetrievedAt)
}

func TestMinMaxNeedsTwoDistinctPrices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	_, _, err := s.MinMax(ctx, p.ID)
	require.ErrorIs(t, err, ErrNoData)

	// Same price again: still only one distinct value.
	appendAt(t, s, p.ID, 1000, 200)
	_, _, err = s.MinMax(ctx, p.ID)
	require.ErrorIs(t, err, ErrNoData)

	appendAt(t, s, p.ID, 800, 300)
	lo, hi, err := s.MinMax(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 800, lo)
	require.EqualValues(t, 1000, hi)
}

func TestMinPriceDefinedWithAnyHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	lo, err := s.MinPrice(ctx, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1000, lo)

	_, err = s.MinPrice(ctx, 404)
	require.ErrorIs(t, err, ErrNoData)
}

func TestLastTwo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	// One entry: duplicated, so a price-change comparison sees no change.
	pair, err := s.LastTwo(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, [2]int64{1000, 1000}, pair)

	appendAt(t, s, p.ID, 900, 200)
	appendAt(t, s, p.ID, 850, 300)
	pair, err = s.LastTwo(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, [2]int64{850, 900}, pair)

	_, err = s.LastTwo(ctx, 404)
	require.ErrorIs(t, err, ErrNoData)
}

func TestHistoryOrdinalIsDense(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)
	appendAt(t, s, p.ID, 900, 200)
	appendAt(t, s, p.ID, 950, 300)

	hist, err := s.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, pt := range hist {
		require.Equal(t, i+1, pt.Ordinal)
	}
	require.EqualValues(t, 1000, hist[0].Price)
	require.EqualValues(t, 950, hist[2].Price)
}
