package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertUserKeepsPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, User{TelegramID: 7, FirstName: "Ann", NotifyMode: "compact"}))
	// A later /start with new display fields must not reset preferences.
	require.NoError(t, s.UpsertUser(ctx, User{TelegramID: 7, FirstName: "Anna", Username: "anna"}))

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "Anna", users[0].FirstName)
	require.Equal(t, "anna", users[0].Username)
	require.Equal(t, "compact", users[0].NotifyMode)
}

func TestEnsureTrackedDeduplicatesByURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1, created, err := s.EnsureTracked(ctx, 1, Product{URL: "https://x/a", Title: "A", Market: "onliner"},
		Snapshot{Price: 1000, Availability: "in stock", RetrievedAt: 100})
	require.NoError(t, err)
	require.True(t, created)

	// Second user, same URL: same product row, no new ledger entry.
	p2, created, err := s.EnsureTracked(ctx, 2, Product{URL: "https://x/a", Title: "A again", Market: "onliner"},
		Snapshot{Price: 2000, Availability: "in stock", RetrievedAt: 200})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, p1.ID, p2.ID)
	require.Equal(t, "A", p2.Title)

	hist, err := s.History(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.EqualValues(t, 1000, hist[0].Price)

	subs, err := s.Subscribers(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// Re-tracking by the same user is idempotent.
	_, _, err = s.EnsureTracked(ctx, 1, Product{URL: "https://x/a", Title: "A", Market: "onliner"},
		Snapshot{Price: 3000, RetrievedAt: 300})
	require.NoError(t, err)
	subs, err = s.Subscribers(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestFirstSnapshotDoesNotMarkDirty(t *testing.T) {
	s := newTestStore(t)
	p := track(t, s, 1, "https://x/a", 900)
	require.False(t, p.Dirty)

	dirty, err := s.DirtyProducts(context.Background())
	require.NoError(t, err)
	require.Empty(t, dirty)
}

func TestProductsByMarket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _, err := s.EnsureTracked(ctx, 1, Product{URL: "https://x/a", Title: "A", Market: "onliner"},
		Snapshot{Price: 1, RetrievedAt: 1})
	require.NoError(t, err)
	_, _, err = s.EnsureTracked(ctx, 1, Product{URL: "https://x/b", Title: "B", Market: "21vek"},
		Snapshot{Price: 2, RetrievedAt: 2})
	require.NoError(t, err)

	got, err := s.ProductsByMarket(ctx, []string{"onliner", "wildberries"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, a.ID, got[0].ID)

	got, err = s.ProductsByMarket(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestThresholdRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	th, err := s.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Nil(t, th)

	limit := int64(850)
	require.NoError(t, s.SetThreshold(ctx, 1, p.ID, &limit))
	th, err = s.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.NotNil(t, th)
	require.EqualValues(t, 850, *th)

	require.NoError(t, s.SetThreshold(ctx, 1, p.ID, nil))
	th, err = s.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Nil(t, th)

	// No subscription row at all is distinguishable from "no threshold".
	_, err = s.Threshold(ctx, 99, p.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.SetThreshold(ctx, 99, p.ID, &limit), ErrNotFound)
}

func TestUntrackCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)
	track(t, s, 2, "https://x/a", 1000)

	_, err := s.CreatePool(ctx, 1, p.ID)
	require.NoError(t, err)

	// Other subscriber remains: product and history survive.
	require.NoError(t, s.Untrack(ctx, 1, p.ID))
	_, err = s.Product(ctx, p.ID)
	require.NoError(t, err)
	inPool, err := s.InAnyPool(ctx, 1, p.ID)
	require.NoError(t, err)
	require.False(t, inPool)
	pools, err := s.Pools(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, pools)

	// Last subscriber gone: product and ledger are deleted.
	require.NoError(t, s.Untrack(ctx, 2, p.ID))
	_, err = s.Product(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Latest(ctx, p.ID)
	require.ErrorIs(t, err, ErrNoData)
}

func TestDirtyFlagLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := track(t, s, 1, "https://x/a", 1000)

	require.NoError(t, s.AppendPrice(ctx, Snapshot{
		ProductID: p.ID, Price: 950, Availability: "in stock", RetrievedAt: time.Now().Unix(),
	}))
	dirty, err := s.DirtyProducts(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.Equal(t, p.ID, dirty[0].ID)

	require.NoError(t, s.ClearDirty(ctx, p.ID))
	dirty, err = s.DirtyProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, dirty)
}

func TestPoolLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := track(t, s, 1, "https://x/a", 1000)
	b := track(t, s, 1, "https://x/b", 2000)

	pool, err := s.CreatePool(ctx, 1, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Title, pool.Title)

	require.NoError(t, s.AppendToPool(ctx, 1, pool.ID, b.ID))
	// Repeat append is a no-op.
	require.NoError(t, s.AppendToPool(ctx, 1, pool.ID, b.ID))

	members, err := s.PoolProducts(ctx, 1, pool.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	inPool, err := s.InAnyPool(ctx, 1, b.ID)
	require.NoError(t, err)
	require.True(t, inPool)
	// Pool membership is user-scoped.
	inPool, err = s.InAnyPool(ctx, 2, b.ID)
	require.NoError(t, err)
	require.False(t, inPool)

	require.NoError(t, s.RemoveFromPool(ctx, 1, a.ID))
	require.NoError(t, s.RemoveFromPool(ctx, 1, b.ID))
	// Emptied pool disappears.
	pools, err := s.Pools(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, pools)
}

func TestCreatePoolUnknownProduct(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreatePool(context.Background(), 1, 404)
	require.ErrorIs(t, err, ErrNotFound)
}
