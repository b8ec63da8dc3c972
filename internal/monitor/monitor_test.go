package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricebot/internal/market"
	"pricebot/internal/storage"
	"pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func track(t *testing.T, st *storage.Store, userID int64, url string, price int64) storage.Product {
	t.Helper()
	p, _, err := st.EnsureTracked(context.Background(), userID, storage.Product{
		URL: url, Title: "item", Market: "onliner",
	}, storage.Snapshot{Price: price, Availability: "in stock", RetrievedAt: 100})
	require.NoError(t, err)
	return p
}

// stubSource serves canned snapshots (or errors) keyed by URL.
type stubSource struct {
	snaps map[string]market.Snapshot
	errs  map[string]error
	calls int
}

func (s *stubSource) Fetch(_ context.Context, rawURL string) (market.Snapshot, error) {
	s.calls++
	if err, ok := s.errs[rawURL]; ok {
		return market.Snapshot{}, err
	}
	snap, ok := s.snaps[rawURL]
	if !ok {
		return market.Snapshot{}, market.ErrUnsupportedSource
	}
	return snap, nil
}

// recordingAdapter captures sends and can fail for chosen chat ids.
type recordingAdapter struct {
	sent   []int64
	failFor map[int64]error
}

func (a *recordingAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (a *recordingAdapter) Stop(ctx context.Context) error                               { return nil }
func (a *recordingAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}
func (a *recordingAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}
func (a *recordingAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return a.record(to.ChatID)
}
func (a *recordingAdapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return a.record(to.ChatID)
}
func (a *recordingAdapter) record(chatID int64) (transport.MessageRef, error) {
	if err, ok := a.failFor[chatID]; ok {
		return transport.MessageRef{}, err
	}
	a.sent = append(a.sent, chatID)
	return transport.MessageRef{ChatID: chatID, MessageID: 1}, nil
}

func newDispatcher(st *storage.Store, ad transport.Adapter) *Dispatcher {
	return NewDispatcher(st, ad, nil, 1000, time.UTC, logx.Nop())
}

func TestShouldAppend(t *testing.T) {
	t.Parallel()
	latest := &storage.Snapshot{Price: 100, Availability: "in stock"}

	require.False(t, ShouldAppend(latest, market.Snapshot{Price: 100, Availability: "in stock"}))
	require.True(t, ShouldAppend(latest, market.Snapshot{Price: 90, Availability: "in stock"}))
	require.True(t, ShouldAppend(latest, market.Snapshot{Price: 100, Availability: "out of stock"}))
	require.True(t, ShouldAppend(nil, market.Snapshot{Price: 100, Availability: "in stock"}))
}

func TestPollDedupIdempotence(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := track(t, st, 1, "https://x/a", 1000)

	src := &stubSource{snaps: map[string]market.Snapshot{
		"https://x/a": {Price: 1000, Availability: "in stock", Source: "onliner"},
	}}
	poller := NewPoller(st, src, nil, func() int64 { return 200 }, logx.Nop())

	// The same unchanged snapshot N times appends nothing beyond the
	// initial row and never flags the product.
	for i := 0; i < 5; i++ {
		require.NoError(t, poller.Run(ctx, []string{"onliner"}))
	}
	hist, err := st.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	dirty, err := st.DirtyProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, dirty)
}

func TestPollDetectsChange(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := track(t, st, 1, "https://x/a", 1000)

	src := &stubSource{snaps: map[string]market.Snapshot{
		"https://x/a": {Price: 900, Availability: "in stock", Source: "onliner"},
	}}
	poller := NewPoller(st, src, nil, func() int64 { return 200 }, logx.Nop())
	require.NoError(t, poller.Run(ctx, []string{"onliner"}))

	hist, err := st.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	dirty, err := st.DirtyProducts(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)

	// Availability-only change is a change too.
	src.snaps["https://x/a"] = market.Snapshot{Price: 900, Availability: "out of stock", Source: "onliner"}
	poller2 := NewPoller(st, src, nil, func() int64 { return 300 }, logx.Nop())
	require.NoError(t, poller2.Run(ctx, []string{"onliner"}))
	hist, err = st.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
}

func TestPollFetchFailureSkipsProduct(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	a := track(t, st, 1, "https://x/a", 1000)
	b := track(t, st, 1, "https://x/b", 2000)

	src := &stubSource{
		snaps: map[string]market.Snapshot{
			"https://x/b": {Price: 1800, Availability: "in stock", Source: "onliner"},
		},
		errs: map[string]error{
			"https://x/a": &market.FetchError{Source: "onliner", URL: "https://x/a", Err: errors.New("timeout")},
		},
	}
	poller := NewPoller(st, src, nil, func() int64 { return 200 }, logx.Nop())
	require.NoError(t, poller.Run(ctx, []string{"onliner"}))

	// Failed product: untouched, not dirty, never treated as a change.
	hist, err := st.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	// Healthy product in the same pass still recorded its change.
	hist, err = st.History(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestDispatchThresholdSuppression(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := track(t, st, 1, "https://x/a", 1000)
	track(t, st, 2, "https://x/a", 1000)
	track(t, st, 3, "https://x/a", 1000)

	// user 1: threshold above latest -> delivered; user 2: below -> suppressed;
	// user 3: no threshold -> always delivered.
	th1, th2 := int64(9600), int64(9000)
	require.NoError(t, st.SetThreshold(ctx, 1, p.ID, &th1))
	require.NoError(t, st.SetThreshold(ctx, 2, p.ID, &th2))

	require.NoError(t, st.AppendPrice(ctx, storage.Snapshot{ProductID: p.ID, Price: 9500, Availability: "in stock", RetrievedAt: 200}))

	ad := &recordingAdapter{}
	require.NoError(t, newDispatcher(st, ad).Run(ctx))
	require.ElementsMatch(t, []int64{1, 3}, ad.sent)

	// Boundary: latest == threshold is suppressed.
	require.True(t, suppressed(&th1, 9600))
	require.False(t, suppressed(&th1, 9599))
	require.False(t, suppressed(nil, 999999))
}

func TestDispatchClearsDirtyDespitePartialFailure(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := track(t, st, 1, "https://x/a", 1000)
	track(t, st, 2, "https://x/a", 1000)

	require.NoError(t, st.AppendPrice(ctx, storage.Snapshot{ProductID: p.ID, Price: 900, Availability: "in stock", RetrievedAt: 200}))

	ad := &recordingAdapter{failFor: map[int64]error{1: errors.New("blocked")}}
	require.NoError(t, newDispatcher(st, ad).Run(ctx))

	// User 2 still got the message; the flag is cleared regardless.
	require.Equal(t, []int64{2}, ad.sent)
	dirty, err := st.DirtyProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, dirty)

	// At-most-once: a second cycle sends nothing.
	ad.sent = nil
	require.NoError(t, newDispatcher(st, ad).Run(ctx))
	require.Empty(t, ad.sent)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	v := func(n int64) *int64 { return &n }

	require.Equal(t, StateBestPrice, Classify(v(80), v(80)))
	require.Equal(t, StateInStock, Classify(v(90), v(80)))
	require.Equal(t, StateNoData, Classify(nil, v(80)))
	require.Equal(t, StateNoData, Classify(v(90), nil))
}

func TestPoolAggregation(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	// A: latest 100, min 80. B: latest 90, min 90.
	a := track(t, st, 1, "https://x/a", 8000)
	require.NoError(t, st.AppendPrice(ctx, storage.Snapshot{ProductID: a.ID, Price: 10000, Availability: "in stock", RetrievedAt: 200}))
	b := track(t, st, 1, "https://x/b", 9000)

	pool, err := st.CreatePool(ctx, 1, a.ID)
	require.NoError(t, err)
	require.NoError(t, st.AppendToPool(ctx, 1, pool.ID, b.ID))

	view, err := PoolPrices(ctx, st, 1, pool.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Current)
	require.NotNil(t, view.HistoricalMin)
	require.EqualValues(t, 9000, *view.Current)
	require.EqualValues(t, 8000, *view.HistoricalMin)
	require.Equal(t, StateInStock, view.State)
}

func TestPoolAggregationNoData(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	a := track(t, st, 1, "https://x/a", 1000)
	pool, err := st.CreatePool(ctx, 1, a.ID)
	require.NoError(t, err)

	// Wipe the member's ledger to simulate "no price data at all".
	require.NoError(t, st.Untrack(ctx, 1, a.ID))
	view, err := PoolPrices(ctx, st, 1, pool.ID)
	require.NoError(t, err)
	require.Nil(t, view.Current)
	require.Nil(t, view.HistoricalMin)
	require.Equal(t, StateNoData, view.State)
}

func TestProductPricesBestEver(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := track(t, st, 1, "https://x/a", 1000)

	view, err := ProductPrices(ctx, st, p.ID)
	require.NoError(t, err)
	require.Equal(t, StateBestPrice, view.State)

	require.NoError(t, st.AppendPrice(ctx, storage.Snapshot{ProductID: p.ID, Price: 1200, Availability: "in stock", RetrievedAt: 200}))
	view, err = ProductPrices(ctx, st, p.ID)
	require.NoError(t, err)
	require.Equal(t, StateInStock, view.State)
}
