package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricebot/internal/market"
	"pricebot/internal/storage"
	"pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

type stubSource struct {
	snaps map[string]market.Snapshot
}

func (s *stubSource) Fetch(_ context.Context, rawURL string) (market.Snapshot, error) {
	snap, ok := s.snaps[rawURL]
	if !ok {
		return market.Snapshot{}, market.ErrUnsupportedSource
	}
	return snap, nil
}

type sentMessage struct {
	chatID int64
	text   string
	photo  string
	markup any
}

type recordingAdapter struct {
	sent []sentMessage
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
	m := sentMessage{chatID: to.ChatID, text: text}
	if opt != nil {
		m.markup = opt.ReplyMarkupAdapter
	}
	a.sent = append(a.sent, m)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}
func (a *recordingAdapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	m := sentMessage{chatID: to.ChatID, text: caption, photo: photoURL}
	if opt != nil {
		m.markup = opt.ReplyMarkupAdapter
	}
	a.sent = append(a.sent, m)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *recordingAdapter) last(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, a.sent)
	return a.sent[len(a.sent)-1]
}

func newTestRouter(t *testing.T, src LinkSource) (*Router, *storage.Store, *recordingAdapter) {
	t.Helper()
	st := newTestStore(t)
	ad := &recordingAdapter{}
	r := NewRouter(Config{Location: time.UTC}, st, nil, src, ad, logx.Nop())
	r.now = func() int64 { return 100 }
	return r, st, ad
}

func msgUpdate(userID int64, text string) *transport.Message {
	return &transport.Message{ChatID: userID, FromID: userID, Text: text}
}

func cbUpdate(userID int64, data string) *transport.Callback {
	return &transport.Callback{ID: "cb1", ChatID: userID, FromID: userID, Data: data}
}

func TestStartRegistersUser(t *testing.T) {
	r, st, ad := newTestRouter(t, &stubSource{})
	ctx := context.Background()

	require.NoError(t, r.handleMessage(ctx, &transport.Message{
		ChatID: 1, FromID: 1, FromUsername: "alice", Text: "/start",
	}))
	users, err := st.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].Username)
	require.Contains(t, ad.last(t).text, "Price tracker")

	// Command with the bot-name suffix routes the same.
	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "/menu@pricebot")))
	require.Contains(t, ad.last(t).text, "Main menu")
}

func TestLinkIngestion(t *testing.T) {
	src := &stubSource{snaps: map[string]market.Snapshot{
		"https://catalog.onliner.by/phone?utm=x": {
			Title: "Phone", ImageURL: "https://img/1.jpg", Price: 9000,
			Availability: "in stock", Source: "onliner",
		},
	}}
	r, st, ad := newTestRouter(t, src)
	ctx := context.Background()

	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "https://catalog.onliner.by/phone?utm=x")))

	products, err := st.UserProducts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, products, 1)
	// Tracking junk stripped from the identity URL.
	require.Equal(t, "https://catalog.onliner.by/phone", products[0].URL)

	require.Len(t, ad.sent, 2)
	require.Contains(t, ad.sent[0].text, "Now tracking: Phone")
	// The second message is the product card with photo.
	require.Equal(t, "https://img/1.jpg", ad.sent[1].photo)
	require.Contains(t, ad.sent[1].text, "<b>Price:</b> 90.00 BYN")

	// Re-sending the same link does not duplicate the product.
	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "https://catalog.onliner.by/phone?utm=x")))
	products, err = st.UserProducts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Contains(t, ad.sent[2].text, "Already on your list")
}

func TestUnsupportedLink(t *testing.T) {
	r, st, ad := newTestRouter(t, &stubSource{})
	ctx := context.Background()

	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "https://example.com/whatever")))
	require.Contains(t, ad.last(t).text, "not from a supported store")

	products, err := st.UserProducts(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestThresholdFlow(t *testing.T) {
	r, st, ad := newTestRouter(t, &stubSource{})
	ctx := context.Background()
	p := trackProduct(t, st, 1, "https://x/a", "Alpha", 9000)

	// The threshold button arms the text-input state.
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "threshold_"+itoa(p.ID))))
	require.Contains(t, ad.last(t).text, "No threshold set")

	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "95.50")))
	th, err := st.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.NotNil(t, th)
	require.EqualValues(t, 9550, *th)
	require.Contains(t, ad.last(t).text, "95.50 BYN")

	// Garbage keeps the state armed; a valid retry still lands.
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "threshold_"+itoa(p.ID))))
	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "cheap please")))
	require.Contains(t, ad.last(t).text, "Could not read")
	require.NoError(t, r.handleMessage(ctx, msgUpdate(1, "80")))
	th, err = st.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8000, *th)

	// Reset clears it.
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "delthreshold_"+itoa(p.ID))))
	th, err = st.Threshold(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Nil(t, th)
}

func TestDeleteFlow(t *testing.T) {
	r, st, ad := newTestRouter(t, &stubSource{})
	ctx := context.Background()
	p := trackProduct(t, st, 1, "https://x/a", "Alpha", 9000)

	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "delete_"+itoa(p.ID))))
	require.Contains(t, ad.last(t).text, "Remove <b>Alpha</b>")

	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "deleteyes_"+itoa(p.ID))))
	products, err := st.UserProducts(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestPoolFlow(t *testing.T) {
	r, st, ad := newTestRouter(t, &stubSource{})
	ctx := context.Background()
	a := trackProduct(t, st, 1, "https://x/a", "Alpha", 9000)
	b := trackProduct(t, st, 1, "https://x/b", "Beta", 8000)

	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "createpool_"+itoa(a.ID))))
	pools, err := st.Pools(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pools, 1)

	// A grouped product cannot seed another pool.
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "createpool_"+itoa(a.ID))))
	require.Contains(t, ad.last(t).text, "already in a pool")

	data := "appendpool_" + itoa(pools[0].ID) + "_" + itoa(b.ID)
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, data)))
	members, err := st.PoolProducts(ctx, 1, pools[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	// The pool view reports the cheapest member.
	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "pool_"+itoa(pools[0].ID))))
	var poolMsg string
	for i := len(ad.sent) - 1; i >= 0; i-- {
		if strings.Contains(ad.sent[i].text, "<b>Pool:</b>") {
			poolMsg = ad.sent[i].text
			break
		}
	}
	require.Contains(t, poolMsg, "Best current price:</b> 80.00 BYN")

	require.NoError(t, r.handleCallback(ctx, cbUpdate(1, "delpool_"+itoa(b.ID))))
	members, err = st.PoolProducts(ctx, 1, pools[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestOwnerAllowlist(t *testing.T) {
	st := newTestStore(t)
	ad := &recordingAdapter{}
	r := NewRouter(Config{Owners: []int64{7}}, st, nil, &stubSource{}, ad, logx.Nop())

	require.True(t, r.allowed(7))
	require.False(t, r.allowed(8))

	open := NewRouter(Config{}, st, nil, &stubSource{}, ad, logx.Nop())
	require.True(t, open.allowed(12345))
}
