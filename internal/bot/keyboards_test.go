package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pricebot/internal/storage"
	logx "pricebot/pkg/logx"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func trackProduct(t *testing.T, st *storage.Store, userID int64, url, title string, price int64) storage.Product {
	t.Helper()
	p, _, err := st.EnsureTracked(context.Background(), userID, storage.Product{
		URL: url, Title: title, Market: "onliner",
	}, storage.Snapshot{Price: price, Availability: "in stock", RetrievedAt: 100})
	require.NoError(t, err)
	return p
}

func TestStaticMarkups(t *testing.T) {
	t.Parallel()

	mk := startMarkup()
	require.Len(t, mk.InlineKeyboard, 2)
	require.Equal(t, cbProducts, mk.InlineKeyboard[0][0].Data)
	require.Equal(t, cbHelp, mk.InlineKeyboard[1][0].Data)

	mk = deleteConfirmMarkup(5)
	require.Equal(t, cbProducts, mk.InlineKeyboard[0][0].Data)
	require.Equal(t, "deleteyes_5", mk.InlineKeyboard[0][1].Data)

	mk = thresholdMarkup(5, true)
	var data []string
	for _, row := range mk.InlineKeyboard {
		for _, b := range row {
			data = append(data, b.Data)
		}
	}
	require.Contains(t, data, "delthreshold_5")
	require.Contains(t, data, "id_5")

	mk = thresholdMarkup(5, false)
	for _, row := range mk.InlineKeyboard {
		for _, b := range row {
			require.NotEqual(t, "delthreshold_5", b.Data)
		}
	}

	mk = notifyMarkup(7)
	require.Equal(t, "id_7", mk.InlineKeyboard[0][0].Data)
}

func TestProductListKeyboard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := trackProduct(t, st, 1, "https://x/a", "Alpha", 9000)
	trackProduct(t, st, 1, "https://x/b", "Beta", 5000)
	pool, err := st.CreatePool(ctx, 1, a.ID)
	require.NoError(t, err)

	kb := NewKeyboards(st, nil, logx.Nop())
	mk, err := kb.ProductList(ctx, 1)
	require.NoError(t, err)

	// Pool row, ungrouped product row, main menu footer.
	require.Len(t, mk.InlineKeyboard, 3)

	poolRow := mk.InlineKeyboard[0][0]
	require.Equal(t, "pool_"+itoa(pool.ID), poolRow.Data)
	require.Contains(t, poolRow.Text, "POOL")
	require.Contains(t, poolRow.Text, "Alpha")

	prodRow := mk.InlineKeyboard[1][0]
	require.Contains(t, prodRow.Text, "Beta")
	require.Contains(t, prodRow.Text, "50.00")
	// Single snapshot: the latest price is the all-time low.
	require.True(t, strings.HasPrefix(prodRow.Text, "✅"), prodRow.Text)

	require.Equal(t, cbMenu, mk.InlineKeyboard[2][0].Data)
}

func TestProductActionsPoolRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := trackProduct(t, st, 1, "https://x/a", "Alpha", 9000)
	kb := NewKeyboards(st, nil, logx.Nop())

	mk, err := kb.ProductActions(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, "createpool_"+itoa(p.ID), mk.InlineKeyboard[0][0].Data)
	require.Equal(t, "addpool_"+itoa(p.ID), mk.InlineKeyboard[0][1].Data)

	_, err = st.CreatePool(ctx, 1, p.ID)
	require.NoError(t, err)
	mk, err = kb.ProductActions(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, "delpool_"+itoa(p.ID), mk.InlineKeyboard[0][0].Data)
}

func itoa(id int64) string { return withID("", id) }
