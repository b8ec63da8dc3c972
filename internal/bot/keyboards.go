package bot

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"pricebot/internal/cache"
	"pricebot/internal/monitor"
	"pricebot/internal/storage"
	logx "pricebot/pkg/logx"
)

// Callback data schemes. Every inline button carries one of these, either
// bare or with numeric ids appended ("id_42", "appendpool_3_42").
const (
	cbProducts = "products"
	cbHelp     = "help"
	cbMenu     = "menu"

	cbProduct      = "id_"
	cbDelete       = "delete_"
	cbDeleteYes    = "deleteyes_"
	cbCreatePool   = "createpool_"
	cbAddPool      = "addpool_"
	cbAppendPool   = "appendpool_"
	cbPool         = "pool_"
	cbDelPool      = "delpool_"
	cbThreshold    = "threshold_"
	cbDelThreshold = "delthreshold_"
)

var (
	btnMainMenu   = tele.InlineButton{Text: "☑️ Main menu", Data: cbMenu}
	btnMyProducts = tele.InlineButton{Text: "\U0001F6CD My products", Data: cbProducts}
	btnHelp       = tele.InlineButton{Text: "ℹ️ Help", Data: cbHelp}
)

func markup(rows ...[]tele.InlineButton) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func row(btns ...tele.InlineButton) []tele.InlineButton { return btns }

func btn(text, data string) tele.InlineButton {
	return tele.InlineButton{Text: text, Data: data}
}

func withID(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

func startMarkup() *tele.ReplyMarkup {
	return markup(row(btnMyProducts), row(btnHelp))
}

func menuMarkup() *tele.ReplyMarkup {
	return markup(row(btnMyProducts), row(btnMainMenu))
}

func backMarkup() *tele.ReplyMarkup {
	return markup(row(btnMainMenu))
}

func deleteConfirmMarkup(productID int64) *tele.ReplyMarkup {
	return markup(
		row(btn("No", cbProducts), btn("Yes", withID(cbDeleteYes, productID))),
		row(btnMainMenu),
	)
}

func thresholdMarkup(productID int64, hasValue bool) *tele.ReplyMarkup {
	rows := [][]tele.InlineButton{
		row(btn("Back", withID(cbProduct, productID))),
	}
	if hasValue {
		rows = append(rows, row(btn("Reset", withID(cbDelThreshold, productID))))
	}
	rows = append(rows, row(btnMyProducts), row(btnMainMenu))
	return markup(rows...)
}

// notifyMarkup is attached to change notifications. It is static on purpose:
// the dispatcher builds it outside any request context, so no catalog reads.
func notifyMarkup(productID int64) *tele.ReplyMarkup {
	return markup(
		row(btn("Open card", withID(cbProduct, productID))),
		row(btnMyProducts),
		row(btnMainMenu),
	)
}

// statusCircle is the per-line marker on list keyboards.
func statusCircle(state monitor.PriceState) string {
	switch state {
	case monitor.StateBestPrice:
		return "✅ "
	case monitor.StateInStock:
		return "\U0001F31F "
	default:
		return "❌ "
	}
}

// Keyboards renders the catalog-backed keyboards. The product list is the
// expensive one (price lookups per line), so it is memoized per user in the
// cache and rebuilt after any catalog mutation or poll cycle.
type Keyboards struct {
	store *storage.Store
	cache *cache.Cache
	log   logx.Logger
}

func NewKeyboards(st *storage.Store, c *cache.Cache, log logx.Logger) *Keyboards {
	if c == nil {
		c = cache.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Keyboards{store: st, cache: c, log: log}
}

const productListView = "products"

// ProductList is the main inventory keyboard: one line per pool, then one
// line per product that is not grouped into any pool.
func (k *Keyboards) ProductList(ctx context.Context, userID int64) (*tele.ReplyMarkup, error) {
	key := cache.UserKey(userID, productListView)
	var cached tele.ReplyMarkup
	if k.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	var rows [][]tele.InlineButton

	pools, err := k.store.Pools(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		view, err := monitor.PoolPrices(ctx, k.store, userID, pool.ID)
		if err != nil {
			return nil, err
		}
		label := statusCircle(view.State) + "POOL"
		if view.Current != nil {
			label += " " + monitor.Money(*view.Current)
		}
		label += " - " + pool.Title
		rows = append(rows, row(btn(label, withID(cbPool, pool.ID))))
	}

	products, err := k.store.UserProducts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		grouped, err := k.store.InAnyPool(ctx, userID, p.ID)
		if err != nil {
			return nil, err
		}
		if grouped {
			continue
		}
		rows = append(rows, row(btn(k.productLabel(ctx, p), withID(cbProduct, p.ID))))
	}

	rows = append(rows, row(btnMainMenu))
	mk := markup(rows...)
	k.cache.Set(ctx, key, mk)
	return mk, nil
}

// productLabel degrades to a priceless line when the view cannot be built;
// a broken product must not take down the whole keyboard.
func (k *Keyboards) productLabel(ctx context.Context, p storage.Product) string {
	view, err := monitor.ProductPrices(ctx, k.store, p.ID)
	if err != nil {
		k.log.Warn("keyboard: price view failed", logx.Int64("product_id", p.ID), logx.Err(err))
		return statusCircle(monitor.StateNoData) + p.Market + " - " + p.Title
	}
	label := statusCircle(view.State)
	if view.Current != nil {
		label += monitor.Money(*view.Current) + " - "
	}
	return label + p.Market + " - " + p.Title
}

// PoolChooser lists the user's pools as append targets for one product.
func (k *Keyboards) PoolChooser(ctx context.Context, userID, productID int64) (*tele.ReplyMarkup, error) {
	pools, err := k.store.Pools(ctx, userID)
	if err != nil {
		return nil, err
	}
	var rows [][]tele.InlineButton
	for _, pool := range pools {
		data := fmt.Sprintf("%s%d_%d", cbAppendPool, pool.ID, productID)
		rows = append(rows, row(btn(pool.Title, data)))
	}
	rows = append(rows, row(btnMyProducts), row(btnMainMenu))
	return markup(rows...), nil
}

// PoolMembers lists the products grouped into one pool.
func (k *Keyboards) PoolMembers(ctx context.Context, userID, poolID int64) (*tele.ReplyMarkup, error) {
	products, err := k.store.PoolProducts(ctx, userID, poolID)
	if err != nil {
		return nil, err
	}
	var rows [][]tele.InlineButton
	for _, p := range products {
		rows = append(rows, row(btn(k.productLabel(ctx, p), withID(cbProduct, p.ID))))
	}
	rows = append(rows, row(btnMyProducts), row(btnMainMenu))
	return markup(rows...), nil
}

// ProductActions is the per-card action keyboard. The pool row depends on
// whether the product is already grouped.
func (k *Keyboards) ProductActions(ctx context.Context, userID, productID int64) (*tele.ReplyMarkup, error) {
	grouped, err := k.store.InAnyPool(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	var poolRow []tele.InlineButton
	if grouped {
		poolRow = row(btn("Remove from pool", withID(cbDelPool, productID)))
	} else {
		poolRow = row(
			btn("Create pool", withID(cbCreatePool, productID)),
			btn("Add to pool", withID(cbAddPool, productID)),
		)
	}
	return markup(
		poolRow,
		row(
			btn("Price threshold", withID(cbThreshold, productID)),
			btn("Remove item", withID(cbDelete, productID)),
		),
		row(btnMyProducts),
		row(btnMainMenu),
	), nil
}
