package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"pricebot/internal/cache"
	"pricebot/internal/market"
	"pricebot/internal/monitor"
	rtsup "pricebot/internal/runtime/supervisor"
	"pricebot/internal/storage"
	"pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

// LinkSource resolves and fetches a product link during ingestion.
// *market.Registry is the production implementation.
type LinkSource interface {
	Fetch(ctx context.Context, rawURL string) (market.Snapshot, error)
}

type Config struct {
	// Owners is the user-id allowlist. Empty means open to everyone.
	Owners []int64
	// Workers is the handler pool size (default 2).
	Workers int
	// HandlerTimeout bounds one update's handling (default 30s).
	HandlerTimeout time.Duration
	// Location renders card timestamps (default time.Local).
	Location *time.Location
}

// Router consumes transport updates and drives the whole command surface.
type Router struct {
	cfg     Config
	store   *storage.Store
	cache   *cache.Cache
	kb      *Keyboards
	source  LinkSource
	adapter transport.Adapter
	now     func() int64
	log     logx.Logger

	mu      sync.Mutex
	owners  []int64
	pending map[int64]int64 // userID -> productID awaiting threshold input

	jobs      chan func()
	closeOnce sync.Once
}

func NewRouter(cfg Config, st *storage.Store, c *cache.Cache, source LinkSource, ad transport.Adapter, log logx.Logger) *Router {
	if c == nil {
		c = cache.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Router{
		cfg:     cfg,
		store:   st,
		cache:   c,
		kb:      NewKeyboards(st, c, log),
		source:  source,
		adapter: ad,
		now:     func() int64 { return time.Now().Unix() },
		log:     log,
		owners:  append([]int64(nil), cfg.Owners...),
		pending: map[int64]int64{},
		jobs:    make(chan func(), 256),
	}
}

// SetOwners replaces the allowlist. Safe during config hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// NotificationMarkup is the monitor dispatcher's MarkupFunc.
func (r *Router) NotificationMarkup(_ int64, productID int64) any {
	return notifyMarkup(productID)
}

// Run consumes updates until ctx is done or the channel closes. Handlers run
// on a small worker pool so one slow marketplace fetch cannot block the
// whole bot.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.Go0("bot.worker."+strconv.Itoa(idx), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					r.runJob(idx, job)
				}
			}
		})
	}

	// Best-effort Telegram /menu autocomplete.
	sup.Go0("bot.menu.update", func(c context.Context) {
		if up, ok := r.adapter.(transport.CommandMenuUpdater); ok {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			_ = up.UpdateMenuCommands(mctx, []transport.BotCommand{
				{Command: "start", Description: "start tracking"},
				{Command: "menu", Description: "main menu"},
				{Command: "help", Description: "how it works"},
			})
		}
	})

	r.log.Info("bot router started", logx.Int("workers", r.cfg.Workers))
	defer func() {
		r.closeOnce.Do(func() { close(r.jobs) })
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("bot router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in bot handler",
				logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(root context.Context, up transport.Update) {
	var (
		chat   transport.ChatTarget
		fromID int64
		cbID   string
		handle func(ctx context.Context) error
	)
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return
		}
		msg := up.Message
		chat = transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		fromID = msg.FromID
		handle = func(ctx context.Context) error { return r.handleMessage(ctx, msg) }
	case transport.UpdateCallback:
		if up.Callback == nil {
			return
		}
		cb := up.Callback
		chat = transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		fromID = cb.FromID
		cbID = cb.ID
		handle = func(ctx context.Context) error { return r.handleCallback(ctx, cb) }
	default:
		return
	}

	if !r.allowed(fromID) {
		r.log.Debug("update from unknown user dropped", logx.Int64("from_id", fromID))
		if cbID != "" {
			_ = r.adapter.AnswerCallback(root, cbID, "forbidden")
		}
		return
	}

	job := func() {
		ctx, cancel := context.WithTimeout(root, r.cfg.HandlerTimeout)
		defer cancel()
		if err := handle(ctx); err != nil {
			r.log.Warn("handler failed",
				logx.Int64("from_id", fromID), logx.String("kind", string(up.Kind)), logx.Err(err))
			_, _ = r.adapter.SendText(root, chat, "Something went wrong, try again later.", nil)
		}
		if cbID != "" {
			// Stop the inline button's loading spinner.
			_ = r.adapter.AnswerCallback(root, cbID, "")
		}
	}
	if !r.tryEnqueue(job) {
		if cbID != "" {
			_ = r.adapter.AnswerCallback(root, cbID, "busy")
			return
		}
		_, _ = r.adapter.SendText(root, chat, "Busy, try again.", nil)
	}
}

func (r *Router) allowed(userID int64) bool {
	r.mu.Lock()
	owners := r.owners
	r.mu.Unlock()
	if len(owners) == 0 {
		return true
	}
	for _, id := range owners {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Router) setPending(userID, productID int64) {
	r.mu.Lock()
	r.pending[userID] = productID
	r.mu.Unlock()
}

func (r *Router) takePending(userID int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.pending[userID]
	if ok {
		delete(r.pending, userID)
	}
	return pid, ok
}

func (r *Router) send(ctx context.Context, chatID int64, text string, mk any) error {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if mk != nil {
		opt.ReplyMarkupAdapter = mk
	}
	_, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt)
	return err
}

func (r *Router) sendList(ctx context.Context, userID, chatID int64) error {
	mk, err := r.kb.ProductList(ctx, userID)
	if err != nil {
		return err
	}
	return r.send(ctx, chatID, "Your items:", mk)
}

// ---- messages ----

func (r *Router) handleMessage(ctx context.Context, msg *transport.Message) error {
	text := strings.TrimSpace(msg.Text)
	cmd, _, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		if err := r.store.UpsertUser(ctx, storage.User{
			TelegramID: msg.FromID,
			Username:   msg.FromUsername,
			CreatedAt:  r.now(),
		}); err != nil {
			return err
		}
		return r.send(ctx, msg.ChatID, welcomeText, startMarkup())
	case "/menu":
		return r.send(ctx, msg.ChatID, "Main menu", menuMarkup())
	case "/help":
		return r.send(ctx, msg.ChatID, helpText, backMarkup())
	}

	if pid, ok := r.takePending(msg.FromID); ok {
		return r.handleThresholdInput(ctx, msg, pid, text)
	}
	return r.ingestLink(ctx, msg, text)
}

func (r *Router) handleThresholdInput(ctx context.Context, msg *transport.Message, productID int64, text string) error {
	minor, err := parseMinor(text)
	if err != nil {
		// Keep waiting for a usable amount.
		r.setPending(msg.FromID, productID)
		return r.send(ctx, msg.ChatID,
			"Could not read that as a price. Send a number like <code>95.50</code>.",
			thresholdMarkup(productID, false))
	}
	if err := r.store.SetThreshold(ctx, msg.FromID, productID, &minor); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, msg.ChatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	return r.send(ctx, msg.ChatID,
		fmt.Sprintf("Threshold set to <b>%s BYN</b>. You will only be notified below it.", monitor.Money(minor)),
		thresholdMarkup(productID, true))
}

func (r *Router) ingestLink(ctx context.Context, msg *transport.Message, text string) error {
	canonical, err := market.Canonicalize(text)
	if err != nil {
		return r.send(ctx, msg.ChatID, invalidLinkText, backMarkup())
	}
	snap, err := r.source.Fetch(ctx, text)
	if err != nil {
		if errors.Is(err, market.ErrUnsupportedSource) {
			return r.send(ctx, msg.ChatID, invalidLinkText, backMarkup())
		}
		r.log.Warn("ingest fetch failed", logx.String("url", canonical), logx.Err(err))
		return r.send(ctx, msg.ChatID,
			"Could not read that page right now, try again in a minute.", backMarkup())
	}

	p, created, err := r.store.EnsureTracked(ctx, msg.FromID, storage.Product{
		URL:      canonical,
		Title:    snap.Title,
		ImageURL: snap.ImageURL,
		Market:   snap.Source,
	}, storage.Snapshot{
		Price:        snap.Price,
		Availability: snap.Availability,
		RetrievedAt:  r.now(),
	})
	if err != nil {
		return err
	}
	r.cache.InvalidateUser(ctx, msg.FromID)

	lead := "Now tracking:"
	if !created {
		lead = "Already on your list:"
	}
	if err := r.send(ctx, msg.ChatID, lead+" "+html.EscapeString(p.Title), nil); err != nil {
		return err
	}
	return r.sendCard(ctx, msg.FromID, msg.ChatID, p.ID)
}

// ---- callbacks ----

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) error {
	data := strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f"))

	switch data {
	case cbProducts:
		return r.sendList(ctx, cb.FromID, cb.ChatID)
	case cbMenu:
		return r.send(ctx, cb.ChatID, "Main menu", menuMarkup())
	case cbHelp:
		return r.send(ctx, cb.ChatID, helpText, backMarkup())
	}

	switch {
	case strings.HasPrefix(data, cbAppendPool):
		poolID, productID, err := parsePair(strings.TrimPrefix(data, cbAppendPool))
		if err != nil {
			return err
		}
		return r.onAppendPool(ctx, cb, poolID, productID)
	case strings.HasPrefix(data, cbCreatePool):
		return r.withID(ctx, cb, data, cbCreatePool, r.onCreatePool)
	case strings.HasPrefix(data, cbAddPool):
		return r.withID(ctx, cb, data, cbAddPool, r.onAddPool)
	case strings.HasPrefix(data, cbDelPool):
		return r.withID(ctx, cb, data, cbDelPool, r.onDelPool)
	case strings.HasPrefix(data, cbPool):
		return r.withID(ctx, cb, data, cbPool, r.onPool)
	case strings.HasPrefix(data, cbDeleteYes):
		return r.withID(ctx, cb, data, cbDeleteYes, r.onDeleteYes)
	case strings.HasPrefix(data, cbDelete):
		return r.withID(ctx, cb, data, cbDelete, r.onDelete)
	case strings.HasPrefix(data, cbDelThreshold):
		return r.withID(ctx, cb, data, cbDelThreshold, r.onDelThreshold)
	case strings.HasPrefix(data, cbThreshold):
		return r.withID(ctx, cb, data, cbThreshold, r.onThreshold)
	case strings.HasPrefix(data, cbProduct):
		return r.withID(ctx, cb, data, cbProduct, r.onProduct)
	}
	r.log.Debug("unknown callback", logx.String("data", data))
	return nil
}

func (r *Router) withID(ctx context.Context, cb *transport.Callback, data, prefix string,
	h func(ctx context.Context, cb *transport.Callback, id int64) error) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil {
		return fmt.Errorf("callback %q: %w", data, err)
	}
	return h(ctx, cb, id)
}

func parsePair(payload string) (int64, int64, error) {
	a, b, ok := strings.Cut(payload, "_")
	if !ok {
		return 0, 0, fmt.Errorf("callback payload %q: want two ids", payload)
	}
	first, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	second, err := strconv.ParseInt(b, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func (r *Router) onProduct(ctx context.Context, cb *transport.Callback, productID int64) error {
	return r.sendCard(ctx, cb.FromID, cb.ChatID, productID)
}

func (r *Router) sendCard(ctx context.Context, userID, chatID, productID int64) error {
	p, err := r.store.Product(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, chatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	latest, err := r.store.Latest(ctx, productID)
	if err != nil {
		return err
	}
	var (
		min, max  int64
		hasMinMax bool
	)
	switch min, max, err = r.store.MinMax(ctx, productID); {
	case err == nil:
		hasMinMax = true
	case errors.Is(err, storage.ErrNoData):
	default:
		return err
	}

	mk, err := r.kb.ProductActions(ctx, userID, productID)
	if err != nil {
		return err
	}
	opt := &transport.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: mk}
	caption := cardText(p, latest, min, max, hasMinMax, r.cfg.Location)
	_, err = r.adapter.SendPhoto(ctx, transport.ChatTarget{ChatID: chatID}, p.ImageURL, caption, opt)
	return err
}

func (r *Router) onDelete(ctx context.Context, cb *transport.Callback, productID int64) error {
	p, err := r.store.Product(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, cb.ChatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	return r.send(ctx, cb.ChatID,
		"Remove <b>"+html.EscapeString(p.Title)+"</b> from tracking?",
		deleteConfirmMarkup(productID))
}

func (r *Router) onDeleteYes(ctx context.Context, cb *transport.Callback, productID int64) error {
	if err := r.store.Untrack(ctx, cb.FromID, productID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	r.cache.InvalidateUser(ctx, cb.FromID)
	if err := r.send(ctx, cb.ChatID, "Item removed.", nil); err != nil {
		return err
	}
	return r.sendList(ctx, cb.FromID, cb.ChatID)
}

func (r *Router) onCreatePool(ctx context.Context, cb *transport.Callback, productID int64) error {
	grouped, err := r.store.InAnyPool(ctx, cb.FromID, productID)
	if err != nil {
		return err
	}
	if grouped {
		return r.send(ctx, cb.ChatID, "This item is already in a pool.", backMarkup())
	}
	if _, err := r.store.CreatePool(ctx, cb.FromID, productID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, cb.ChatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	r.cache.InvalidateUser(ctx, cb.FromID)
	if err := r.send(ctx, cb.ChatID, "Pool created.", nil); err != nil {
		return err
	}
	return r.sendList(ctx, cb.FromID, cb.ChatID)
}

func (r *Router) onAddPool(ctx context.Context, cb *transport.Callback, productID int64) error {
	pools, err := r.store.Pools(ctx, cb.FromID)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return r.send(ctx, cb.ChatID, "You have no pools yet. Use Create pool first.", backMarkup())
	}
	mk, err := r.kb.PoolChooser(ctx, cb.FromID, productID)
	if err != nil {
		return err
	}
	return r.send(ctx, cb.ChatID, "Choose a pool:", mk)
}

func (r *Router) onAppendPool(ctx context.Context, cb *transport.Callback, poolID, productID int64) error {
	if err := r.store.AppendToPool(ctx, cb.FromID, poolID, productID); err != nil {
		return err
	}
	r.cache.InvalidateUser(ctx, cb.FromID)
	if err := r.send(ctx, cb.ChatID, "Added to pool.", nil); err != nil {
		return err
	}
	return r.sendList(ctx, cb.FromID, cb.ChatID)
}

func (r *Router) onPool(ctx context.Context, cb *transport.Callback, poolID int64) error {
	pools, err := r.store.Pools(ctx, cb.FromID)
	if err != nil {
		return err
	}
	var pool *storage.Pool
	for i := range pools {
		if pools[i].ID == poolID {
			pool = &pools[i]
			break
		}
	}
	if pool == nil {
		return r.send(ctx, cb.ChatID, "That pool no longer exists.", backMarkup())
	}

	view, err := monitor.PoolPrices(ctx, r.store, cb.FromID, poolID)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Pool:</b> %s\n", html.EscapeString(pool.Title))
	if view.Current != nil {
		fmt.Fprintf(&b, "<b>Best current price:</b> %s BYN\n", monitor.Money(*view.Current))
	}
	if view.HistoricalMin != nil {
		fmt.Fprintf(&b, "<b>All-time low:</b> %s BYN\n", monitor.Money(*view.HistoricalMin))
	}
	if view.Current == nil && view.HistoricalMin == nil {
		b.WriteString("No price data yet.\n")
	}

	mk, err := r.kb.PoolMembers(ctx, cb.FromID, poolID)
	if err != nil {
		return err
	}
	return r.send(ctx, cb.ChatID, b.String(), mk)
}

func (r *Router) onDelPool(ctx context.Context, cb *transport.Callback, productID int64) error {
	if err := r.store.RemoveFromPool(ctx, cb.FromID, productID); err != nil {
		return err
	}
	r.cache.InvalidateUser(ctx, cb.FromID)
	if err := r.send(ctx, cb.ChatID, "Removed from pool.", nil); err != nil {
		return err
	}
	return r.sendList(ctx, cb.FromID, cb.ChatID)
}

func (r *Router) onThreshold(ctx context.Context, cb *transport.Callback, productID int64) error {
	current, err := r.store.Threshold(ctx, cb.FromID, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, cb.ChatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	r.setPending(cb.FromID, productID)
	return r.send(ctx, cb.ChatID, thresholdPrompt(current), thresholdMarkup(productID, current != nil))
}

func (r *Router) onDelThreshold(ctx context.Context, cb *transport.Callback, productID int64) error {
	if err := r.store.SetThreshold(ctx, cb.FromID, productID, nil); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r.send(ctx, cb.ChatID, "That item is no longer tracked.", backMarkup())
		}
		return err
	}
	return r.send(ctx, cb.ChatID, "Threshold cleared. Every change is delivered again.",
		thresholdMarkup(productID, false))
}
