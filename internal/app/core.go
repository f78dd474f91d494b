package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
	"tradedesk/internal/ledger"
	"tradedesk/internal/market"
	"tradedesk/internal/rest"
	"tradedesk/internal/storage"
	"tradedesk/internal/stream"
	"tradedesk/internal/transport"
)

// Core is the composition root and public surface of the desk: read-mostly
// accessors over reconciled state plus a change-notification hook for
// presentation layers. Rendering is someone else's problem.
type Core struct {
	cfg    *infra.Config
	store  *market.Store
	ledger *ledger.Ledger
	pool   *transport.Pool
	router *stream.Router
	client *rest.Client
	boot   *Bootstrap

	refresher *rest.Refresher
	journal   *storage.Journal
	journalW  *storage.Writer

	listenerMu sync.RWMutex
	listeners  map[int]market.ChangeFunc
	nextID     int
}

// NewCore wires the desk together from config.
func NewCore(cfg *infra.Config) *Core {
	store := market.NewStore(cfg.Feed.DepthLimit, cfg.Feed.TapeLimit)
	ldg := ledger.New(domain.HistoryCap)
	client := rest.NewClient(cfg)

	c := &Core{
		cfg:       cfg,
		store:     store,
		ledger:    ldg,
		pool:      transport.NewPool(),
		router:    stream.NewRouter(store, ldg),
		client:    client,
		boot:      NewBootstrap(client, ldg),
		listeners: make(map[int]market.ChangeFunc),
	}

	store.SetOnChange(c.fanOut)
	return c
}

// Start boots the desk and, once the snapshot is seeded, opens the live
// stream for the configured symbols and starts the periodic REST refresh.
func (c *Core) Start(ctx context.Context) error {
	if c.cfg.Journal.Enabled {
		dir := c.cfg.Journal.Dir
		if dir == "" {
			dir = infra.GetWorkspaceDir()
		}
		if err := infra.EnsureDir(dir); err != nil {
			return err
		}
		journal, err := storage.NewJournal(filepath.Join(dir, "session.db"))
		if err != nil {
			return err
		}
		c.journal = journal
		c.journalW = storage.NewWriter(journal, c.cfg.Journal.Buffer)
		slog.Info("Session journal ready", "dir", dir)
	}

	if err := c.boot.Boot(ctx); err != nil {
		return err
	}

	// Stream merges are trusted only now that the ledger is seeded.
	c.Subscribe(ctx, c.cfg.Feed.Symbols)

	interval := time.Duration(c.cfg.API.RefreshIntervalSec) * time.Second
	c.refresher = rest.NewRefresher(interval)
	c.refresher.Start(ctx, "history", func(ctx context.Context) error {
		orders, fills, err := c.client.History(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.ledger.MergeOrders(orders)
		c.ledger.MergeFills(fills)
		return nil
	})

	return nil
}

// Stop tears the desk down: refresh loop, stream, journal.
func (c *Core) Stop() {
	if c.refresher != nil {
		c.refresher.Stop()
	}
	c.pool.Shutdown()
	if c.journalW != nil {
		c.journalW.Close()
	}
	if c.journal != nil {
		c.journal.Close()
	}
}

// Subscribe attaches a stream subscription for the given symbols and returns
// its handle. The subscribe payload is re-sent on every reconnect.
func (c *Core) Subscribe(ctx context.Context, symbols []string) *transport.Subscription {
	canonical := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if cs := domain.CanonicalSymbol(s); cs != "" {
			canonical = append(canonical, cs)
		}
	}

	return c.pool.Open(ctx, c.cfg.Feed.WSURL, nil,
		func(frame transport.Frame) { c.router.Route(frame) },
		func(sub *transport.Subscription) {
			msg := map[string]any{"op": "subscribe", "symbols": canonical}
			if err := sub.Send(msg); err != nil {
				slog.Warn("Subscribe send failed", "err", err)
			}
		},
	)
}

// Quote returns the reconciled quote for a symbol.
func (c *Core) Quote(symbol string) (domain.Quote, bool) {
	return c.store.Quote(symbol)
}

// Tape returns the symbol's price tape, oldest first.
func (c *Core) Tape(symbol string) []domain.TapeEntry {
	return c.store.Tape(symbol)
}

// Positions returns all reconciled positions.
func (c *Core) Positions() []domain.Position {
	return c.ledger.Positions()
}

// Orders returns the symbol's order history, newest first.
func (c *Core) Orders(symbol string) []domain.OrderItem {
	return c.ledger.Orders(symbol)
}

// Fills returns the symbol's fill history, newest first.
func (c *Core) Fills(symbol string) []domain.FillItem {
	return c.ledger.Fills(symbol)
}

// Provider returns the backend provider/mode resolved at boot.
func (c *Core) Provider() rest.ProviderConfig {
	return c.boot.Provider()
}

// BootState exposes the sequencer state for user-visible error display.
func (c *Core) BootState() (BootState, error) {
	return c.boot.State()
}

// Retry re-runs the boot sequence after a user-visible failure.
func (c *Core) Retry(ctx context.Context) error {
	return c.boot.Boot(ctx)
}

// PlaceOrder fires an order placement; the resulting state arrives through
// stream pushes and refresh pulls, not through this call.
func (c *Core) PlaceOrder(ctx context.Context, req rest.OrderRequest) error {
	return c.client.PlaceOrder(ctx, req)
}

// CancelOrder fires an order cancellation.
func (c *Core) CancelOrder(ctx context.Context, orderID string) error {
	return c.client.CancelOrder(ctx, orderID)
}

// OnChange registers a change listener and returns its unsubscribe func.
// Listeners fire after any merge that changed stored quote state.
func (c *Core) OnChange(fn market.ChangeFunc) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// fanOut runs on the stream read path for every accepted merge, so it must
// not block: journaling goes through the buffered writer, listeners get the
// quote inline.
func (c *Core) fanOut(q domain.Quote) {
	if c.journalW != nil {
		c.journalW.Enqueue(q)
	}

	c.listenerMu.RLock()
	fns := make([]market.ChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(q)
	}
}
