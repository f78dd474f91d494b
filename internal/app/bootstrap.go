package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
	"tradedesk/internal/ledger"
	"tradedesk/internal/rest"
)

// BootState is the boot sequencer's lifecycle state.
type BootState int

const (
	BootIdle BootState = iota
	BootLoading
	BootReady
	BootError
)

func (s BootState) String() string {
	switch s {
	case BootIdle:
		return "IDLE"
	case BootLoading:
		return "LOADING"
	case BootReady:
		return "READY"
	case BootError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrBootInProgress is returned when Boot is called while a boot is already
// running; the in-flight boot is not restarted.
var ErrBootInProgress = errors.New("boot already in progress")

// Bootstrap orchestrates startup: provider config, session, one consistent
// snapshot, then seeding the ledger from it. Quote state is seeded by the
// stream's own snapshot frame; only after a successful boot does the caller
// open the stream and treat its merges as authoritative.
type Bootstrap struct {
	client snapshotClient
	ledger *ledger.Ledger

	mu       sync.Mutex
	state    BootState
	lastErr  error
	provider rest.ProviderConfig
	session  rest.Session
	metrics  rest.AccountMetrics
}

// snapshotClient is the slice of the REST layer the sequencer needs;
// narrowed so tests can stub the backend.
type snapshotClient interface {
	ProviderConfig(ctx context.Context) (rest.ProviderConfig, error)
	OpenSession(ctx context.Context) (rest.Session, error)
	Metrics(ctx context.Context) (rest.AccountMetrics, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	History(ctx context.Context) ([]domain.OrderItem, []domain.FillItem, error)
}

// NewBootstrap creates a sequencer in the idle state.
func NewBootstrap(client snapshotClient, ldg *ledger.Ledger) *Bootstrap {
	return &Bootstrap{
		client: client,
		ledger: ldg,
		state:  BootIdle,
	}
}

// State returns the current boot state and, in the error state, its cause.
func (b *Bootstrap) State() (BootState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.lastErr
}

// Provider returns the provider/mode resolved during the last boot.
func (b *Bootstrap) Provider() rest.ProviderConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.provider
}

// Metrics returns the account metrics captured during the last boot.
func (b *Bootstrap) Metrics() rest.AccountMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Boot runs the startup sequence. Calling it again while loading returns
// ErrBootInProgress without restarting; calling it from the error state
// starts a fresh attempt.
func (b *Bootstrap) Boot(ctx context.Context) error {
	b.mu.Lock()
	if b.state == BootLoading {
		b.mu.Unlock()
		return ErrBootInProgress
	}
	b.state = BootLoading
	b.lastErr = nil
	b.mu.Unlock()

	started := time.Now()
	err := b.run(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = BootError
		b.lastErr = err
		return err
	}
	b.state = BootReady
	infra.BootDurationSeconds.Set(time.Since(started).Seconds())
	return nil
}

func (b *Bootstrap) run(ctx context.Context) error {
	slog.Info("Boot: resolving provider configuration")
	provider, err := b.client.ProviderConfig(ctx)
	if err != nil {
		return fmt.Errorf("provider config: %w", err)
	}

	slog.Info("Boot: opening session", "provider", provider.Provider, "mode", provider.Mode)
	session, err := b.client.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	b.mu.Lock()
	b.provider = provider
	b.session = session
	b.mu.Unlock()

	return b.fetchSnapshot(ctx)
}

// fetchSnapshot issues the three snapshot sub-fetches concurrently and
// evaluates them independently: one failing sub-fetch does not block
// application of the others. The boot fails only when every sub-fetch fails.
func (b *Bootstrap) fetchSnapshot(ctx context.Context) error {
	var (
		wg sync.WaitGroup

		metrics    rest.AccountMetrics
		metricsErr error

		positions    []domain.Position
		positionsErr error

		orders     []domain.OrderItem
		fills      []domain.FillItem
		historyErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		metrics, metricsErr = b.client.Metrics(ctx)
	}()
	go func() {
		defer wg.Done()
		positions, positionsErr = b.client.Positions(ctx)
	}()
	go func() {
		defer wg.Done()
		orders, fills, historyErr = b.client.History(ctx)
	}()
	wg.Wait()

	// Abandon-on-cancel: late results of a cancelled boot are never applied.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	applied := 0
	if metricsErr == nil {
		b.mu.Lock()
		b.metrics = metrics
		b.mu.Unlock()
		infra.SnapshotFetchesTotal.WithLabelValues("metrics", "ok").Inc()
		applied++
	} else {
		infra.SnapshotFetchesTotal.WithLabelValues("metrics", "error").Inc()
		slog.Warn("Boot: metrics fetch failed", "err", metricsErr)
	}

	if positionsErr == nil {
		b.ledger.ReplacePositions(positions)
		infra.SnapshotFetchesTotal.WithLabelValues("positions", "ok").Inc()
		applied++
	} else {
		infra.SnapshotFetchesTotal.WithLabelValues("positions", "error").Inc()
		slog.Warn("Boot: positions fetch failed", "err", positionsErr)
	}

	if historyErr == nil {
		b.ledger.MergeOrders(orders)
		b.ledger.MergeFills(fills)
		infra.SnapshotFetchesTotal.WithLabelValues("history", "ok").Inc()
		applied++
	} else {
		infra.SnapshotFetchesTotal.WithLabelValues("history", "error").Inc()
		slog.Warn("Boot: order/fill history fetch failed", "err", historyErr)
	}

	if applied == 0 {
		return fmt.Errorf("snapshot fetch: all sub-fetches failed: %w",
			errors.Join(metricsErr, positionsErr, historyErr))
	}
	return nil
}
