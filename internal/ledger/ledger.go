// Package ledger reconciles order, fill and position state from two input
// sources: full REST snapshots and incremental stream pushes. Records are
// deduplicated by identity; the copy with the greater derived timestamp wins,
// so the merged set converges regardless of application order.
package ledger

import (
	"sort"
	"sync"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
)

// Ledger is the sole mutator of its maps. Merge functions are synchronous
// and total over arbitrary input.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[string][]domain.OrderItem // per symbol, newest-first
	fills     map[string][]domain.FillItem
	positions map[string]domain.Position
	cap       int
}

// New creates a ledger with the given per-symbol history cap.
func New(cap int) *Ledger {
	if cap <= 0 {
		cap = domain.HistoryCap
	}
	return &Ledger{
		orders:    make(map[string][]domain.OrderItem),
		fills:     make(map[string][]domain.FillItem),
		positions: make(map[string]domain.Position),
		cap:       cap,
	}
}

// MergeOrders folds incoming order records into the per-symbol history.
// Returns the number of records that created or replaced an entry.
func (l *Ledger) MergeOrders(items []domain.OrderItem) int {
	if len(items) == 0 {
		return 0
	}

	bySymbol := make(map[string][]domain.OrderItem)
	for _, it := range items {
		sym := domain.CanonicalSymbol(it.Symbol)
		if it.ID == "" || sym == "" {
			continue
		}
		it.Symbol = sym
		bySymbol[sym] = append(bySymbol[sym], it)
	}

	applied := 0
	l.mu.Lock()
	for sym, incoming := range bySymbol {
		existing := l.orders[sym]
		byID := make(map[string]domain.OrderItem, len(existing)+len(incoming))
		for _, it := range existing {
			byID[it.ID] = it
		}
		for _, it := range incoming {
			if prev, ok := byID[it.ID]; ok && prev.TsUnixMs >= it.TsUnixMs {
				continue
			}
			byID[it.ID] = it
			applied++
		}

		merged := make([]domain.OrderItem, 0, len(byID))
		for _, it := range byID {
			merged = append(merged, it)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if merged[i].TsUnixMs != merged[j].TsUnixMs {
				return merged[i].TsUnixMs > merged[j].TsUnixMs
			}
			return merged[i].ID < merged[j].ID
		})
		if len(merged) > l.cap {
			merged = merged[:l.cap]
		}
		l.orders[sym] = merged
	}
	l.mu.Unlock()

	if applied > 0 {
		infra.LedgerRecordsTotal.WithLabelValues("order").Add(float64(applied))
	}
	return applied
}

// MergeFills folds incoming fill records into the per-symbol history,
// same identity and recency rules as orders.
func (l *Ledger) MergeFills(items []domain.FillItem) int {
	if len(items) == 0 {
		return 0
	}

	bySymbol := make(map[string][]domain.FillItem)
	for _, it := range items {
		sym := domain.CanonicalSymbol(it.Symbol)
		if it.ID == "" || sym == "" {
			continue
		}
		it.Symbol = sym
		bySymbol[sym] = append(bySymbol[sym], it)
	}

	applied := 0
	l.mu.Lock()
	for sym, incoming := range bySymbol {
		existing := l.fills[sym]
		byID := make(map[string]domain.FillItem, len(existing)+len(incoming))
		for _, it := range existing {
			byID[it.ID] = it
		}
		for _, it := range incoming {
			if prev, ok := byID[it.ID]; ok && prev.TsUnixMs >= it.TsUnixMs {
				continue
			}
			byID[it.ID] = it
			applied++
		}

		merged := make([]domain.FillItem, 0, len(byID))
		for _, it := range byID {
			merged = append(merged, it)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if merged[i].TsUnixMs != merged[j].TsUnixMs {
				return merged[i].TsUnixMs > merged[j].TsUnixMs
			}
			return merged[i].ID < merged[j].ID
		})
		if len(merged) > l.cap {
			merged = merged[:l.cap]
		}
		l.fills[sym] = merged
	}
	l.mu.Unlock()

	if applied > 0 {
		infra.LedgerRecordsTotal.WithLabelValues("fill").Add(float64(applied))
	}
	return applied
}

// ReplacePositions installs a full positions snapshot, dropping symbols the
// snapshot no longer mentions.
func (l *Ledger) ReplacePositions(positions []domain.Position) {
	next := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		sym := domain.CanonicalSymbol(p.Symbol)
		if sym == "" {
			continue
		}
		p.Symbol = sym
		next[sym] = p
	}

	l.mu.Lock()
	l.positions = next
	l.mu.Unlock()
}

// UpsertPosition replaces one position after a confirmed action.
// Positions are never derived from the stream.
func (l *Ledger) UpsertPosition(p domain.Position) {
	sym := domain.CanonicalSymbol(p.Symbol)
	if sym == "" {
		return
	}
	p.Symbol = sym

	l.mu.Lock()
	l.positions[sym] = p
	l.mu.Unlock()
}

// Orders returns a copy of the symbol's order history, newest first.
func (l *Ledger) Orders(symbol string) []domain.OrderItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.orders[domain.CanonicalSymbol(symbol)]
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.OrderItem, len(src))
	copy(out, src)
	return out
}

// Fills returns a copy of the symbol's fill history, newest first.
func (l *Ledger) Fills(symbol string) []domain.FillItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.fills[domain.CanonicalSymbol(symbol)]
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.FillItem, len(src))
	copy(out, src)
	return out
}

// Positions returns all known positions, sorted by symbol for stable output.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
