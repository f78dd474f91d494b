package market

import (
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
)

// ChangeFunc is invoked after a merge that actually changed stored state.
// The quote is a copy; callers may retain it.
type ChangeFunc func(q domain.Quote)

// Store is the authoritative in-memory merge target for quotes and the
// per-symbol price tape. All mutation goes through ApplyUpdate/ApplySnapshot,
// which are synchronous and total: malformed input never corrupts previously
// known good state.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]*domain.Quote
	tapes  map[string]*tape

	depth    int
	tapeCap  int
	onChange ChangeFunc

	// nowMs is swappable for deterministic tape tests.
	nowMs func() int64
}

// NewStore creates a store with the given book depth and tape caps.
// Zero values fall back to the domain defaults.
func NewStore(depth, tapeCap int) *Store {
	if depth <= 0 {
		depth = domain.DepthCap
	}
	if tapeCap <= 0 {
		tapeCap = domain.TapeCap
	}
	return &Store{
		quotes:  make(map[string]*domain.Quote),
		tapes:   make(map[string]*tape),
		depth:   depth,
		tapeCap: tapeCap,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Depth returns the configured book depth cap.
func (s *Store) Depth() int { return s.depth }

// SetOnChange installs the change-notification hook. Must be set before the
// stream starts; the store does not lock around the field itself.
func (s *Store) SetOnChange(fn ChangeFunc) { s.onChange = fn }

// ApplyUpdate merges a normalized quote into the stored quote field by field.
// A field is replaced only if the incoming value is itself meaningful;
// otherwise the previously stored value is retained untouched. This is what
// lets a depth-only frame refresh book levels without erasing a known
// top-of-book price, and vice versa.
// Returns whether any field actually changed value.
func (s *Store) ApplyUpdate(q domain.Quote) bool {
	if !q.Meaningful() {
		infra.MergeRejectsTotal.Inc()
		return false
	}

	s.mu.Lock()
	cur, ok := s.quotes[q.Symbol]
	if !ok {
		cur = &domain.Quote{Symbol: q.Symbol}
		s.quotes[q.Symbol] = cur
	}

	changed := coalesce(cur, &q)
	cur.UpdatedUnixMs = s.effectiveTs(q.UpdatedUnixMs)
	s.recordTape(cur)
	notify := *cur
	s.mu.Unlock()

	if changed {
		infra.QuoteMergesTotal.Inc()
		s.fireChange(notify)
	}
	return changed
}

// ApplySnapshot replaces stored quotes wholesale from a full snapshot.
// Records that fail the acceptance gate are skipped so a degenerate snapshot
// entry cannot blank out a live symbol. Returns the number of symbols whose
// state changed.
func (s *Store) ApplySnapshot(quotes []domain.Quote) int {
	changedQuotes := make([]domain.Quote, 0, len(quotes))

	s.mu.Lock()
	for _, q := range quotes {
		if !q.Meaningful() {
			infra.MergeRejectsTotal.Inc()
			continue
		}
		q.UpdatedUnixMs = s.effectiveTs(q.UpdatedUnixMs)

		cur, ok := s.quotes[q.Symbol]
		if ok && quoteEqual(cur, &q) {
			continue
		}
		next := q
		s.quotes[q.Symbol] = &next
		s.recordTape(&next)
		changedQuotes = append(changedQuotes, next)
	}
	s.mu.Unlock()

	for _, q := range changedQuotes {
		infra.QuoteMergesTotal.Inc()
		s.fireChange(q)
	}
	return len(changedQuotes)
}

// Quote returns a copy of the stored quote for a symbol.
func (s *Store) Quote(symbol string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[domain.CanonicalSymbol(symbol)]
	if !ok {
		return domain.Quote{}, false
	}
	return copyQuote(q), true
}

// Tape returns a copy of the symbol's price tape, oldest first.
func (s *Store) Tape(symbol string) []domain.TapeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tapes[domain.CanonicalSymbol(symbol)]
	if !ok {
		return nil
	}
	return t.snapshot()
}

// Symbols lists every symbol the store currently tracks.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	return out
}

// effectiveTs picks the supplied timestamp when positive, else now.
func (s *Store) effectiveTs(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return s.nowMs()
}

// recordTape samples the merged quote onto the tape. Must hold s.mu.
// A merge that still has no price (qty-only state) produces no sample.
func (s *Store) recordTape(q *domain.Quote) {
	if q.Mid <= 0 {
		return
	}
	t, ok := s.tapes[q.Symbol]
	if !ok {
		t = newTape(s.tapeCap)
		s.tapes[q.Symbol] = t
	}
	t.append(domain.TapeEntry{
		TsUnixMs:  q.UpdatedUnixMs,
		Mid:       q.Mid,
		SpreadBps: q.SpreadBps,
	})
}

func (s *Store) fireChange(q domain.Quote) {
	if s.onChange != nil {
		s.onChange(q)
	}
}

// coalesce merges inc into cur field by field and reports whether any field
// changed value. Incoming zero/absent fields leave cur untouched.
func coalesce(cur, inc *domain.Quote) bool {
	changed := false

	if inc.Bid > 0 && inc.Bid != cur.Bid {
		cur.Bid = inc.Bid
		changed = true
	}
	if inc.Ask > 0 && inc.Ask != cur.Ask {
		cur.Ask = inc.Ask
		changed = true
	}
	if inc.Mid > 0 && inc.Mid != cur.Mid {
		cur.Mid = inc.Mid
		changed = true
	}
	// A zero spread is meaningful only when the frame actually carried both
	// sides of the book (a locked market); a derived placeholder zero is not.
	if (inc.SpreadBps > 0 || inc.HasL1()) && inc.SpreadBps != cur.SpreadBps {
		cur.SpreadBps = inc.SpreadBps
		changed = true
	}
	if inc.BidQty > 0 && inc.BidQty != cur.BidQty {
		cur.BidQty = inc.BidQty
		changed = true
	}
	if inc.AskQty > 0 && inc.AskQty != cur.AskQty {
		cur.AskQty = inc.AskQty
		changed = true
	}
	if inc.Imbalance != nil && (cur.Imbalance == nil || *cur.Imbalance != *inc.Imbalance) {
		v := *inc.Imbalance
		cur.Imbalance = &v
		changed = true
	}
	if len(inc.Bids) > 0 && !levelsEqual(cur.Bids, inc.Bids) {
		cur.Bids = append([]domain.Level(nil), inc.Bids...)
		changed = true
	}
	if len(inc.Asks) > 0 && !levelsEqual(cur.Asks, inc.Asks) {
		cur.Asks = append([]domain.Level(nil), inc.Asks...)
		changed = true
	}

	return changed
}

func levelsEqual(a, b []domain.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// quoteEqual compares value content ignoring the update timestamp.
func quoteEqual(a, b *domain.Quote) bool {
	if a.Bid != b.Bid || a.Ask != b.Ask || a.Mid != b.Mid ||
		a.SpreadBps != b.SpreadBps || a.BidQty != b.BidQty || a.AskQty != b.AskQty {
		return false
	}
	if (a.Imbalance == nil) != (b.Imbalance == nil) {
		return false
	}
	if a.Imbalance != nil && *a.Imbalance != *b.Imbalance {
		return false
	}
	return levelsEqual(a.Bids, b.Bids) && levelsEqual(a.Asks, b.Asks)
}

func copyQuote(q *domain.Quote) domain.Quote {
	out := *q
	if q.Imbalance != nil {
		v := *q.Imbalance
		out.Imbalance = &v
	}
	out.Bids = append([]domain.Level(nil), q.Bids...)
	out.Asks = append([]domain.Level(nil), q.Asks...)
	return out
}
