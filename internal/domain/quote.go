package domain

import "strings"

const (
	// DepthCap is the maximum number of book levels retained per side.
	DepthCap = 10

	// SpreadMaxBps clamps derived spreads; anything wider is treated as noise.
	SpreadMaxBps = 10000.0
)

// Level is a single order-book depth level.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Valid reports whether the level carries usable price information.
func (l Level) Valid() bool {
	return l.Price > 0 && l.Qty > 0
}

// Quote is the consolidated per-symbol market view: best bid/ask, derived
// mid/spread, and capped book depth. Imbalance is a pointer because an
// absent value is semantically different from a balanced 0.5 or neutral 0.
type Quote struct {
	Symbol        string   `json:"symbol"`
	Bid           float64  `json:"bid,omitempty"`
	Ask           float64  `json:"ask,omitempty"`
	Mid           float64  `json:"mid,omitempty"`
	SpreadBps     float64  `json:"spread_bps,omitempty"`
	BidQty        float64  `json:"bid_qty,omitempty"`
	AskQty        float64  `json:"ask_qty,omitempty"`
	Imbalance     *float64 `json:"imbalance,omitempty"`
	Bids          []Level  `json:"bids,omitempty"`
	Asks          []Level  `json:"asks,omitempty"`
	UpdatedUnixMs int64    `json:"updated_ms,omitempty"`
}

// HasL1 reports whether both sides of the top of book are present.
func (q *Quote) HasL1() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Meaningful is the acceptance gate for merges: a quote must carry at least
// one of full L1, a positive mid, any book levels, or any quantity.
// Degenerate all-zero records must never overwrite known good state.
func (q *Quote) Meaningful() bool {
	if q.HasL1() {
		return true
	}
	if q.Mid > 0 {
		return true
	}
	if len(q.Bids) > 0 || len(q.Asks) > 0 {
		return true
	}
	return q.BidQty > 0 || q.AskQty > 0
}

// CanonicalSymbol normalizes a raw symbol into the map key: trimmed, upper-cased.
func CanonicalSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// TapeEntry is one (time, mid, spread) sample on a symbol's price tape.
type TapeEntry struct {
	TsUnixMs  int64   `json:"ts"`
	Mid       float64 `json:"mid"`
	SpreadBps float64 `json:"spread_bps"`
}

// SameValue reports value equality ignoring the timestamp. The tape
// deduplicates on value, independent of time.
func (t TapeEntry) SameValue(o TapeEntry) bool {
	return t.Mid == o.Mid && t.SpreadBps == o.SpreadBps
}

// TapeCap is the per-symbol tape ring size.
const TapeCap = 50
