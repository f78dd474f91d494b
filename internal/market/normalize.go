// Package market holds the real-time quote core: normalization of raw feed
// items, the field-level coalescing store, and the per-symbol price tape.
package market

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"tradedesk/internal/domain"
)

// Ordered alias lists per logical field. Feeds rename fields between
// versions; the first present alias wins.
var (
	aliasBidQty = []string{"bidQty", "bid_qty"}
	aliasAskQty = []string{"askQty", "ask_qty"}
	aliasTs     = []string{"ts", "ts_ms"}
	aliasQty    = []string{"qty", "quantity"}
)

// ParseLevel converts one raw book level into a canonical price/qty pair.
// Accepted encodings:
//   - tuple: [price, qty]
//   - object: {"price": p, "qty"|"quantity": q}
//
// Levels with non-positive price or qty are rejected.
func ParseLevel(raw any) (domain.Level, bool) {
	switch v := raw.(type) {
	case []any:
		if len(v) < 2 {
			return domain.Level{}, false
		}
		price, ok1 := asFloat(v[0])
		qty, ok2 := asFloat(v[1])
		if !ok1 || !ok2 {
			return domain.Level{}, false
		}
		lvl := domain.Level{Price: price, Qty: qty}
		return lvl, lvl.Valid()
	case map[string]any:
		price, ok := asFloat(v["price"])
		if !ok {
			return domain.Level{}, false
		}
		qty, ok := firstFloat(v, aliasQty)
		if !ok {
			return domain.Level{}, false
		}
		lvl := domain.Level{Price: price, Qty: qty}
		return lvl, lvl.Valid()
	default:
		return domain.Level{}, false
	}
}

// parseLevels parses a raw level list, drops invalid entries, sorts
// (bids descending, asks ascending) and caps to depth.
func parseLevels(raw any, descending bool, depth int) []domain.Level {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil
	}

	levels := make([]domain.Level, 0, len(list))
	for _, item := range list {
		if lvl, ok := ParseLevel(item); ok {
			levels = append(levels, lvl)
		}
	}
	if len(levels) == 0 {
		return nil
	}

	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})

	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

// Normalize builds one canonical quote from a raw feed item. It returns
// false when the item has no symbol or carries no usable price information;
// a partial record is never produced.
func Normalize(raw map[string]any, depth int) (domain.Quote, bool) {
	if raw == nil {
		return domain.Quote{}, false
	}

	symbol := domain.CanonicalSymbol(asString(raw["symbol"]))
	if symbol == "" {
		return domain.Quote{}, false
	}

	q := domain.Quote{Symbol: symbol}

	q.Bid, _ = asFloat(raw["bid"])
	q.Ask, _ = asFloat(raw["ask"])
	q.BidQty, _ = firstFloat(raw, aliasBidQty)
	q.AskQty, _ = firstFloat(raw, aliasAskQty)

	q.Bids = parseLevels(raw["bids"], true, depth)
	q.Asks = parseLevels(raw["asks"], false, depth)

	// Derive L1 from the best level per side when missing.
	if q.Bid <= 0 && len(q.Bids) > 0 {
		q.Bid = q.Bids[0].Price
		if q.BidQty <= 0 {
			q.BidQty = q.Bids[0].Qty
		}
	}
	if q.Ask <= 0 && len(q.Asks) > 0 {
		q.Ask = q.Asks[0].Price
		if q.AskQty <= 0 {
			q.AskQty = q.Asks[0].Qty
		}
	}

	q.Mid = deriveMid(raw, q.Bid, q.Ask)
	q.SpreadBps = deriveSpreadBps(raw, q.Bid, q.Ask, q.Mid)
	q.Imbalance = deriveImbalance(raw, q.BidQty, q.AskQty)

	if ts, ok := firstFloat(raw, aliasTs); ok && ts > 0 {
		q.UpdatedUnixMs = int64(ts)
	}

	if !q.Meaningful() {
		return domain.Quote{}, false
	}
	return q, true
}

// NormalizeDepth builds a book-levels-only quote from a depth frame item.
// Depth frames merge levels into the same quote shape without touching the
// stored top of book, so NormalizeDepth never derives L1.
func NormalizeDepth(raw map[string]any, depth int) (domain.Quote, bool) {
	if raw == nil {
		return domain.Quote{}, false
	}

	symbol := domain.CanonicalSymbol(asString(raw["symbol"]))
	if symbol == "" {
		return domain.Quote{}, false
	}

	q := domain.Quote{
		Symbol: symbol,
		Bids:   parseLevels(raw["bids"], true, depth),
		Asks:   parseLevels(raw["asks"], false, depth),
	}
	if ts, ok := firstFloat(raw, aliasTs); ok && ts > 0 {
		q.UpdatedUnixMs = int64(ts)
	}

	if len(q.Bids) == 0 && len(q.Asks) == 0 {
		return domain.Quote{}, false
	}
	return q, true
}

// deriveMid: supplied value if positive; else average of bid/ask when both
// present; else whichever single side exists; else 0.
func deriveMid(raw map[string]any, bid, ask float64) float64 {
	if mid, ok := asFloat(raw["mid"]); ok && mid > 0 {
		return mid
	}
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	}
	return 0
}

// deriveSpreadBps: supplied value if non-negative; else (ask-bid)/mid * 1e4
// when both sides are present; else 0. Clamped to [0, SpreadMaxBps].
func deriveSpreadBps(raw map[string]any, bid, ask, mid float64) float64 {
	spread, ok := asFloat(raw["spread_bps"])
	if !ok || spread < 0 {
		spread = 0
		if bid > 0 && ask > 0 && mid > 0 {
			spread = (ask - bid) / mid * 10000
		}
	}
	if spread < 0 {
		spread = 0
	}
	if spread > domain.SpreadMaxBps {
		spread = domain.SpreadMaxBps
	}
	return spread
}

// deriveImbalance: supplied value if finite; else bidQty/(bidQty+askQty)
// when the sum is positive; else absent. Absence is not coerced to zero.
func deriveImbalance(raw map[string]any, bidQty, askQty float64) *float64 {
	if v, ok := asFloat(raw["imbalance"]); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return &v
	}
	if sum := bidQty + askQty; sum > 0 {
		v := bidQty / sum
		return &v
	}
	return nil
}

// firstFloat resolves a logical field through its ordered alias list.
func firstFloat(raw map[string]any, aliases []string) (float64, bool) {
	for _, name := range aliases {
		if v, ok := raw[name]; ok {
			if f, ok := asFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// asFloat coerces the loosely-typed encodings feeds actually send:
// JSON numbers, json.Number, numeric strings, and Go ints from tests.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
