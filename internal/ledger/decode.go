package ledger

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"tradedesk/internal/domain"
)

// Timestamp aliases in resolution order: explicit epoch fields first, then
// ISO datetime strings. Unparsable values resolve to 0 (sorts last).
var (
	tsEpochAliases  = []string{"ts", "ts_ms", "timestamp"}
	tsStringAliases = []string{"time", "created_at", "updated_at"}
)

// DeriveTimestampMs resolves a record's timestamp in epoch milliseconds.
// It never fails; a record without a usable timestamp gets 0.
func DeriveTimestampMs(raw map[string]any) int64 {
	for _, name := range tsEpochAliases {
		if v, ok := raw[name]; ok {
			if ms, ok := epochMs(v); ok {
				return ms
			}
		}
	}
	for _, name := range tsStringAliases {
		s, ok := raw[name].(string)
		if !ok || s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli()
		}
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// ParseOrder decodes one loosely-typed order record. Records without an id
// or symbol are rejected; everything else gets safe fallbacks.
func ParseOrder(raw map[string]any) (domain.OrderItem, bool) {
	id := anyString(raw["id"])
	sym := domain.CanonicalSymbol(anyString(raw["symbol"]))
	if id == "" || sym == "" {
		return domain.OrderItem{}, false
	}

	return domain.OrderItem{
		ID:       id,
		Symbol:   sym,
		Side:     strings.ToUpper(anyString(raw["side"])),
		Qty:      anyFloat(raw["qty"]),
		Price:    anyFloat(raw["price"]),
		Status:   strings.ToUpper(anyString(raw["status"])),
		TsUnixMs: DeriveTimestampMs(raw),
	}, true
}

// ParseFill decodes one loosely-typed fill record.
func ParseFill(raw map[string]any) (domain.FillItem, bool) {
	id := anyString(raw["id"])
	sym := domain.CanonicalSymbol(anyString(raw["symbol"]))
	if id == "" || sym == "" {
		return domain.FillItem{}, false
	}

	return domain.FillItem{
		ID:       id,
		OrderID:  anyString(raw["order_id"]),
		Symbol:   sym,
		Side:     strings.ToUpper(anyString(raw["side"])),
		Qty:      anyFloat(raw["qty"]),
		Price:    anyFloat(raw["price"]),
		TsUnixMs: DeriveTimestampMs(raw),
	}, true
}

// epochMs accepts numeric epochs in either seconds or milliseconds;
// values small enough to be seconds are scaled up.
func epochMs(v any) (int64, bool) {
	var ms int64
	switch n := v.(type) {
	case float64:
		ms = int64(n)
	case int64:
		ms = n
	case int:
		ms = int64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		ms = int64(f)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		ms = int64(f)
	default:
		return 0, false
	}
	if ms <= 0 {
		return 0, false
	}
	// Epoch seconds stay below 1e12 until the year 33658.
	if ms < 1_000_000_000_000 {
		ms *= 1000
	}
	return ms, true
}

func anyString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func anyFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
