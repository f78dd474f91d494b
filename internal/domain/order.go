package domain

import "github.com/shopspring/decimal"

// Order sides and statuses as the backend reports them.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
)

// HistoryCap bounds per-symbol order and fill history.
const HistoryCap = 500

// OrderItem is one reconciled order record. Identity is ID; when a snapshot
// and a stream push disagree, the record with the greater derived timestamp
// wins.
type OrderItem struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
	TsUnixMs int64   `json:"ts"`
}

// IsOpen checks if the order is still active.
func (o *OrderItem) IsOpen() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

// FillItem is one reconciled execution record, deduplicated by ID like orders.
type FillItem struct {
	ID       string  `json:"id"`
	OrderID  string  `json:"order_id,omitempty"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	TsUnixMs int64   `json:"ts"`
}

// Position is account state for one symbol. It is created or replaced by a
// snapshot fetch or an explicit upsert after a confirmed action, never
// derived from the stream. Money fields stay decimal at the REST boundary.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	TsUnixMs      int64           `json:"ts"`
}

// IsLong checks if the position is long.
func (p *Position) IsLong() bool {
	return p.Qty.IsPositive()
}

// IsShort checks if the position is short.
func (p *Position) IsShort() bool {
	return p.Qty.IsNegative()
}

// Unrealized recomputes unrealized PnL against a mark price.
// (mark - avg) * qty; short positions come out negative automatically.
func (p *Position) Unrealized(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AvgPrice).Mul(p.Qty)
}
