// Package stream classifies incoming feed frames and routes them into the
// market store and the order/fill ledger.
package stream

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
	"tradedesk/internal/ledger"
	"tradedesk/internal/market"
	"tradedesk/internal/transport"
)

// Frame kinds after classification.
const (
	kindSnapshot  = "snapshot"
	kindQuotes    = "quotes"
	kindDepth     = "depth"
	kindOrders    = "orders"
	kindFills     = "fills"
	kindHeartbeat = "heartbeat"
	kindUpdate    = "update"
)

// framePayload is the union of body shapes the feed sends. Untyped frames
// carry their own discriminator in Type.
type framePayload struct {
	Type   string           `json:"type"`
	Quotes []map[string]any `json:"quotes"`
	Depth  []map[string]any `json:"depth"`
	Orders []map[string]any `json:"orders"`
	Fills  []map[string]any `json:"fills"`
}

// Router hands classified frames to the store and ledger. Routing is
// synchronous: no two merges against the same store interleave because the
// transport invokes the listener from a single read loop.
type Router struct {
	store  *market.Store
	ledger *ledger.Ledger

	// lastLivenessMs tracks the most recent heartbeat for diagnostics.
	lastLivenessMs atomic.Int64
}

// NewRouter wires a router to its merge targets.
func NewRouter(store *market.Store, ldg *ledger.Ledger) *Router {
	return &Router{store: store, ledger: ldg}
}

// Route classifies one frame and applies it. Classification prefers the
// explicit event name, falls back to the payload's own type field, and
// defaults to a generic incremental update. Malformed frames are dropped;
// routing never fails upward.
func (r *Router) Route(frame transport.Frame) {
	var payload framePayload
	var bare []map[string]any

	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		// The body may be a bare array of quote items.
		if err := json.Unmarshal(frame.Data, &bare); err != nil {
			infra.FramesDroppedTotal.WithLabelValues("decode_error").Inc()
			return
		}
	}

	kind := classify(frame.Event, payload.Type)

	switch kind {
	case kindHeartbeat:
		r.lastLivenessMs.Store(time.Now().UnixMilli())
	case kindSnapshot:
		r.applySnapshot(items(payload.Quotes, bare))
	case kindDepth:
		r.applyDepth(items(payload.Depth, bare))
	case kindOrders:
		r.applyOrders(items(payload.Orders, bare))
	case kindFills:
		r.applyFills(items(payload.Fills, bare))
	default: // quotes and generic updates merge incrementally
		// An untyped frame may still carry a depth body; its levels are
		// usable price information and must not be discarded.
		if len(payload.Quotes) == 0 && len(bare) == 0 && len(payload.Depth) > 0 {
			r.applyDepth(payload.Depth)
			return
		}
		r.applyUpdates(items(payload.Quotes, bare))
	}
}

// LastLiveness returns when the last heartbeat arrived (zero time if never).
func (r *Router) LastLiveness() time.Time {
	ms := r.lastLivenessMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// classify resolves the frame kind: explicit event name first, then the
// embedded type field, then generic update.
func classify(event, embedded string) string {
	name := event
	if name == "" {
		name = embedded
	}

	switch name {
	case "snapshot":
		return kindSnapshot
	case "quotes":
		return kindQuotes
	case "depth":
		return kindDepth
	case "orders":
		return kindOrders
	case "fills":
		return kindFills
	case "ping", "hello", "heartbeat":
		return kindHeartbeat
	default:
		return kindUpdate
	}
}

func items(preferred, bare []map[string]any) []map[string]any {
	if len(preferred) > 0 {
		return preferred
	}
	return bare
}

func (r *Router) applySnapshot(raw []map[string]any) {
	quotes := r.normalizeAll(raw)
	if len(quotes) == 0 {
		return
	}
	r.store.ApplySnapshot(quotes)
}

func (r *Router) applyUpdates(raw []map[string]any) {
	for _, q := range r.normalizeAll(raw) {
		r.store.ApplyUpdate(q)
	}
}

// applyDepth merges book levels only; a depth frame must not touch the
// stored top of book.
func (r *Router) applyDepth(raw []map[string]any) {
	if len(raw) == 0 {
		infra.FramesDroppedTotal.WithLabelValues("empty").Inc()
		return
	}
	for _, item := range raw {
		q, ok := market.NormalizeDepth(item, r.store.Depth())
		if !ok {
			infra.FramesDroppedTotal.WithLabelValues("degenerate").Inc()
			continue
		}
		r.store.ApplyUpdate(q)
	}
}

// normalizeAll drops items with no usable price information before they can
// reach the store; a degenerate all-zero record must never overwrite a
// previously known good quote or pollute the tape.
func (r *Router) normalizeAll(raw []map[string]any) []domain.Quote {
	if len(raw) == 0 {
		infra.FramesDroppedTotal.WithLabelValues("empty").Inc()
		return nil
	}

	quotes := make([]domain.Quote, 0, len(raw))
	for _, item := range raw {
		q, ok := market.Normalize(item, r.store.Depth())
		if !ok {
			infra.FramesDroppedTotal.WithLabelValues("degenerate").Inc()
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes
}

func (r *Router) applyOrders(raw []map[string]any) {
	orders := make([]domain.OrderItem, 0, len(raw))
	for _, item := range raw {
		if o, ok := ledger.ParseOrder(item); ok {
			orders = append(orders, o)
		}
	}
	r.ledger.MergeOrders(orders)
}

func (r *Router) applyFills(raw []map[string]any) {
	fills := make([]domain.FillItem, 0, len(raw))
	for _, item := range raw {
		if f, ok := ledger.ParseFill(item); ok {
			fills = append(fills, f)
		}
	}
	r.ledger.MergeFills(fills)
}
