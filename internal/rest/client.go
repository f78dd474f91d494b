// Package rest talks to the trading backend: provider configuration,
// session lifecycle, snapshot pulls and fire-and-forget order actions.
// This core never decides to trade; it only triggers calls and reconciles
// the resulting state.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/infra"
	"tradedesk/internal/ledger"
)

// ProviderConfig is the backend's active provider/mode selection.
type ProviderConfig struct {
	Provider string `json:"provider"`
	Mode     string `json:"mode"` // "live" or "paper"
}

// Session is a logical backend session opened or resumed at boot.
type Session struct {
	ID        string `json:"id"`
	StartedMs int64  `json:"started_ms"`
}

// AccountMetrics is the account-level metrics sub-fetch of the boot snapshot.
type AccountMetrics struct {
	Equity      decimal.Decimal `json:"equity"`
	DayPnL      decimal.Decimal `json:"day_pnl"`
	MarginUsed  decimal.Decimal `json:"margin_used"`
	UpdatedUnix int64           `json:"updated_ms"`
}

// OrderRequest is a fire-and-forget order placement. The resulting order
// state is reconciled through the ledger, not through this call's response.
type OrderRequest struct {
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price,omitempty"`
}

// Client is the REST gateway to the backend. Calls are rate-limited and
// guarded by a circuit breaker so a flapping backend cannot be hammered.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker
}

// NewClient builds a client from config.
func NewClient(cfg *infra.Config) *Client {
	timeout := 10 * time.Second
	if cfg.API.TimeoutSec > 0 {
		timeout = time.Duration(cfg.API.TimeoutSec) * time.Second
	}
	return &Client{
		baseURL: cfg.API.RestURL,
		key:     cfg.API.Key,
		http:    &http.Client{Timeout: timeout},
		limiter: infra.GetRESTLimiter(),
		breaker: infra.NewCircuitBreaker("backend-rest", 0, 0, 0),
	}
}

// ProviderConfig resolves the active provider/mode configuration.
func (c *Client) ProviderConfig(ctx context.Context) (ProviderConfig, error) {
	var out ProviderConfig
	err := c.getJSON(ctx, "/api/config", &out)
	return out, err
}

// OpenSession opens or resumes a logical session.
func (c *Client) OpenSession(ctx context.Context) (Session, error) {
	var out Session
	err := c.postJSON(ctx, "/api/session", nil, &out)
	return out, err
}

// Metrics fetches account metrics. Money fields are decoded as decimals;
// float drift has no place in account state.
func (c *Client) Metrics(ctx context.Context) (AccountMetrics, error) {
	var raw struct {
		Equity      json.Number `json:"equity"`
		DayPnL      json.Number `json:"day_pnl"`
		MarginUsed  json.Number `json:"margin_used"`
		UpdatedUnix int64       `json:"updated_ms"`
	}
	if err := c.getJSON(ctx, "/api/metrics", &raw); err != nil {
		return AccountMetrics{}, err
	}
	return AccountMetrics{
		Equity:      parseDecimal(raw.Equity),
		DayPnL:      parseDecimal(raw.DayPnL),
		MarginUsed:  parseDecimal(raw.MarginUsed),
		UpdatedUnix: raw.UpdatedUnix,
	}, nil
}

// Positions fetches the positions slice of the boot snapshot.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var raw struct {
		Positions []positionDTO `json:"positions"`
	}
	if err := c.getJSON(ctx, "/api/positions", &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Position, 0, len(raw.Positions))
	for _, dto := range raw.Positions {
		if p, ok := dto.toDomain(); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// History fetches the combined orders/fills slice of the boot snapshot.
func (c *Client) History(ctx context.Context) ([]domain.OrderItem, []domain.FillItem, error) {
	var raw struct {
		Orders []map[string]any `json:"orders"`
		Fills  []map[string]any `json:"fills"`
	}
	if err := c.getJSON(ctx, "/api/history", &raw); err != nil {
		return nil, nil, err
	}

	orders := make([]domain.OrderItem, 0, len(raw.Orders))
	for _, item := range raw.Orders {
		if o, ok := ledger.ParseOrder(item); ok {
			orders = append(orders, o)
		}
	}
	fills := make([]domain.FillItem, 0, len(raw.Fills))
	for _, item := range raw.Fills {
		if f, ok := ledger.ParseFill(item); ok {
			fills = append(fills, f)
		}
	}
	return orders, fills, nil
}

// PlaceOrder submits an order. A fresh client id is attached when the caller
// did not supply one so the backend can deduplicate retries.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) error {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	return c.postJSON(ctx, "/api/orders", req, nil)
}

// CancelOrder requests cancellation for an order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.postJSON(ctx, "/api/orders/"+orderID+"/cancel", nil, nil)
}

// positionDTO is the loosely-typed wire shape of a position.
type positionDTO struct {
	Symbol        string      `json:"symbol"`
	Qty           json.Number `json:"qty"`
	AvgPrice      json.Number `json:"avg_price"`
	UnrealizedPnL json.Number `json:"unrealized_pnl"`
	RealizedPnL   json.Number `json:"realized_pnl"`
	TsUnixMs      int64       `json:"ts"`
}

func (d positionDTO) toDomain() (domain.Position, bool) {
	sym := domain.CanonicalSymbol(d.Symbol)
	if sym == "" {
		return domain.Position{}, false
	}
	return domain.Position{
		Symbol:        sym,
		Qty:           parseDecimal(d.Qty),
		AvgPrice:      parseDecimal(d.AvgPrice),
		UnrealizedPnL: parseDecimal(d.UnrealizedPnL),
		RealizedPnL:   parseDecimal(d.RealizedPnL),
		TsUnixMs:      d.TsUnixMs,
	}, true
}

// parseDecimal never fails: malformed money fields resolve to zero.
func parseDecimal(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("backend circuit open: %s %s", method, path)
	}
	c.limiter.Wait()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.RecordFailure()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	c.breaker.RecordSuccess()

	if out == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
