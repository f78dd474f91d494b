package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"tradedesk/internal/infra"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &infra.Config{}
	cfg.API.RestURL = server.URL
	cfg.API.Key = "test-key"
	cfg.API.TimeoutSec = 2
	return NewClient(cfg)
}

func TestClient_ProviderConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			t.Errorf("path = %s, want /api/config", r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"provider": "sim", "mode": "paper"})
	})

	got, err := client.ProviderConfig(context.Background())
	if err != nil {
		t.Fatalf("ProviderConfig failed: %v", err)
	}
	if got.Provider != "sim" || got.Mode != "paper" {
		t.Errorf("ProviderConfig = %+v", got)
	}
}

func TestClient_MetricsDecimal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// 0.1 + 0.2 style values survive only as decimals.
		w.Write([]byte(`{"equity":"10000.30","day_pnl":"0.3","margin_used":"123.45","updated_ms":1700000000000}`))
	})

	got, err := client.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	if want, _ := decimal.NewFromString("10000.30"); !got.Equity.Equal(want) {
		t.Errorf("equity = %s, want 10000.30", got.Equity)
	}
	if want, _ := decimal.NewFromString("0.3"); !got.DayPnL.Equal(want) {
		t.Errorf("day_pnl = %s, want 0.3", got.DayPnL)
	}
}

func TestClient_Positions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":[
			{"symbol":"btcusdt","qty":"1.5","avg_price":"100.25","ts":1},
			{"symbol":"","qty":"9"}
		]}`))
	})

	got, err := client.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (symbol-less record skipped)", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || !got[0].Qty.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("position = %+v", got[0])
	}
}

func TestClient_History(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"orders":[{"id":"o-1","symbol":"BTCUSDT","side":"buy","status":"filled","ts":1000}],
			"fills":[{"id":"f-1","symbol":"BTCUSDT","qty":2,"ts":1000},{"symbol":"BTCUSDT"}]
		}`))
	})

	orders, fills, err := client.History(context.Background())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != "FILLED" {
		t.Errorf("orders = %+v", orders)
	}
	if len(fills) != 1 || fills[0].Qty != 2 {
		t.Errorf("fills = %+v (id-less record skipped)", fills)
	}
}

func TestClient_PlaceOrderAttachesClientID(t *testing.T) {
	var got OrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/orders" {
			t.Errorf("%s %s, want POST /api/orders", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	})

	err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Qty: 1})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if got.ClientID == "" {
		t.Error("client id not attached")
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_CancelOrderPath(t *testing.T) {
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	})

	if err := client.CancelOrder(context.Background(), "o-42"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if path != "/api/orders/o-42/cancel" {
		t.Errorf("path = %s", path)
	}
}

func TestClient_ErrorStatusSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no session", http.StatusUnauthorized)
	})

	_, err := client.OpenSession(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestParseDecimal(t *testing.T) {
	if !parseDecimal("").Equal(decimal.Zero) {
		t.Error("empty number should resolve to zero")
	}
	if !parseDecimal(json.Number("abc")).Equal(decimal.Zero) {
		t.Error("malformed number should resolve to zero")
	}
	if want := decimal.NewFromFloat(1.25); !parseDecimal(json.Number("1.25")).Equal(want) {
		t.Error("valid number mangled")
	}
}
