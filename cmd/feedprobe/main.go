// feedprobe subscribes to a feed URL and prints normalized quotes as they
// merge. Diagnostic tool for checking what a feed actually sends.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
	"tradedesk/internal/market"
	"tradedesk/internal/stream"
	"tradedesk/internal/transport"
)

func main() {
	url := flag.String("url", "", "feed websocket URL (ws:// or wss://)")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols to subscribe")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: feedprobe -url wss://... [-symbols BTCUSDT,ETHUSDT]")
		os.Exit(2)
	}

	store := market.NewStore(domain.DepthCap, domain.TapeCap)
	store.SetOnChange(func(q domain.Quote) {
		b, _ := json.Marshal(q)
		fmt.Println(string(b))
	})
	router := stream.NewRouter(store, ledger.New(domain.HistoryCap))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syms := strings.Split(*symbols, ",")
	pool := transport.NewPool()
	pool.Open(ctx, *url, nil,
		func(frame transport.Frame) { router.Route(frame) },
		func(sub *transport.Subscription) {
			sub.Send(map[string]any{"op": "subscribe", "symbols": syms})
		},
	)
	defer pool.Shutdown()

	<-ctx.Done()
}
