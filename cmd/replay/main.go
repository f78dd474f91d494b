// Replay inspection tool: re-runs a session journal through a fresh store
// and prints the state each symbol converged to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"tradedesk/internal/market"
	"tradedesk/internal/replay"
)

func main() {
	dbPath := flag.String("journal", "", "path to a session journal (session.db)")
	depth := flag.Int("depth", 10, "book depth to retain per side")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -journal <path/to/session.db>")
		os.Exit(2)
	}

	r, err := replay.NewReplayer(*dbPath)
	if err != nil {
		slog.Error("❌ Failed to open journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer r.Close()

	store := market.NewStore(*depth, 0)
	applied, err := r.Run(context.Background(), store)
	if err != nil {
		slog.Error("❌ Replay failed", slog.Any("error", err))
		os.Exit(1)
	}

	symbols := store.Symbols()
	sort.Strings(symbols)

	fmt.Printf("replayed %d merges across %d symbols\n\n", applied, len(symbols))
	for _, sym := range symbols {
		q, _ := store.Quote(sym)
		fmt.Printf("%-12s bid=%.8g ask=%.8g mid=%.8g spread=%.2fbps tape=%d\n",
			sym, q.Bid, q.Ask, q.Mid, q.SpreadBps, len(store.Tape(sym)))
	}
}
