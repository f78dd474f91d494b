// Package replay re-runs a recorded session journal through a fresh market
// store, reproducing exactly the quote state a past session converged to.
package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"

	"tradedesk/internal/domain"
	"tradedesk/internal/market"
)

// Replayer reads journaled quote merges from SQLite and feeds them into a
// store in their original order.
type Replayer struct {
	db *sql.DB
}

// NewReplayer opens the journal database read-only.
func NewReplayer(dbPath string) (*Replayer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Replayer{db: db}, nil
}

// Run replays every journaled merge into the store. Merges are applied
// synchronously in journal order for deterministic replay; entries that no
// longer unmarshal are skipped, not fatal.
func (r *Replayer) Run(ctx context.Context, store *market.Store) (int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, quote FROM quote_log ORDER BY id ASC")
	if err != nil {
		return 0, fmt.Errorf("failed to query quote_log: %w", err)
	}
	defer rows.Close()

	applied := 0
	for rows.Next() {
		var id uint64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return applied, err
		}

		var q domain.Quote
		if err := json.Unmarshal(payload, &q); err != nil {
			slog.Warn("Skipping unreadable journal entry", "id", id, "err", err)
			continue
		}

		if store.ApplyUpdate(q) {
			applied++
		}
	}
	if err := rows.Err(); err != nil {
		return applied, fmt.Errorf("rows iteration error: %w", err)
	}
	return applied, nil
}

// Close releases the journal handle.
func (r *Replayer) Close() error {
	return r.db.Close()
}
