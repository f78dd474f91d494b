// Package storage provides the per-session quote journal: a SQLite log of
// accepted merges used for post-mortem inspection of one running session.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"

	"tradedesk/internal/domain"
)

// Journal records accepted quote merges in SQLite with WAL mode enabled.
// It is session-scoped: the file is recreated per run and never consulted as
// a source of truth for live state.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS quote_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			ts INTEGER NOT NULL,
			quote BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote_log table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one merged quote to the log.
func (j *Journal) Record(ctx context.Context, q domain.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO quote_log (symbol, ts, quote) VALUES (?, ?, ?)",
		q.Symbol, q.UpdatedUnixMs, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}
	return nil
}

// Writer drains quotes into a Journal from a background goroutine so the
// merge path never waits on SQLite. Enqueue is non-blocking; when the buffer
// is full the sample is dropped, since a journal gap is cheaper than a
// stalled read loop.
type Writer struct {
	journal *Journal
	ch      chan domain.Quote
	done    chan struct{}
}

// NewWriter starts a background writer over the given journal.
func NewWriter(j *Journal, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 256
	}
	w := &Writer{
		journal: j,
		ch:      make(chan domain.Quote, buffer),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for q := range w.ch {
		if err := w.journal.Record(context.Background(), q); err != nil {
			slog.Debug("journal write failed", "symbol", q.Symbol, "err", err)
		}
	}
}

// Enqueue hands one merged quote to the writer without blocking.
func (w *Writer) Enqueue(q domain.Quote) {
	select {
	case w.ch <- q:
	default:
		slog.Debug("journal buffer full, dropping sample", "symbol", q.Symbol)
	}
}

// Close flushes buffered writes and stops the writer. The underlying journal
// stays open.
func (w *Writer) Close() {
	close(w.ch)
	<-w.done
}

// Recent loads the latest n journal entries for a symbol, oldest first.
func (j *Journal) Recent(ctx context.Context, symbol string, n int) ([]domain.Quote, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT quote FROM quote_log WHERE symbol = ? ORDER BY id DESC LIMIT ?",
		domain.CanonicalSymbol(symbol), n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote_log: %w", err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		var q domain.Quote
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	// Reverse into chronological order.
	for i, jdx := 0, len(quotes)-1; i < jdx; i, jdx = i+1, jdx-1 {
		quotes[i], quotes[jdx] = quotes[jdx], quotes[i]
	}
	return quotes, nil
}

// Count returns the total number of journaled merges.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM quote_log").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count quote_log: %w", err)
	}
	return n.Int64, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
