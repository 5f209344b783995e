// Package history keeps a local ledger of finished runs and their cost in
// an SQLite database under the state directory. The snapshot store covers
// resume; history covers reporting after snapshots are purged.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anvilcode/anvil/pkg/models"
)

// Entry is one finished run recorded in the ledger.
type Entry struct {
	ID         string
	Kind       string // "task" or "workflow"
	Name       string // prompt excerpt or workflow name
	Model      string
	Status     string
	Iterations int
	CostUSD    float64
	Usage      models.TokenUsage
	FinishedAt time.Time
}

// DB wraps the history database.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultPath returns the history database path under a state directory.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "history.db")
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			name          TEXT NOT NULL,
			model         TEXT NOT NULL,
			status        TEXT NOT NULL,
			iterations    INTEGER NOT NULL,
			cost_usd      REAL NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens  INTEGER NOT NULL DEFAULT 0,
			finished_at   DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Record inserts or replaces one run entry.
func (db *DB) Record(e Entry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO runs
		(id, kind, name, model, status, iterations, cost_usd,
		 input_tokens, output_tokens, cache_write_tokens, cache_read_tokens, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Name, e.Model, e.Status, e.Iterations, e.CostUSD,
		e.Usage.InputTokens, e.Usage.OutputTokens,
		e.Usage.CacheWriteTokens, e.Usage.CacheReadTokens,
		e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (db *DB) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, kind, name, model, status, iterations, cost_usd,
		       input_tokens, output_tokens, cache_write_tokens, cache_read_tokens, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.Model, &e.Status,
			&e.Iterations, &e.CostUSD,
			&e.Usage.InputTokens, &e.Usage.OutputTokens,
			&e.Usage.CacheWriteTokens, &e.Usage.CacheReadTokens,
			&e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalCost sums cost across runs finished at or after since. A zero
// since sums everything.
func (db *DB) TotalCost(since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := db.conn.QueryRow(
		`SELECT SUM(cost_usd) FROM runs WHERE finished_at >= ?`, since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return total.Float64, nil
}

// CostByModel returns accrued cost per model, for cost reporting.
func (db *DB) CostByModel() (map[string]float64, error) {
	rows, err := db.conn.Query(`SELECT model, SUM(cost_usd) FROM runs GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("cost by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var model string
		var cost float64
		if err := rows.Scan(&model, &cost); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		out[model] = cost
	}
	return out, rows.Err()
}
