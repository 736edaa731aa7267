// Package journal persists every accepted operation's audit event to SQLite
// for history queries and offline analysis. The journal implements
// model.EventPublisher so it plugs into the same fan-out as the Redis
// publisher; a write failure is the caller's to log, never to propagate.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pegvault/internal/model"
)

// Journal is a single-writer SQLite event journal in WAL mode.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS ops (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		channel    TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ops_kind ON ops(kind);
	CREATE INDEX IF NOT EXISTS idx_ops_created_at ON ops(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened op journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Publish appends an event row. Implements model.EventPublisher.
func (j *Journal) Publish(_ context.Context, e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", e.Kind(), err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.db.Exec(
		`INSERT INTO ops (kind, channel, data, created_at) VALUES (?, ?, ?, ?)`,
		e.Kind(), e.Channel(), string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", e.Kind(), err)
	}
	return nil
}

// OpRecord is a row from the ops table.
type OpRecord struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at"`
}

// Recent returns the last limit operations, newest first. An empty kind
// returns all kinds.
func (j *Journal) Recent(kind string, limit int) ([]OpRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = j.db.Query(
			`SELECT id, kind, channel, data, created_at FROM ops ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = j.db.Query(
			`SELECT id, kind, channel, data, created_at FROM ops WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpRecord
	for rows.Next() {
		var r OpRecord
		var data string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Channel, &data, &r.CreatedAt); err != nil {
			continue
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
