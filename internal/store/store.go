// Package store persists brand data (orders, policies, products) and the
// escalation log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the database file and schema if needed. Use ":memory:" for a
// throwaway store.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			brand_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			items TEXT NOT NULL DEFAULT '[]',
			total REAL NOT NULL DEFAULT 0,
			carrier TEXT NOT NULL DEFAULT '',
			tracking_number TEXT NOT NULL DEFAULT '',
			estimated_delivery TEXT NOT NULL DEFAULT '',
			delay_reason TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (brand_id, order_id)
		)`,
		`CREATE TABLE IF NOT EXISTS policies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			brand_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			title TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			content TEXT NOT NULL,
			UNIQUE (brand_id, policy_id)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS policies_fts USING fts5(
			title,
			content,
			content='policies',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS policies_ai AFTER INSERT ON policies BEGIN
			INSERT INTO policies_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS policies_ad AFTER DELETE ON policies BEGIN
			INSERT INTO policies_fts(policies_fts, rowid, title, content) VALUES('delete', old.id, old.title, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS policies_au AFTER UPDATE ON policies BEGIN
			INSERT INTO policies_fts(policies_fts, rowid, title, content) VALUES('delete', old.id, old.title, old.content);
			INSERT INTO policies_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS products (
			brand_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL DEFAULT 0,
			in_stock INTEGER NOT NULL DEFAULT 1,
			sizes TEXT NOT NULL DEFAULT '[]',
			colors TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (brand_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			brand_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			tier INTEGER NOT NULL,
			reason TEXT NOT NULL,
			urgency TEXT NOT NULL DEFAULT '',
			prevented INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_brand ON escalations(brand_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Counts reports row counts per table, optionally scoped to one brand.
func (s *Store) Counts(ctx context.Context, brandID string) (map[string]int, error) {
	out := make(map[string]int, 4)
	for _, table := range []string{"orders", "policies", "products", "escalations"} {
		query := "SELECT COUNT(*) FROM " + table
		var args []any
		if brandID != "" {
			query += " WHERE brand_id = ?"
			args = append(args, brandID)
		}
		var n int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
