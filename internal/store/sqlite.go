// Package store provides storage backends for OrderPipe.
//
// This file implements an SQLite-backed store for conversations and orders.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/OrderPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

// SaveConversation stores or replaces a user's conversation.
func (s *SQLiteStore) SaveConversation(c models.Conversation) error {
	data, err := marshalData(c.Data)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation encode failed", "error", err, "userID", c.UserID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (user_id, step, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET step = excluded.step, data = excluded.data, updated_at = excluded.updated_at`,
		c.UserID, c.Step, data, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", c.UserID, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "userID", c.UserID, "step", c.Step)
	return nil
}

// GetConversation retrieves a user's conversation.
func (s *SQLiteStore) GetConversation(userID string) (*models.Conversation, error) {
	var c models.Conversation
	var data string
	err := s.db.QueryRow(`SELECT user_id, step, data, created_at, updated_at FROM conversations WHERE user_id = ?`, userID).
		Scan(&c.UserID, &c.Step, &data, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	if c.Data, err = unmarshalData(data); err != nil {
		// Continue with empty data rather than locking the user out
		slog.Error("SQLiteStore GetConversation decode failed", "error", err, "userID", userID)
	}
	return &c, nil
}

// DeleteConversation removes a user's conversation.
func (s *SQLiteStore) DeleteConversation(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "userID", userID)
	return nil
}

// PurgeIdleConversations deletes conversations last updated before the cutoff.
// Timestamps are stored in UTC so the text comparison orders correctly.
func (s *SQLiteStore) PurgeIdleConversations(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE updated_at < ?`, before.UTC())
	if err != nil {
		slog.Error("SQLiteStore PurgeIdleConversations failed", "error", err)
		return 0, fmt.Errorf("failed to purge idle conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore PurgeIdleConversations succeeded", "purged", n)
	return int(n), nil
}

// AddOrder appends an order to the ledger.
func (s *SQLiteStore) AddOrder(o models.Order) error {
	_, err := s.db.Exec(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, orderArgs(o)...)
	if err != nil {
		slog.Error("SQLiteStore AddOrder failed", "error", err, "userID", o.UserID)
		return fmt.Errorf("failed to insert order for %s: %w", o.UserID, err)
	}
	slog.Debug("SQLiteStore AddOrder succeeded", "userID", o.UserID, "event_date", o.EventDate)
	return nil
}

// ListOrders returns the user's orders in insertion order.
func (s *SQLiteStore) ListOrders(userID string) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListOrders query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		slog.Error("SQLiteStore ListOrders scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore ListOrders succeeded", "userID", userID, "count", len(orders))
	return orders, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
