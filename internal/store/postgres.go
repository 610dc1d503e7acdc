// Package store provides storage backends for OrderPipe.
//
// This file implements a PostgreSQL-backed store for conversations and orders.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/OrderPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConversation(c models.Conversation) error {
	data, err := marshalData(c.Data)
	if err != nil {
		slog.Error("PostgresStore SaveConversation encode failed", "error", err, "userID", c.UserID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (user_id, step, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET step = EXCLUDED.step, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		c.UserID, c.Step, data, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", c.UserID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "userID", c.UserID, "step", c.Step)
	return nil
}

func (s *PostgresStore) GetConversation(userID string) (*models.Conversation, error) {
	var c models.Conversation
	var data string
	err := s.db.QueryRow(`SELECT user_id, step, data::text, created_at, updated_at FROM conversations WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.Step, &data, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	if c.Data, err = unmarshalData(data); err != nil {
		slog.Error("PostgresStore GetConversation decode failed", "error", err, "userID", userID)
	}
	slog.Debug("PostgresStore GetConversation found", "userID", userID, "step", c.Step)
	return &c, nil
}

func (s *PostgresStore) DeleteConversation(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = $1`, userID); err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore DeleteConversation succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) PurgeIdleConversations(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE updated_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PurgeIdleConversations failed", "error", err)
		return 0, fmt.Errorf("failed to purge idle conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("PostgresStore PurgeIdleConversations succeeded", "purged", n)
	return int(n), nil
}

func (s *PostgresStore) AddOrder(o models.Order) error {
	_, err := s.db.Exec(`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, orderArgs(o)...)
	if err != nil {
		slog.Error("PostgresStore AddOrder failed", "error", err, "userID", o.UserID)
		return fmt.Errorf("failed to insert order for %s: %w", o.UserID, err)
	}
	slog.Debug("PostgresStore AddOrder succeeded", "userID", o.UserID, "event_date", o.EventDate)
	return nil
}

func (s *PostgresStore) ListOrders(userID string) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		slog.Error("PostgresStore ListOrders query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		slog.Error("PostgresStore ListOrders scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore ListOrders succeeded", "userID", userID, "count", len(orders))
	return orders, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
