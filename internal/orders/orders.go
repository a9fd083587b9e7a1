// Package orders keeps the history of hub swaps that were accepted.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Order struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	ChainID    int64     `json:"chain_id"`
	FromToken  string    `json:"from_token"`
	ToToken    string    `json:"to_token"`
	FromAmount string    `json:"from_amount"`
	ToAmount   string    `json:"to_amount,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create order store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create order lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open order sqlite: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			account TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_orders_account_chain ON orders(account, chain_id, created_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init order schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add appends an order for (account, chain). A missing id or timestamp is
// filled in; the stored order is returned.
func (s *Store) Add(order Order) (Order, error) {
	if strings.TrimSpace(order.Account) == "" || order.ChainID == 0 {
		return Order{}, fmt.Errorf("add order: account and chain are required")
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Account = strings.ToLower(order.Account)

	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return Order{}, fmt.Errorf("lock order store: %w", err)
	}
	if !locked {
		return Order{}, fmt.Errorf("lock order store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(order)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO orders (order_id, account, chain_id, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET payload=excluded.payload
	`, order.ID, order.Account, order.ChainID, order.CreatedAt.UnixNano(), payload)
	if err != nil {
		return Order{}, fmt.Errorf("save order: %w", err)
	}
	return order, nil
}

// List returns the newest orders for account on chainID.
func (s *Store) List(account string, chainID int64, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT payload FROM orders WHERE account = ? AND chain_id = ? ORDER BY created_at DESC LIMIT ?",
		strings.ToLower(strings.TrimSpace(account)), chainID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		var order Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("decode order row: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return out, nil
}
