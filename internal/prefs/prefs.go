// Package prefs persists the user's hub routing preference and the debug
// override under a single key.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Key is the storage key the preferences live under.
const Key = "liquidity-hub-control"

type Settings struct {
	HubEnabled bool            `json:"liquidityHubEnabled"`
	Control    routing.Control `json:"lhControl,omitempty"`
}

func Defaults() Settings {
	return Settings{HubEnabled: true}
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create prefs directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite prefs: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init prefs schema: %w", err)
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

// Load returns the stored settings, or Defaults when none were saved.
func (s *Store) Load() (Settings, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", Key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("prefs read: %w", err)
	}
	settings := Defaults()
	if err := json.Unmarshal(value, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode prefs: %w", err)
	}
	return settings, nil
}

func (s *Store) Save(settings Settings) error {
	if settings.Control == routing.ControlReset {
		settings.Control = routing.ControlNone
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock prefs: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock prefs: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`, Key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prefs write: %w", err)
	}
	return nil
}

// SetControl stores a debug override; ControlReset clears it.
func (s *Store) SetControl(c routing.Control) (Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return Settings{}, err
	}
	settings.Control = c
	if c == routing.ControlReset {
		settings.Control = routing.ControlNone
	}
	return settings, s.Save(settings)
}

func (s *Store) SetHubEnabled(enabled bool) (Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return Settings{}, err
	}
	settings.HubEnabled = enabled
	return settings, s.Save(settings)
}
