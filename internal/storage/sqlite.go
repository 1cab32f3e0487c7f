package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/connectivity-monitor/internal/types"
)

// SQLiteStorage keeps the latest snapshot and an append-only probe log
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS probes (
		checked_at_ns INTEGER PRIMARY KEY,
		online INTEGER NOT NULL,
		response_time_ms INTEGER,
		endpoint TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		used_fallback INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Save(snapshot *types.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Keep only the latest snapshot
	if _, err := tx.Exec("DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("delete old snapshots: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO snapshots (data, updated_at) VALUES (?, ?)",
		string(data), time.Now()); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	// Recent windows overlap between snapshots; the timestamp key dedups them
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO probes
		(checked_at_ns, online, response_time_ms, endpoint, error, duration_ms, used_fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare probe insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range snapshot.Recent {
		if _, err := stmt.Exec(o.Timestamp.UnixNano(), o.Online, o.ResponseTimeMs,
			o.EndpointName, o.Error, o.DurationMs, o.UsedFallback); err != nil {
			return fmt.Errorf("insert probe: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
