package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/connectivity-monitor/internal/types"
)

// Sink receives published snapshots. Sinks are export targets only; nothing
// is read back on startup, so every process starts from an empty history.
type Sink interface {
	Save(snapshot *types.Snapshot) error
	Close() error
}

func NewStorage(storageType string, path string) (Sink, error) {
	switch storageType {
	case "", "none":
		return NopSink{}, nil
	case "file":
		return NewFileStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	case "redis":
		return NewRedisStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// NopSink discards snapshots
type NopSink struct{}

func (NopSink) Save(*types.Snapshot) error { return nil }
func (NopSink) Close() error { return nil }

// FileStorage writes the latest snapshot as a JSON document
type FileStorage struct {
	path string
}

func NewFileStorage(path string) (*FileStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	return &FileStorage{path: path}, nil
}

func (f *FileStorage) Save(snapshot *types.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	// write to temp file, then rename so readers never see a partial document
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

func (f *FileStorage) Close() error {
	return nil
}
