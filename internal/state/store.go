package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scalper-core/internal/indicators"
	"scalper-core/internal/position"
	"scalper-core/internal/strategy"
)

// Snapshot is the full engine state as exposed to reporting layers and written to disk.
type Snapshot struct {
	Mode         string                 `json:"mode"`
	Symbol       string                 `json:"symbol"`
	Strategy     string                 `json:"strategy"`
	Session      Session                `json:"session"`
	Positions    []position.Position    `json:"positions"`
	ClosedTrades []position.ClosedTrade `json:"closed_trades"`
	Prices       []indicators.Sample    `json:"prices"`
	Indicators   *indicators.Snapshot   `json:"indicators,omitempty"`
	LastSignal   strategy.Signal        `json:"last_signal"`
	Ticks        int                    `json:"ticks"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Persister receives the full state after every mutation.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
}

// FileStore overwrites a single indented JSON file with each snapshot.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore writes snapshots to path, creating its directory on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (f *FileStore) Path() string { return f.path }

// Save replaces the state file atomically.
func (f *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
