// Package store provides crash-safe JSON persistence for session summaries
// and copy-trading configuration.
//
// Each document is stored as a separate file, keyed by kind and id:
// grid_<sessionID>.json, follower_<followerID>.json, copytrade_<followerID>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polymarket-mm/pkg/types"
)

// Store persists documents to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeAtomic(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readInto(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}

// SaveGridSummary persists one grid session's end-of-run report.
func (s *Store) SaveGridSummary(summary types.GridSummary) error {
	return s.writeAtomic("grid_"+summary.SessionID+".json", summary)
}

// LoadGridSummary restores a grid session's summary, if any exists.
func (s *Store) LoadGridSummary(sessionID string) (*types.GridSummary, error) {
	var summary types.GridSummary
	found, err := s.readInto("grid_"+sessionID+".json", &summary)
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

// SaveFollowerConfig persists one follower's leader subscription.
func (s *Store) SaveFollowerConfig(cfg types.FollowerConfig) error {
	return s.writeAtomic("follower_"+cfg.FollowerID+".json", cfg)
}

// LoadFollowerConfig restores a follower's subscription, if any exists.
func (s *Store) LoadFollowerConfig(followerID string) (*types.FollowerConfig, error) {
	var cfg types.FollowerConfig
	found, err := s.readInto("follower_"+followerID+".json", &cfg)
	if err != nil || !found {
		return nil, err
	}
	return &cfg, nil
}

// SaveCopyTradeHistory persists a follower's copy-trade record log.
func (s *Store) SaveCopyTradeHistory(followerID string, records []types.CopyTradeRecord) error {
	return s.writeAtomic("copytrade_"+followerID+".json", records)
}

// LoadCopyTradeHistory restores a follower's copy-trade record log, if any
// exists.
func (s *Store) LoadCopyTradeHistory(followerID string) ([]types.CopyTradeRecord, error) {
	var records []types.CopyTradeRecord
	_, err := s.readInto("copytrade_"+followerID+".json", &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}
