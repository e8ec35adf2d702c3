package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tgrelay/pkg/logx"

	"tgrelay/internal/relay"
)

// fileStore keeps the stats snapshot in a single JSON file, replaced
// atomically (write temp + rename) so a crash mid-write never corrupts
// the previous snapshot.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) SaveStats(ctx context.Context, snap relay.StatsSnapshot) error {
	if s == nil {
		return ErrDisabled
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) LoadStats(ctx context.Context) (relay.StatsSnapshot, bool, error) {
	if s == nil {
		return relay.StatsSnapshot{}, false, ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return relay.StatsSnapshot{}, false, nil
		}
		return relay.StatsSnapshot{}, false, err
	}
	var snap relay.StatsSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// A corrupt snapshot is not worth failing startup over.
		s.log.Warn("stats snapshot unreadable; starting fresh", logx.Err(err))
		return relay.StatsSnapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *fileStore) Close() error { return nil }
