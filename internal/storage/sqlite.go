//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tgrelay/pkg/logx"

	"tgrelay/internal/relay"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) SaveStats(ctx context.Context, snap relay.StatsSnapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	by, err := json.Marshal(snap.ByReason)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO relay_stats(id, at, since, received, relayed, filtered, dropped, by_reason_json)
		 VALUES(1,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   at=excluded.at, since=excluded.since,
		   received=excluded.received, relayed=excluded.relayed,
		   filtered=excluded.filtered, dropped=excluded.dropped,
		   by_reason_json=excluded.by_reason_json`,
		snap.At.Format(time.RFC3339Nano), snap.Since.Format(time.RFC3339Nano),
		snap.Received, snap.Relayed, snap.Filtered, snap.Dropped, string(by),
	)
	return err
}

func (s *sqliteStore) LoadStats(ctx context.Context) (relay.StatsSnapshot, bool, error) {
	if s == nil || s.db == nil {
		return relay.StatsSnapshot{}, false, ErrDisabled
	}
	var (
		snap     relay.StatsSnapshot
		at       string
		since    string
		byReason string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT at, since, received, relayed, filtered, dropped, by_reason_json
		 FROM relay_stats WHERE id = 1`,
	).Scan(&at, &since, &snap.Received, &snap.Relayed, &snap.Filtered, &snap.Dropped, &byReason)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.StatsSnapshot{}, false, nil
	}
	if err != nil {
		return relay.StatsSnapshot{}, false, err
	}
	snap.At, _ = time.Parse(time.RFC3339Nano, at)
	snap.Since, _ = time.Parse(time.RFC3339Nano, since)
	if err := json.Unmarshal([]byte(byReason), &snap.ByReason); err != nil {
		s.log.Warn("stats by_reason unreadable; dropping breakdown", logx.Err(err))
		snap.ByReason = nil
	}
	return snap, true, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
