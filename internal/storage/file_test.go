package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/relay"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stats.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	if _, ok, err := st.LoadStats(ctx); err != nil || ok {
		t.Fatalf("LoadStats on empty store = ok=%v err=%v, want miss", ok, err)
	}

	snap := relay.StatsSnapshot{
		At:       time.Now().Truncate(time.Second),
		Since:    time.Now().Add(-time.Hour).Truncate(time.Second),
		Received: 42,
		Relayed:  30,
		Filtered: 10,
		Dropped:  2,
		ByReason: map[string]uint64{"excluded-keyword": 10, "flood-ceiling": 2},
	}
	if err := st.SaveStats(ctx, snap); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}

	got, ok, err := st.LoadStats(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadStats = ok=%v err=%v", ok, err)
	}
	if got.Received != 42 || got.Relayed != 30 || got.Dropped != 2 {
		t.Fatalf("snapshot = %+v", got)
	}
	if got.ByReason["excluded-keyword"] != 10 {
		t.Fatalf("by_reason = %v", got.ByReason)
	}
}

func TestFileStoreOverwrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stats.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.SaveStats(ctx, relay.StatsSnapshot{Received: 1}); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}
	if err := st.SaveStats(ctx, relay.StatsSnapshot{Received: 2}); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}
	got, ok, err := st.LoadStats(ctx)
	if err != nil || !ok || got.Received != 2 {
		t.Fatalf("LoadStats = %+v ok=%v err=%v, want received=2", got, ok, err)
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if _, ok, err := st.LoadStats(context.Background()); err != nil || ok {
		t.Fatalf("corrupt snapshot: ok=%v err=%v, want treated as missing", ok, err)
	}
}
