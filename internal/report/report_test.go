package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/relay"
	"tgrelay/internal/transport"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.sent = append(f.sent, text)
	return transport.MessageRef{}, nil
}

type fakeStore struct {
	saved []relay.StatsSnapshot
}

func (f *fakeStore) SaveStats(_ context.Context, snap relay.StatsSnapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeStore) LoadStats(context.Context) (relay.StatsSnapshot, bool, error) {
	return relay.StatsSnapshot{}, false, nil
}

func (f *fakeStore) Close() error { return nil }

func testSnapshot() relay.StatsSnapshot {
	return relay.StatsSnapshot{
		At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Since:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Received: 120,
		Relayed:  95,
		Filtered: 20,
		Dropped:  5,
		ByReason: map[string]uint64{"excluded-keyword": 18, "too-short": 2, "flood-ceiling": 5},
	}
}

func TestRunOncePersistsAndSendsDigest(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	store := &fakeStore{}
	svc := New(Config{Enabled: true, SendDigest: true},
		testSnapshot, store, sender,
		transport.ChatTarget{ChatID: 99}, logx.Nop())

	svc.RunOnce(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("saved %d snapshots, want 1", len(store.saved))
	}
	if store.saved[0].Relayed != 95 {
		t.Fatalf("saved snapshot = %+v", store.saved[0])
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d digests, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "relayed: 95") {
		t.Fatalf("digest = %q", sender.sent[0])
	}
}

func TestRunOnceWithoutAdminSkipsDigest(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{Enabled: true, SendDigest: true},
		testSnapshot, nil, sender,
		transport.ChatTarget{}, logx.Nop())

	svc.RunOnce(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("digest sent with no admin chat configured: %q", sender.sent)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Schedule: "not a cron spec"},
		testSnapshot, nil, nil, transport.ChatTarget{}, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: false, Schedule: "garbage"},
		testSnapshot, nil, nil, transport.ChatTarget{}, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	svc.Stop(context.Background())
}

func TestFormatDigest(t *testing.T) {
	t.Parallel()
	got := FormatDigest(testSnapshot())

	for _, want := range []string{
		"since 2026-03-01 09:30",
		"received: 120",
		"dropped: 5",
		"- excluded-keyword: 18",
		"- flood-ceiling: 5",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest missing %q:\n%s", want, got)
		}
	}
	// Reasons are sorted for stable output.
	if strings.Index(got, "excluded-keyword") > strings.Index(got, "too-short") {
		t.Fatalf("reasons not sorted:\n%s", got)
	}
}
