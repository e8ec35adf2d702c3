// Package report periodically summarizes relay statistics: one log line
// per tick, an optional digest message to the admin chat, and a snapshot
// write so counters survive restarts.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tgrelay/pkg/logx"

	"tgrelay/internal/relay"
	"tgrelay/internal/storage"
	"tgrelay/internal/transport"
)

type Config struct {
	Enabled bool
	// Schedule is a cron spec or @every/@hourly expression.
	Schedule   string
	SendDigest bool
}

// TextSender is the slice of the transport adapter the digest needs.
type TextSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Service struct {
	cfg Config
	log logx.Logger

	snapshot func() relay.StatsSnapshot
	store    storage.Store
	sender   TextSender
	admin    transport.ChatTarget

	parser cron.Parser
	c      *cron.Cron
}

// New wires the reporter. A nil store, nil sender, or zero admin.ChatID
// disables the corresponding output.
func New(cfg Config, snapshot func() relay.StatsSnapshot, store storage.Store, sender TextSender, admin transport.ChatTarget, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		snapshot: snapshot,
		store:    store,
		sender:   sender,
		admin:    admin,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "@hourly"
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}

	s.c = cron.New(cron.WithParser(s.parser))
	s.c.Schedule(sched, cron.FuncJob(func() { s.RunOnce(ctx) }))
	s.c.Start()
	s.log.Info("reporter started", logx.String("schedule", spec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	// Final snapshot write so a clean shutdown never loses counters.
	s.persist(context.Background())
}

// RunOnce emits one report tick. Exposed so shutdown and tests can force
// a tick without waiting for cron.
func (s *Service) RunOnce(ctx context.Context) {
	snap := s.snapshot()
	s.log.Info("relay stats",
		logx.Uint64("received", snap.Received),
		logx.Uint64("relayed", snap.Relayed),
		logx.Uint64("filtered", snap.Filtered),
		logx.Uint64("dropped", snap.Dropped),
	)
	s.persist(ctx)

	if s.cfg.SendDigest && s.sender != nil && s.admin.ChatID != 0 {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := s.sender.SendText(cctx, s.admin, FormatDigest(snap), &transport.SendOptions{DisablePreview: true}); err != nil {
			s.log.Warn("digest send failed", logx.Err(err))
		}
	}
}

func (s *Service) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.SaveStats(cctx, s.snapshot()); err != nil {
		s.log.Warn("stats snapshot write failed", logx.Err(err))
	}
}

// FormatDigest renders a snapshot as a short plain-text message.
func FormatDigest(snap relay.StatsSnapshot) string {
	var b strings.Builder
	b.WriteString("Relay stats")
	if !snap.Since.IsZero() {
		b.WriteString(" since ")
		b.WriteString(snap.Since.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "\nreceived: %d\nrelayed: %d\nfiltered: %d\ndropped: %d",
		snap.Received, snap.Relayed, snap.Filtered, snap.Dropped)

	if len(snap.ByReason) > 0 {
		reasons := make([]string, 0, len(snap.ByReason))
		for r := range snap.ByReason {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		b.WriteString("\n\nby reason:")
		for _, r := range reasons {
			fmt.Fprintf(&b, "\n- %s: %d", r, snap.ByReason[r])
		}
	}
	return b.String()
}
