// Package app assembles the relay: config manager, logging service,
// telegram adapter, filter/dispatcher pipeline, optional storage and the
// periodic reporter, all supervised under one context.
package app

import (
	"context"
	"fmt"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/config"
	"tgrelay/internal/relay"
	"tgrelay/internal/report"
	"tgrelay/internal/runtime/supervisor"
	"tgrelay/internal/storage"
	"tgrelay/internal/submission"
	"tgrelay/internal/transport"
	"tgrelay/internal/transport/telegram"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter *telegram.Adapter
	stats   *relay.Stats
	pipe    *relay.Pipeline
	rep     *report.Service
	subs    *submission.Service

	// lastCfg is the config currently in effect; touched only by New and
	// the config.reload goroutine.
	lastCfg *config.Config

	inbound chan transport.Inbound
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Sources:     cfg.Channels.Sources,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram mirror disabled: Apply() builds sinks
	// immediately, and the mirror needs its target set first.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	log = log.With(logx.String("comp", "app"))
	logSvc.SetTelegramTarget(transport.ChatTarget{ChatID: cfg.Telegram.AdminChatID})
	logSvc.Apply(logCfg)

	var store storage.Store
	if sc, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if st, err := storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	} else if st != nil {
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	stats := relay.NewStats()
	if store != nil {
		if snap, ok, err := store.LoadStats(context.Background()); err != nil {
			log.Warn("stats restore failed", logx.Err(err))
		} else if ok {
			stats.Restore(snap)
			log.Info("stats restored", logx.Uint64("received", snap.Received), logx.Uint64("relayed", snap.Relayed))
		}
	}

	mode := transport.ModeCopy
	if cfg.Channels.ForwardMode {
		mode = transport.ModeForward
	}
	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := relay.NewDispatcher(ad,
		transport.ChatTarget{ChatID: cfg.Channels.Destination},
		mode, dispCfg,
		log.With(logx.String("comp", "dispatcher")))

	pipe := relay.NewPipeline(relay.NewFilter(mapFilterConfig(cfg)), disp, stats,
		log.With(logx.String("comp", "pipeline")))

	repCfg := report.Config{}
	if cfg.Report != nil {
		repCfg = report.Config{
			Enabled:    cfg.Report.Enabled,
			Schedule:   cfg.Report.Schedule,
			SendDigest: cfg.Report.SendDigest,
		}
	}
	rep := report.New(repCfg, stats.Snapshot, store, ad,
		transport.ChatTarget{ChatID: cfg.Telegram.AdminChatID},
		log.With(logx.String("comp", "report")))

	a := &App{
		cfgm:    cfgm,
		lastCfg: cfg,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		stats:   stats,
		pipe:    pipe,
		rep:     rep,
		inbound: make(chan transport.Inbound, 256),
	}

	if cfg.Submissions != nil && cfg.Submissions.Enabled {
		scr, err := submission.NewScreener(mapScreenerConfig(cfg))
		if err != nil {
			return nil, err
		}
		a.subs = submission.New(scr, a.enqueueSubmission,
			log.With(logx.String("comp", "submissions")))
		ad.SetSubmissionHandler(a.subs)
		log.Info("submission intake enabled")
	}

	return a, nil
}

// enqueueSubmission feeds an approved post into the pipeline without ever
// blocking the adapter's handler goroutine.
func (a *App) enqueueSubmission(msg transport.Inbound) bool {
	select {
	case a.inbound <- msg:
		return true
	default:
		return false
	}
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if cfg.Submissions != nil && cfg.Submissions.Enabled {
			if _, err := submission.NewScreener(mapScreenerConfig(cfg)); err != nil {
				return err
			}
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.inbound); err != nil {
		return err
	}
	if err := a.rep.Start(a.sup.Context()); err != nil {
		return err
	}

	// Long-running loops self-heal with backoff; a clean exit (inbound
	// channel closed, context cancelled) stops them for good.
	a.sup.GoRestart("pipeline", func(c context.Context) error {
		return a.pipe.Run(c, a.inbound)
	}, time.Second, 30*time.Second)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(cfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, time.Second, time.Minute)

	a.log.Info("relay started")
	return nil
}

// applyReload pushes hot-reloadable sections into running components.
// Token, channels and storage are fixed for the process lifetime; a change
// there is logged but takes effect only after a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.SetTelegramTarget(transport.ChatTarget{ChatID: cfg.Telegram.AdminChatID})
	a.logs.Apply(mapLogConfig(cfg))

	a.pipe.SetFilter(relay.NewFilter(mapFilterConfig(cfg)))

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		// The validator rejects these before publish; belt and braces.
		a.log.Warn("invalid rate_limit config; keeping previous", logx.Err(err))
	} else {
		a.pipe.SetDispatchConfig(dispCfg)
	}

	if a.subs != nil && cfg.Submissions != nil && cfg.Submissions.Enabled {
		if scr, err := submission.NewScreener(mapScreenerConfig(cfg)); err != nil {
			a.log.Warn("invalid submissions config; keeping previous", logx.Err(err))
		} else {
			a.subs.SetScreener(scr)
		}
	}

	if a.lastCfg != nil && restartRequired(a.lastCfg, cfg) {
		a.log.Warn("telegram/channels/storage/submissions config changed; restart required for changes to take effect")
	}
	a.lastCfg = cfg

	a.log.Info("config applied")
}

func restartRequired(old, cur *config.Config) bool {
	if old.Telegram.Token != cur.Telegram.Token {
		return true
	}
	if old.Channels.Destination != cur.Channels.Destination ||
		old.Channels.ForwardMode != cur.Channels.ForwardMode ||
		len(old.Channels.Sources) != len(cur.Channels.Sources) {
		return true
	}
	for i := range old.Channels.Sources {
		if old.Channels.Sources[i] != cur.Channels.Sources[i] {
			return true
		}
	}
	oldSt, curSt := old.Storage, cur.Storage
	if (oldSt == nil) != (curSt == nil) {
		return true
	}
	if oldSt != nil && *oldSt != *curSt {
		return true
	}
	// The submission handler registers its endpoints at Start.
	oldSub := old.Submissions != nil && old.Submissions.Enabled
	curSub := cur.Submissions != nil && cur.Submissions.Enabled
	return oldSub != curSub
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Reporter last among producers: its Stop writes a final stats snapshot.
	step("report", 2*time.Second, func(c context.Context) error { a.rep.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// ---- config mapping ----

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapFilterConfig(cfg *config.Config) relay.FilterConfig {
	return relay.FilterConfig{
		IncludeKeywords: cfg.Filters.IncludeKeywords,
		ExcludeKeywords: cfg.Filters.ExcludeKeywords,
		MediaOnly:       cfg.Filters.MediaOnly,
		MinLength:       cfg.Filters.MinLength,
	}
}

func mapDispatchConfig(cfg *config.Config) (relay.DispatchConfig, error) {
	delay, err := config.ParseDurationOrDefault("rate_limit.message_delay", cfg.RateLimit.MessageDelay, time.Second)
	if err != nil {
		return relay.DispatchConfig{}, err
	}
	// Zero means omitted and takes the documented default; -1 is the
	// explicit "off" value where off is meaningful.
	perMinute := cfg.RateLimit.MaxPerMinute
	switch {
	case perMinute == 0:
		perMinute = 20
	case perMinute < 0:
		perMinute = 0
	}
	transientMax := cfg.RateLimit.TransientRetryMax
	switch {
	case transientMax == 0:
		transientMax = 3
	case transientMax < 0:
		transientMax = 0
	}
	return relay.DispatchConfig{
		MinDelay:          delay,
		MaxPerMinute:      perMinute,
		FloodMultiplier:   cfg.RateLimit.FloodWaitMultiplier,
		FloodRetryMax:     cfg.RateLimit.FloodRetryMax,
		TransientRetryMax: transientMax,
	}, nil
}

// mapScreenerConfig builds the submission rules from the filters section
// plus the submissions overrides.
func mapScreenerConfig(cfg *config.Config) submission.ScreenerConfig {
	sc := submission.ScreenerConfig{
		TopicKeywords:   cfg.Filters.IncludeKeywords,
		BlockedKeywords: cfg.Filters.ExcludeKeywords,
		MinLength:       cfg.Filters.MinLength,
	}
	if cfg.Submissions != nil {
		sc.BlockedPatterns = cfg.Submissions.BlockedPatterns
		if cfg.Submissions.MinLength > 0 {
			sc.MinLength = cfg.Submissions.MinLength
		}
	}
	return sc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
