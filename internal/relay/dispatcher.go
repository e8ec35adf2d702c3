package relay

import (
	"context"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

// Drop reasons produced by the dispatcher.
const (
	ReasonFloodCeiling = "flood-ceiling"
	ReasonTransient    = "transient"
	ReasonPermission   = "permission-denied"
	ReasonUnresolvable = "unresolvable-target"
	ReasonSendFailed   = "send-failed"
)

// DispatchConfig tunes the dispatcher's timing gates and retry policy.
type DispatchConfig struct {
	// MinDelay is the minimum gap between consecutive sends.
	MinDelay time.Duration
	// MaxPerMinute caps sends within any trailing 60s window (0 = no cap).
	MaxPerMinute int
	// FloodMultiplier overshoots the provider-demanded wait to avoid an
	// immediate re-throttle.
	FloodMultiplier float64
	// FloodRetryMax bounds throttle retries per message. The provider's
	// flood waits almost always resolve, but an unbounded loop is a
	// liveness risk; exceeding the ceiling drops the message.
	FloodRetryMax int
	// TransientRetryMax bounds retries of network-level failures.
	TransientRetryMax int
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.FloodMultiplier < 1 {
		c.FloodMultiplier = 1.5
	}
	if c.FloodRetryMax <= 0 {
		c.FloodRetryMax = 5
	}
	if c.TransientRetryMax < 0 {
		c.TransientRetryMax = 0
	}
	return c
}

// Result is the outcome of one Dispatch call.
// Delivered and Reason are mutually exclusive.
type Result struct {
	Delivered bool
	Ref       transport.MessageRef
	// Reason explains a drop (see Reason* constants).
	Reason string
	// FloodWaited is the total time spent honoring throttle signals.
	FloodWaited time.Duration
}

// Dispatcher sequences sends to one destination, enforcing the pacing and
// window gates and absorbing flood waits.
//
// It is single-writer by design: one pipeline calls Dispatch at a time, so
// rate state needs no lock. If ingestion is ever parallelized, all sources
// must funnel into a single Dispatcher.
type Dispatcher struct {
	client transport.DeliveryClient
	dest   transport.ChatTarget
	mode   transport.Mode
	cfg    DispatchConfig
	log    logx.Logger

	// rate state, owned exclusively by Dispatch
	lastSend time.Time
	window   []time.Time

	// injected clock, overridable in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(client transport.DeliveryClient, dest transport.ChatTarget, mode transport.Mode, cfg DispatchConfig, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		client: client,
		dest:   dest,
		mode:   mode,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Reconfigure swaps the timing/retry knobs. Callers must not race it with
// Dispatch; the pipeline applies it between messages.
func (d *Dispatcher) Reconfigure(cfg DispatchConfig) {
	d.cfg = cfg.withDefaults()
}

const windowSpan = time.Minute

// Dispatch delivers one accepted message. It blocks on the pacing and
// window gates, retries throttle and transient failures within their
// ceilings, and reports every other failure as a drop.
//
// The returned error carries the underlying cause when the message is
// dropped; it is nil for delivered messages and for drops decided without
// a provider error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg transport.Inbound) (Result, error) {
	if err := d.waitPacing(ctx); err != nil {
		return Result{Reason: ReasonSendFailed}, err
	}
	if err := d.waitWindow(ctx); err != nil {
		return Result{Reason: ReasonSendFailed}, err
	}
	return d.attempt(ctx, msg)
}

// waitPacing blocks until MinDelay has elapsed since the last send.
func (d *Dispatcher) waitPacing(ctx context.Context) error {
	if d.cfg.MinDelay <= 0 || d.lastSend.IsZero() {
		return nil
	}
	gap := d.cfg.MinDelay - d.now().Sub(d.lastSend)
	if gap <= 0 {
		return nil
	}
	return d.sleep(ctx, gap)
}

// waitWindow blocks until the trailing 60s window is below the cap.
func (d *Dispatcher) waitWindow(ctx context.Context) error {
	if d.cfg.MaxPerMinute <= 0 {
		return nil
	}
	for {
		d.prune()
		if len(d.window) < d.cfg.MaxPerMinute {
			return nil
		}
		// Wait until the oldest entry falls out of the window, then
		// re-check: the cap may have been lowered meanwhile.
		wait := windowSpan - d.now().Sub(d.window[0])
		if wait <= 0 {
			continue
		}
		d.log.Debug("per-minute cap reached",
			logx.Int("in_window", len(d.window)),
			logx.Duration("wait", wait))
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) prune() {
	cutoff := d.now().Add(-windowSpan)
	i := 0
	for i < len(d.window) && !d.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		d.window = append(d.window[:0], d.window[i:]...)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, msg transport.Inbound) (Result, error) {
	var (
		floodRetries     int
		transientRetries int
		floodWaited      time.Duration
	)
	for {
		ref, err := d.send(ctx, msg)
		if err == nil {
			now := d.now()
			d.lastSend = now
			d.window = append(d.window, now)
			return Result{Delivered: true, Ref: ref, FloodWaited: floodWaited}, nil
		}
		if ctx.Err() != nil {
			return Result{Reason: ReasonSendFailed}, ctx.Err()
		}

		switch transport.Classify(err) {
		case transport.KindThrottled:
			floodRetries++
			if floodRetries > d.cfg.FloodRetryMax {
				return Result{Reason: ReasonFloodCeiling, FloodWaited: floodWaited}, err
			}
			demanded, _ := transport.RetryAfter(err)
			wait := time.Duration(float64(demanded) * d.cfg.FloodMultiplier)
			d.log.Warn("flood wait from provider",
				logx.Int("msg_id", msg.MessageID),
				logx.Duration("demanded", demanded),
				logx.Duration("waiting", wait),
				logx.Int("attempt", floodRetries))
			if serr := d.sleep(ctx, wait); serr != nil {
				return Result{Reason: ReasonSendFailed}, serr
			}
			floodWaited += wait

		case transport.KindTransient:
			transientRetries++
			if transientRetries > d.cfg.TransientRetryMax {
				return Result{Reason: ReasonTransient, FloodWaited: floodWaited}, err
			}
			delay := time.Duration(200+100*(transientRetries-1)) * time.Millisecond
			d.log.Debug("send retry scheduled",
				logx.Int("msg_id", msg.MessageID),
				logx.Int("attempt", transientRetries),
				logx.Duration("delay", delay),
				logx.Err(err))
			if serr := d.sleep(ctx, delay); serr != nil {
				return Result{Reason: ReasonSendFailed}, serr
			}

		case transport.KindPermissionDenied:
			return Result{Reason: ReasonPermission, FloodWaited: floodWaited}, err
		case transport.KindUnresolvable:
			return Result{Reason: ReasonUnresolvable, FloodWaited: floodWaited}, err
		default:
			return Result{Reason: ReasonSendFailed, FloodWaited: floodWaited}, err
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, msg transport.Inbound) (transport.MessageRef, error) {
	if msg.Submitted {
		return d.client.PostText(ctx, msg.Text, d.dest)
	}
	if d.mode == transport.ModeForward {
		return d.client.ForwardMessage(ctx, msg, d.dest)
	}
	return d.client.CopyMessage(ctx, msg, d.dest)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
