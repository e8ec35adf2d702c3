package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

// Pipeline is the single sequential processing path: one event source, one
// filter, one dispatcher. Messages are handled strictly in arrival order;
// at most one dispatch is outstanding at any time, which is what keeps the
// dispatcher's rate state correct without locking.
type Pipeline struct {
	log   logx.Logger
	disp  *Dispatcher
	stats *Stats

	filter  atomic.Pointer[Filter]
	pending atomic.Pointer[DispatchConfig]
}

func NewPipeline(filter *Filter, disp *Dispatcher, stats *Stats, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{log: log, disp: disp, stats: stats}
	p.filter.Store(filter)
	return p
}

// SetFilter swaps the active filter. Takes effect with the next message.
func (p *Pipeline) SetFilter(f *Filter) {
	if f != nil {
		p.filter.Store(f)
	}
}

// SetDispatchConfig stages new dispatcher knobs; the loop applies them
// between messages so they never race an in-flight dispatch.
func (p *Pipeline) SetDispatchConfig(cfg DispatchConfig) {
	p.pending.Store(&cfg)
}

// Run consumes inbound events until ctx is cancelled or in closes.
// A permanent delivery failure never stops the loop; the message is
// dropped with its cause logged and processing continues.
func (p *Pipeline) Run(ctx context.Context, in <-chan transport.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			p.handle(ctx, msg)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, msg transport.Inbound) {
	p.stats.Received()

	log := p.log.With(
		logx.Int("msg_id", msg.MessageID),
		logx.Int64("source", msg.ChatID),
	)
	if msg.Submitted {
		log = log.With(logx.Bool("submitted", true), logx.Int64("sender", msg.SenderID))
	}

	// Submissions were screened at intake; the channel filter does not
	// apply to them.
	if !msg.Submitted {
		dec := p.filter.Load().Decide(msg)
		if !dec.Pass {
			p.stats.Filtered(dec.Reason)
			log.Debug("message rejected", logx.String("reason", dec.Reason))
			return
		}
	}

	if cfg := p.pending.Swap(nil); cfg != nil {
		p.disp.Reconfigure(*cfg)
	}

	res, err := p.disp.Dispatch(ctx, msg)
	if res.Delivered {
		p.stats.Relayed()
		log.Info("message relayed",
			logx.Int("dest_msg_id", res.Ref.MessageID),
			logx.Duration("flood_waited", res.FloodWaited))
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Shutdown mid-wait; at-most-once means the message is simply lost.
		log.Debug("dispatch abandoned on shutdown")
		return
	}
	p.stats.Dropped(res.Reason)
	log.Warn("message dropped",
		logx.String("reason", res.Reason),
		logx.Err(err))
}
