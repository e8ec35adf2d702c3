// Package telegram adapts gopkg.in/telebot.v4 to the transport
// capabilities the relay consumes: an inbound event source over the
// configured source chats, and copy/forward delivery with provider errors
// mapped onto the transport taxonomy.
package telegram

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Sources lists the chat IDs whose messages feed the pipeline.
	Sources []int64
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	sources map[int64]struct{}

	// sub receives private-chat traffic; set before Start, nil disables
	// the submission surface entirely.
	sub transport.SubmissionHandler

	out       chan<- transport.Inbound
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// dropped counts events lost because the pipeline lagged behind the
	// poll loop; summarized periodically instead of logged per event.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("at least one source chat is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	src := make(map[int64]struct{}, len(cfg.Sources))
	for _, id := range cfg.Sources {
		src[id] = struct{}{}
	}
	return &Adapter{cfg: cfg, log: log, bot: b, sources: src}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Inbound) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped events.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("inbound events dropped (channel full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("inbound events dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	}()

	intake := func(c tele.Context) error {
		m := c.Message()
		if m != nil && m.Private() && a.sub != nil {
			return a.handleSubmission(rctx, c)
		}
		a.accept(m)
		return nil
	}
	// Channel posts arrive on their own endpoint; group/supergroup sources
	// surface as regular text/media updates.
	a.bot.Handle(tele.OnChannelPost, intake)
	a.bot.Handle(tele.OnText, intake)
	a.bot.Handle(tele.OnMedia, intake)

	if a.sub != nil {
		for _, cmd := range []string{"/start", "/help", "/status"} {
			cmd := cmd
			a.bot.Handle(cmd, func(c tele.Context) error {
				if m := c.Message(); m == nil || !m.Private() {
					return nil
				}
				if reply := a.sub.Command(rctx, sender(c), strings.TrimPrefix(cmd, "/")); reply != "" {
					return c.Send(reply)
				}
				return nil
			})
		}
		a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
			cb := c.Callback()
			if cb == nil {
				return nil
			}
			data := strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f")
			if edit := a.sub.Callback(rctx, sender(c), data); edit != "" {
				_ = c.Edit(edit)
			}
			return c.Respond()
		})
	}

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started", logx.Int("sources", len(a.sources)))
		a.bot.Start() // blocks until Stop()
	}()

	return nil
}

// SetSubmissionHandler enables the private-chat submission surface.
// Must be called before Start.
func (a *Adapter) SetSubmissionHandler(h transport.SubmissionHandler) { a.sub = h }

func sender(c tele.Context) transport.UserRef {
	u := c.Sender()
	if u == nil {
		return transport.UserRef{}
	}
	return transport.UserRef{ID: u.ID, Name: u.FirstName}
}

// handleSubmission routes a private non-command message to the handler and
// sends its reply, with inline buttons when the handler attaches any.
func (a *Adapter) handleSubmission(ctx context.Context, c tele.Context) error {
	m := c.Message()
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	reply := a.sub.Submit(ctx, sender(c), text)
	if reply.Text == "" {
		return nil
	}
	if len(reply.Buttons) == 0 {
		return c.Send(reply.Text)
	}
	markup := &tele.ReplyMarkup{}
	for _, b := range reply.Buttons {
		markup.InlineKeyboard = append(markup.InlineKeyboard,
			[]tele.InlineButton{{Text: b.Text, Data: b.Data}})
	}
	return c.Send(reply.Text, markup)
}

// accept converts a raw message to an Inbound event if it came from a
// watched source, dropping rather than blocking when the pipeline lags.
func (a *Adapter) accept(m *tele.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	if _, ok := a.sources[m.Chat.ID]; !ok {
		return
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	ev := transport.Inbound{
		MessageID:   m.ID,
		ChatID:      m.Chat.ID,
		SourceTitle: m.Chat.Title,
		Text:        text,
		HasMedia:    m.Media() != nil,
		Received:    time.Now(),
	}
	select {
	case a.out <- ev:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if the long-poll is still out.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) CopyMessage(ctx context.Context, msg transport.Inbound, to transport.ChatTarget) (transport.MessageRef, error) {
	sent, err := a.bot.Copy(tele.ChatID(to.ChatID), stored(msg))
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: sent.ID}, nil
}

func (a *Adapter) ForwardMessage(ctx context.Context, msg transport.Inbound, to transport.ChatTarget) (transport.MessageRef, error) {
	sent, err := a.bot.Forward(tele.ChatID(to.ChatID), stored(msg))
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: sent.ID}, nil
}

// PostText publishes an approved submission as a fresh message.
func (a *Adapter) PostText(ctx context.Context, text string, to transport.ChatTarget) (transport.MessageRef, error) {
	return a.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true})
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	sent, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: sent.ID}, nil
}

func stored(msg transport.Inbound) tele.StoredMessage {
	return tele.StoredMessage{
		MessageID: strconv.Itoa(msg.MessageID),
		ChatID:    msg.ChatID,
	}
}

// classify maps telebot/Bot API errors onto the transport taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &transport.FloodError{
			RetryAfter: time.Duration(fe.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		desc := strings.ToLower(te.Description)
		switch {
		case te.Code == 401 || te.Code == 403:
			return errors.Join(transport.ErrPermissionDenied, err)
		case strings.Contains(desc, "not enough rights"),
			strings.Contains(desc, "have no rights"),
			strings.Contains(desc, "chat_write_forbidden"):
			return errors.Join(transport.ErrPermissionDenied, err)
		case strings.Contains(desc, "chat not found"),
			strings.Contains(desc, "channel_invalid"):
			return errors.Join(transport.ErrUnresolvable, err)
		case te.Code >= 500:
			return &transport.TransientError{Err: err}
		}
		return err
	}

	// Non-API failures are transport-level: timeouts, resets, DNS.
	var ne net.Error
	if errors.As(err, &ne) {
		return &transport.TransientError{Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &transport.TransientError{Err: err}
}
