package submission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

// Callback data values for the confirmation buttons.
const (
	cbConfirm = "submit:confirm"
	cbCancel  = "submit:cancel"
	cbEdit    = "submit:edit"
)

const previewLimit = 500

// Service implements transport.SubmissionHandler: screens private-chat
// submissions, runs the confirm/cancel flow, and enqueues confirmed posts
// into the relay pipeline. One pending submission per user; a new message
// replaces the previous pending one.
type Service struct {
	log logx.Logger

	// enqueue pushes the formatted post into the pipeline; returns false
	// when the queue is full.
	enqueue func(transport.Inbound) bool

	screener atomic.Pointer[Screener]

	mu      sync.Mutex
	pending map[int64]string

	received uint64
	queued   uint64
	rejected uint64
}

func New(scr *Screener, enqueue func(transport.Inbound) bool, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		enqueue: enqueue,
		pending: map[int64]string{},
	}
	s.screener.Store(scr)
	return s
}

// SetScreener swaps the screening rules; takes effect with the next
// submission. Pending confirmations keep their already-approved text.
func (s *Service) SetScreener(scr *Screener) {
	if scr != nil {
		s.screener.Store(scr)
	}
}

func (s *Service) Command(_ context.Context, user transport.UserRef, cmd string) string {
	switch cmd {
	case "start":
		return "Welcome to the listing bot.\n\n" +
			"Send me your rental listing and I will check it against the " +
			"posting guidelines. Approved listings are posted to the channel.\n\n" +
			"Include the property type, location, price and contact details."
	case "help":
		return "Posting guidelines:\n" +
			"- property type (apartment, flat, room, studio)\n" +
			"- location, monthly rent, available date\n" +
			"- contact details\n\n" +
			"Spam, suspicious links and off-topic messages are rejected.\n" +
			"Just send your listing message to get started."
	case "status":
		s.mu.Lock()
		defer s.mu.Unlock()
		return fmt.Sprintf("Submissions: %d received, %d posted to queue, %d rejected.",
			s.received, s.queued, s.rejected)
	}
	return ""
}

func (s *Service) Submit(_ context.Context, user transport.UserRef, text string) transport.Reply {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	v := s.screener.Load().Screen(text)
	s.log.Info("submission screened",
		logx.Int64("user", user.ID),
		logx.String("reason", v.Reason))

	if !v.Approved {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return transport.Reply{Text: v.Feedback}
	}

	s.mu.Lock()
	s.pending[user.ID] = text
	s.mu.Unlock()

	preview := text
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "..."
	}
	return transport.Reply{
		Text: "Preview of your listing:\n\n" + preview +
			"\n\nPost this to the channel?",
		Buttons: []transport.Button{
			{Text: "Post to channel", Data: cbConfirm},
			{Text: "Cancel", Data: cbCancel},
			{Text: "Edit", Data: cbEdit},
		},
	}
}

func (s *Service) Callback(_ context.Context, user transport.UserRef, data string) string {
	switch data {
	case cbConfirm:
		s.mu.Lock()
		text, ok := s.pending[user.ID]
		delete(s.pending, user.ID)
		s.mu.Unlock()
		if !ok {
			return "No pending submission found. Please send a new message."
		}

		queued := s.enqueue(transport.Inbound{
			Text:      formatPost(text),
			Submitted: true,
			SenderID:  user.ID,
			Received:  time.Now(),
		})
		if !queued {
			s.log.Warn("submission queue full", logx.Int64("user", user.ID))
			return "The posting queue is full right now. Please try again later."
		}
		s.mu.Lock()
		s.queued++
		s.mu.Unlock()
		s.log.Info("submission queued", logx.Int64("user", user.ID))
		return "Your listing was approved and queued for posting. Thank you!"

	case cbCancel:
		s.dropPending(user.ID)
		return "Submission cancelled. Send a new message anytime."

	case cbEdit:
		s.dropPending(user.ID)
		return "Please send your edited listing message."
	}
	return ""
}

func (s *Service) dropPending(userID int64) {
	s.mu.Lock()
	delete(s.pending, userID)
	s.mu.Unlock()
}

func formatPost(text string) string {
	return "New listing\n\n" + text + "\n\nSubmitted via bot"
}
