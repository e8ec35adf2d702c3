package transport

import (
	"context"
	"time"
)

// Inbound is one message event from a watched source chat, or an approved
// user submission queued for posting. It is constructed by the adapter (or
// the submission service), consumed synchronously by the relay pipeline and
// discarded afterwards; nothing persists it.
type Inbound struct {
	MessageID   int
	ChatID      int64
	SourceTitle string

	// Text holds the message text, or the caption for media messages.
	// For submissions it is the fully formatted post. May be empty.
	Text     string
	HasMedia bool

	// Submitted marks an already-screened user submission: the pipeline
	// skips the channel filter and the dispatcher posts Text as a new
	// message instead of copying/forwarding an existing one.
	Submitted bool
	// SenderID is the submitting user for Submitted events, else zero.
	SenderID int64

	Received time.Time
}

// ChatTarget addresses a chat (and optionally a forum topic thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a message the provider accepted.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Mode selects how accepted messages reach the destination.
type Mode string

const (
	// ModeCopy re-posts content as the operating account, no attribution.
	ModeCopy Mode = "copy"
	// ModeForward preserves visible attribution to the original source.
	ModeForward Mode = "forward"
)

// DeliveryClient is the capability the dispatcher sends through.
// Implementations classify provider failures via the error taxonomy in
// this package (see Classify).
type DeliveryClient interface {
	CopyMessage(ctx context.Context, msg Inbound, to ChatTarget) (MessageRef, error)
	ForwardMessage(ctx context.Context, msg Inbound, to ChatTarget) (MessageRef, error)
	// PostText publishes text as a new message; used for approved
	// submissions, which have no source message to copy.
	PostText(ctx context.Context, text string, to ChatTarget) (MessageRef, error)
}

// UserRef identifies the sender of a private-chat interaction.
type UserRef struct {
	ID   int64
	Name string
}

// Button is one inline keyboard button attached to a reply.
type Button struct {
	Text string
	Data string
}

// Reply is what a submission handler wants sent back to the user.
type Reply struct {
	Text    string
	Buttons []Button
}

// SubmissionHandler receives private-chat traffic when the submission
// intake is enabled. Returned texts are sent back to the user; an empty
// string sends nothing.
type SubmissionHandler interface {
	// Command handles a slash command ("start", "help", "status").
	Command(ctx context.Context, user UserRef, cmd string) string
	// Submit handles a non-command private message.
	Submit(ctx context.Context, user UserRef, text string) Reply
	// Callback handles an inline button press; the returned text replaces
	// the message the button was attached to.
	Callback(ctx context.Context, user UserRef, data string) string
}

// Adapter is the full platform surface: the inbound event source plus
// delivery and plain-text sending (used by the log mirror and reporter).
type Adapter interface {
	DeliveryClient

	// Start begins producing inbound events on out. It returns once the
	// poll loop is running; events stop when ctx is cancelled.
	Start(ctx context.Context, out chan<- Inbound) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
