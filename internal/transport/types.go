package transport

import "context"

// ChatTarget addresses one chat (and optionally a forum thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers outbound text. Implementations split text that exceeds
// the platform limit and return the reference of the first message.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender with a lifecycle.
type Adapter interface {
	Sender
	Stop(ctx context.Context) error
}
