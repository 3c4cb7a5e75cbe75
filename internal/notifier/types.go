package notifier

import (
	"context"
	"time"

	"paybot/internal/transport"
)

type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Resolver maps a tenant user to a chat. The default treats the user id as
// a Telegram chat id.
type Resolver func(ctx context.Context, tenant, userID string) (transport.ChatTarget, error)

// DedupStore persists suppress-until marks. storage.Store satisfies it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Event is the Data payload of notifier.* bus events.
type Event struct {
	Tenant string    `json:"tenant"`
	UserID string    `json:"user_id"`
	ChatID int64     `json:"chat_id"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
