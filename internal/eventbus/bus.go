package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pollers and the supervisor.
const (
	TypeScheduleExecuted = "schedule.executed"
	TypeScheduleDropped  = "schedule.dropped"
	TypeAutopayApproved  = "autopay.approved"
	TypeAutopayFailed    = "autopay.failed"
	TypeAutopayCooldown  = "autopay.cooldown"
	TypeLedgerSynced     = "ledger.synced"
	TypePollerSweep      = "poller.sweep"
	TypeTaskRestarted    = "task.restarted"

	TypeNotifySent    = "notifier.sent"
	TypeNotifyFailed  = "notifier.failed"
	TypeNotifyDeduped = "notifier.deduped"
	TypeNotifyDropped = "notifier.dropped"
)

// Event is a small in-memory signal. Data should be JSON-serializable since
// the audit subscriber persists it.
//
// Publish never blocks: subscribers use buffered channels and a slow
// subscriber drops events.
type Event struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	Tenant string    `json:"tenant,omitempty"`
	UserID string    `json:"user_id,omitempty"`
	Data   any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

var _ Bus = (*MemBus)(nil)

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
