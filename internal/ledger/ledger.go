// Package ledger copies settled provider transactions into the user's
// linked ledger, one cursor per user.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"paybot/internal/domain"
	"paybot/internal/eventbus"
	"paybot/internal/storage"
	logx "paybot/pkg/logx"
)

type TransactionSource interface {
	Transactions(ctx context.Context, accessToken string, since time.Time) ([]domain.Transaction, error)
}

// Sink receives new transactions in creation order. A sink error leaves the
// cursor where it was so the batch is offered again next sweep.
type Sink interface {
	Record(ctx context.Context, u *domain.User, txs []domain.Transaction) error
}

// AuditSink appends each transaction to the store's audit trail.
type AuditSink struct {
	Store storage.Store
}

func (s AuditSink) Record(ctx context.Context, u *domain.User, txs []domain.Transaction) error {
	for _, tx := range txs {
		meta, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		err = s.Store.AppendAudit(ctx, storage.AuditEntry{
			At:       tx.CreatedAt,
			Tenant:   u.TenantID,
			UserID:   u.ID,
			Kind:     storage.KindLedgerTransaction,
			Detail:   fmt.Sprintf("%s %s %.2f", u.Ledger.Account, tx.Counterparty, tx.Amount),
			MetaJSON: string(meta),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type Processor struct {
	source TransactionSource
	sink   Sink
	bus    eventbus.Bus
	log    logx.Logger
}

func NewProcessor(source TransactionSource, sink Sink, bus eventbus.Bus, log logx.Logger) *Processor {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{source: source, sink: sink, bus: bus, log: log}
}

func (p *Processor) Name() string { return "ledger" }

func (p *Processor) Wants(u *domain.User) bool { return u.Ledger != nil && u.Ledger.Account != "" }

func (p *Processor) Process(ctx context.Context, u *domain.User, now time.Time) (bool, error) {
	cursor := u.Ledger.Cursor
	// Step back one tick so the cursor instant itself is listed again.
	since := cursor
	if !since.IsZero() {
		since = since.Add(-time.Nanosecond)
	}
	txs, err := p.source.Transactions(ctx, u.Credential.AccessToken, since)
	if err != nil {
		return false, fmt.Errorf("transactions: %w", err)
	}

	seen := make(map[string]bool, len(u.Ledger.SeenAtCursor))
	for _, id := range u.Ledger.SeenAtCursor {
		seen[id] = true
	}
	fresh := txs[:0:0]
	for _, tx := range txs {
		if tx.CreatedAt.After(cursor) || tx.CreatedAt.Equal(cursor) && !seen[tx.ID] {
			fresh = append(fresh, tx)
			seen[tx.ID] = true
		}
	}
	if len(fresh) == 0 {
		return false, nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt.Before(fresh[j].CreatedAt) })

	if err := p.sink.Record(ctx, u, fresh); err != nil {
		return false, fmt.Errorf("ledger sink: %w", err)
	}
	next := fresh[len(fresh)-1].CreatedAt.UTC()
	var atNext []string
	if next.Equal(cursor) {
		atNext = append(atNext, u.Ledger.SeenAtCursor...)
	}
	for _, tx := range fresh {
		if tx.CreatedAt.Equal(next) {
			atNext = append(atNext, tx.ID)
		}
	}
	u.Ledger.Cursor, u.Ledger.SeenAtCursor = next, atNext
	p.log.Debug("ledger synced", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Int("count", len(fresh)))
	p.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeLedgerSynced,
		Tenant: u.TenantID,
		UserID: u.ID,
		Data:   map[string]any{"count": len(fresh), "cursor": u.Ledger.Cursor},
	})
	return true, nil
}
