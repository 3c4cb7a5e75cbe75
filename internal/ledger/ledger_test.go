package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paybot/internal/domain"
	"paybot/internal/storage"
	logx "paybot/pkg/logx"
)

type fakeSource struct {
	txs   []domain.Transaction
	since time.Time
}

func (f *fakeSource) Transactions(ctx context.Context, token string, since time.Time) ([]domain.Transaction, error) {
	f.since = since
	return f.txs, nil
}

type memSink struct {
	got []domain.Transaction
	err error
}

func (m *memSink) Record(ctx context.Context, u *domain.User, txs []domain.Transaction) error {
	if m.err != nil {
		return m.err
	}
	m.got = append(m.got, txs...)
	return nil
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestProcessAdvancesCursor(t *testing.T) {
	t.Parallel()

	src := &fakeSource{txs: []domain.Transaction{
		{ID: "c", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "old", CreatedAt: base},
		{ID: "a", CreatedAt: base.Add(time.Hour)},
	}}
	sink := &memSink{}
	p := NewProcessor(src, sink, nil, logx.Nop())
	u := &domain.User{ID: "u1", TenantID: "t1", Ledger: &domain.LedgerLink{Account: "budget", Cursor: base, SeenAtCursor: []string{"old"}}}

	if !p.Wants(u) || p.Wants(&domain.User{}) {
		t.Fatal("Wants should follow the ledger link")
	}
	mutated, err := p.Process(context.Background(), u, base.Add(4*time.Hour))
	if err != nil || !mutated {
		t.Fatalf("Process = %v, %v", mutated, err)
	}
	if !src.since.Equal(base.Add(-time.Nanosecond)) {
		t.Fatalf("since = %v", src.since)
	}
	if len(sink.got) != 2 || sink.got[0].ID != "a" || sink.got[1].ID != "c" {
		t.Fatalf("sink got %+v", sink.got)
	}
	if !u.Ledger.Cursor.Equal(base.Add(3 * time.Hour)) {
		t.Fatalf("cursor = %v", u.Ledger.Cursor)
	}

	// Nothing new: no mutation.
	if mutated, _ := p.Process(context.Background(), u, base.Add(5*time.Hour)); mutated {
		t.Fatal("second pass should not mutate")
	}
}

func TestProcessPicksUpLateArrivalAtCursor(t *testing.T) {
	t.Parallel()

	at := base.Add(time.Hour)
	src := &fakeSource{txs: []domain.Transaction{{ID: "a", CreatedAt: at}}}
	sink := &memSink{}
	p := NewProcessor(src, sink, nil, logx.Nop())
	u := &domain.User{ID: "u1", TenantID: "t1", Ledger: &domain.LedgerLink{Account: "budget", Cursor: base}}

	if _, err := p.Process(context.Background(), u, at); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// "b" settles later but carries the same creation time as "a".
	src.txs = []domain.Transaction{{ID: "a", CreatedAt: at}, {ID: "b", CreatedAt: at}}
	mutated, err := p.Process(context.Background(), u, at.Add(time.Minute))
	if err != nil || !mutated {
		t.Fatalf("Process = %v, %v", mutated, err)
	}
	if len(sink.got) != 2 || sink.got[0].ID != "a" || sink.got[1].ID != "b" {
		t.Fatalf("sink got %+v", sink.got)
	}
	if !u.Ledger.Cursor.Equal(at) || len(u.Ledger.SeenAtCursor) != 2 {
		t.Fatalf("ledger = %+v", u.Ledger)
	}
	if mutated, _ := p.Process(context.Background(), u, at.Add(2*time.Minute)); mutated {
		t.Fatal("nothing new should not mutate")
	}
}

func TestProcessKeepsCursorOnSinkError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{txs: []domain.Transaction{{ID: "a", CreatedAt: base.Add(time.Hour)}}}
	p := NewProcessor(src, &memSink{err: errors.New("ledger offline")}, nil, logx.Nop())
	u := &domain.User{ID: "u1", TenantID: "t1", Ledger: &domain.LedgerLink{Account: "budget", Cursor: base}}

	if mutated, err := p.Process(context.Background(), u, base); err == nil || mutated {
		t.Fatalf("Process = %v, %v", mutated, err)
	}
	if !u.Ledger.Cursor.Equal(base) {
		t.Fatalf("cursor moved to %v", u.Ledger.Cursor)
	}
}

func TestAuditSinkAppends(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "l.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	u := &domain.User{ID: "u1", TenantID: "t1", Ledger: &domain.LedgerLink{Account: "budget"}}
	sink := AuditSink{Store: st}
	txs := []domain.Transaction{{ID: "a", Counterparty: "amy", Amount: 3, CreatedAt: base}}
	if err := sink.Record(context.Background(), u, txs); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := st.AppendAudit(context.Background(), storage.AuditEntry{At: base, Kind: "schedule.executed"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	// Only the schedule row ages out; the transaction is kept.
	rep, err := st.Prune(context.Background(), base, base.Add(time.Second))
	if err != nil || rep.Audit != 1 {
		t.Fatalf("prune = %+v, %v", rep, err)
	}
	if rep, _ := st.Prune(context.Background(), base, base.Add(time.Second)); rep.Audit != 0 {
		t.Fatalf("ledger row pruned: %+v", rep)
	}
}
