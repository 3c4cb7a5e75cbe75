package app

import (
	"context"
	"encoding/json"
	"time"

	"paybot/internal/eventbus"
	"paybot/internal/storage"
	logx "paybot/pkg/logx"
)

// audited lists the bus events copied into the storage audit trail.
var audited = map[string]bool{
	eventbus.TypeScheduleExecuted: true,
	eventbus.TypeScheduleDropped:  true,
	eventbus.TypeAutopayApproved:  true,
	eventbus.TypeAutopayFailed:    true,
	eventbus.TypeAutopayCooldown:  true,
	eventbus.TypeLedgerSynced:     true,
	eventbus.TypeTaskRestarted:    true,
	eventbus.TypeNotifyFailed:     true,
	eventbus.TypeNotifyDropped:    true,
}

func (a *App) startAudit() {
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
	})
}

func runAudit(ctx context.Context, events <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !audited[e.Type] {
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				continue
			}
			if err := st.AppendAudit(ctx, auditEntry(e)); err != nil {
				log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

func auditEntry(e eventbus.Event) storage.AuditEntry {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	entry := storage.AuditEntry{At: at.UTC(), Tenant: e.Tenant, UserID: e.UserID, Kind: e.Type}
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			entry.MetaJSON = string(b)
		}
	}
	if m, ok := e.Data.(map[string]any); ok {
		for _, k := range []string{"report", "err", "schedule", "task"} {
			if v, ok := m[k].(string); ok && v != "" {
				entry.Detail = v
				break
			}
		}
	}
	return entry
}
