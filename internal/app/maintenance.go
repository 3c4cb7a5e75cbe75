package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"paybot/internal/config"
	"paybot/internal/storage"
	logx "paybot/pkg/logx"
)

const defaultAuditRetention = 90 * 24 * time.Hour

// maintenance runs the storage prune job on a cron schedule.
type maintenance struct {
	mu        sync.Mutex
	store     storage.Store
	log       logx.Logger
	c         *cron.Cron
	entry     cron.EntryID
	spec      string
	retention time.Duration
	now       func() time.Time
}

func newMaintenance(st storage.Store, log logx.Logger) *maintenance {
	return &maintenance{
		store: st,
		log:   log,
		c:     cron.New(cron.WithLocation(time.UTC)),
		now:   time.Now,
	}
}

// Apply (re)schedules the prune job. An empty spec removes it.
func (m *maintenance) Apply(mc config.MaintenanceConfig) error {
	retention, err := config.ParseDurationOrDefault("maintenance.audit_retention", mc.AuditRetention, defaultAuditRetention)
	if err != nil {
		return err
	}
	spec := strings.TrimSpace(mc.PruneSpec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention = retention
	if spec == m.spec {
		return nil
	}
	if m.store == nil && spec != "" {
		m.log.Warn("prune job ignored; storage disabled")
		return nil
	}
	var id cron.EntryID
	if spec != "" {
		id, err = m.c.AddFunc(spec, func() { m.prune(context.Background()) })
		if err != nil {
			return err
		}
	}
	if m.entry != 0 {
		m.c.Remove(m.entry)
	}
	m.entry, m.spec = id, spec
	if spec != "" {
		m.log.Info("prune job scheduled", logx.String("spec", spec), logx.Duration("audit_retention", retention))
	}
	return nil
}

func (m *maintenance) prune(ctx context.Context) {
	m.mu.Lock()
	retention := m.retention
	m.mu.Unlock()

	now := m.now()
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	rep, err := m.store.Prune(ctx, now, now.Add(-retention))
	if err != nil {
		m.log.Warn("prune failed", logx.Err(err))
		return
	}
	m.log.Info("prune done", logx.Int64("dedup", rep.Dedup), logx.Int64("audit", rep.Audit))
}

func (m *maintenance) Start() { m.c.Start() }

// Stop waits for a running prune to finish.
func (m *maintenance) Stop() {
	<-m.c.Stop().Done()
}
