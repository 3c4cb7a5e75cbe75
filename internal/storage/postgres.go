package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

type userRow struct {
	TenantID  string `gorm:"primaryKey"`
	ID        string `gorm:"primaryKey"`
	Doc       string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (userRow) TableName() string { return "paybot_users" }

type auditRow struct {
	ID     uint64    `gorm:"primaryKey;autoIncrement"`
	At     time.Time `gorm:"index;not null"`
	Tenant string
	UserID string
	Kind   string `gorm:"not null"`
	Detail string
	Meta   string
}

func (auditRow) TableName() string { return "paybot_audit" }

type dedupRow struct {
	Key   string    `gorm:"primaryKey"`
	Until time.Time `gorm:"not null"`
}

func (dedupRow) TableName() string { return "paybot_dedup" }

type postgresStore struct {
	db   *gorm.DB
	log  logx.Logger
	seed []string
}

func openPostgres(cfg Config, log logx.Logger) (*postgresStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &auditRow{}, &dedupRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresStore{db: db, log: log, seed: cfg.Tenants}, nil
}

func (s *postgresStore) ListTenants(ctx context.Context) ([]string, error) {
	var found []string
	if err := s.db.WithContext(ctx).Model(&userRow{}).Distinct().Pluck("tenant_id", &found).Error; err != nil {
		return nil, err
	}
	return mergeTenants(s.seed, found), nil
}

func (s *postgresStore) LoadUsersForTenant(ctx context.Context, tenant string) ([]domain.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		var u domain.User
		if err := json.Unmarshal([]byte(r.Doc), &u); err != nil {
			return nil, fmt.Errorf("decode user in tenant %s: %w", tenant, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *postgresStore) SaveUser(ctx context.Context, u *domain.User) error {
	if err := stamp(u, time.Now()); err != nil {
		return err
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"doc", "updated_at"}),
		}).
		Create(&userRow{TenantID: u.TenantID, ID: u.ID, Doc: string(doc), UpdatedAt: u.UpdatedAt}).Error
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&auditRow{
		At: e.At, Tenant: e.Tenant, UserID: e.UserID, Kind: e.Kind, Detail: e.Detail, Meta: e.MetaJSON,
	}).Error
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&dedupRow{Key: key, Until: until.UTC()}).Error
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var rows []dedupRow
	if err := s.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].Until, true, nil
}

func (s *postgresStore) Prune(ctx context.Context, now, auditBefore time.Time) (PruneReport, error) {
	var rep PruneReport
	res := s.db.WithContext(ctx).Where("until < ?", now.UTC()).Delete(&dedupRow{})
	if res.Error != nil {
		return rep, res.Error
	}
	rep.Dedup = res.RowsAffected
	if auditBefore.IsZero() {
		return rep, nil
	}
	res = s.db.WithContext(ctx).Where("at < ? AND kind <> ?", auditBefore.UTC(), KindLedgerTransaction).Delete(&auditRow{})
	if res.Error != nil {
		return rep, res.Error
	}
	rep.Audit = res.RowsAffected
	return rep, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from gorm DB: %w", err)
	}
	return sqlDB.Close()
}
