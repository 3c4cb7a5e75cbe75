package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"paybot/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNoUser   = errors.New("user has no tenant or id")
)

type Config struct {
	Driver      string
	Path        string
	DSN         string
	Database    string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Tenants are always listed, even before any of their users is saved.
	Tenants []string
}

// AuditEntry records something the engine did on behalf of a user.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Tenant   string    `json:"tenant,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

// KindLedgerTransaction marks audit rows that mirror synced ledger
// transactions. Prune never removes them.
const KindLedgerTransaction = "ledger.transaction"

type PruneReport struct {
	Dedup int64
	Audit int64
}

// Store is the persistence API used by the pollers and the app.
//
// Users come back in a stable order (by id). Writes are last-write-wins per
// user; pollers running concurrently must tolerate that.
type Store interface {
	ListTenants(ctx context.Context) ([]string, error)
	LoadUsersForTenant(ctx context.Context, tenant string) ([]domain.User, error)
	// SaveUser upserts u and stamps UpdatedAt (and CreatedAt when zero).
	SaveUser(ctx context.Context, u *domain.User) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	// Prune drops expired dedup keys and audit rows older than auditBefore,
	// except KindLedgerTransaction rows. A zero auditBefore keeps all audit rows.
	Prune(ctx context.Context, now, auditBefore time.Time) (PruneReport, error)
	Close() error
}

func stamp(u *domain.User, now time.Time) error {
	if u == nil || u.TenantID == "" || u.ID == "" {
		return ErrNoUser
	}
	now = now.UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// mergeTenants returns seed ∪ found, sorted and deduplicated.
func mergeTenants(seed, found []string) []string {
	set := make(map[string]struct{}, len(seed)+len(found))
	for _, list := range [][]string{seed, found} {
		for _, t := range list {
			if t != "" {
				set[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
