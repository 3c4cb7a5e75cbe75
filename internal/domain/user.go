package domain

import (
	"strings"
	"time"
)

// User owns schedules, autopay rules and an upstream credential within one tenant.
//
// The JSON shape is the persisted document shape; every storage driver must
// round-trip it unchanged.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Username string `json:"username,omitempty"`
	// Timezone is the owner's IANA zone. Empty means the profile is gone.
	Timezone string `json:"timezone,omitempty"`

	Credential Credential `json:"credential"`

	Schedules    []Schedule    `json:"schedules,omitempty"`
	AutopayRules []AutopayRule `json:"autopay_rules,omitempty"`
	Ledger       *LedgerLink   `json:"ledger,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential is owned by the token-refresh collaborator.
type Credential struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Empty reports whether no credential has been stored yet.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.RefreshToken) == ""
}

// LedgerLink ties a user to an external budgeting ledger.
type LedgerLink struct {
	Account string `json:"account"`
	// Cursor is the creation time of the newest transaction already synced.
	Cursor time.Time `json:"cursor,omitempty"`
	// SeenAtCursor holds the ids already synced whose creation time equals
	// Cursor, so late arrivals sharing that instant are still picked up.
	SeenAtCursor []string `json:"seen_at_cursor,omitempty"`
}

// Key identifies a user across tenants.
func (u *User) Key() string { return u.TenantID + "/" + u.ID }
