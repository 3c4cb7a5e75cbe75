package domain

import "time"

// Comparison is the optional amount condition of an autopay rule.
type Comparison string

const (
	CompareEqual     Comparison = "="
	CompareLess      Comparison = "<"
	CompareLessEqual Comparison = "<="
)

// ParseComparison accepts the three supported operators.
func ParseComparison(s string) (Comparison, bool) {
	switch Comparison(s) {
	case CompareEqual, CompareLess, CompareLessEqual:
		return Comparison(s), true
	}
	return "", false
}

// AutopayRule is a stored conditional auto-approval policy.
//
// List order is display order, not priority.
type AutopayRule struct {
	ID                   string      `json:"id"`
	CounterpartyUsername string      `json:"counterparty_username"`
	CounterpartyID       string      `json:"counterparty_id"`
	Comparison           *Comparison `json:"comparison,omitempty"`
	Amount               float64     `json:"amount,omitempty"`
	Note                 *string     `json:"note,omitempty"`
	LastRun              *time.Time  `json:"last_run,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
}
