package autopay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paybot/internal/domain"
)

// RuleSpec is user input for a new rule. Comparison "" means any amount;
// Note "" means any note.
type RuleSpec struct {
	CounterpartyUsername string
	CounterpartyID       string
	Comparison           string
	Amount               float64
	Note                 string
}

// AddRule validates spec and appends a rule to u.
func AddRule(u *domain.User, spec RuleSpec, now time.Time) (domain.AutopayRule, error) {
	name := strings.TrimPrefix(strings.TrimSpace(spec.CounterpartyUsername), "@")
	id := strings.TrimSpace(spec.CounterpartyID)
	if name == "" || id == "" {
		return domain.AutopayRule{}, fmt.Errorf("%w: counterparty is required", domain.ErrParse)
	}
	r := domain.AutopayRule{
		ID:                   uuid.NewString(),
		CounterpartyUsername: name,
		CounterpartyID:       id,
		CreatedAt:            now.UTC(),
	}
	if c := strings.TrimSpace(spec.Comparison); c != "" {
		cmp, ok := domain.ParseComparison(c)
		if !ok {
			return domain.AutopayRule{}, fmt.Errorf("%w: unknown comparison %q (use =, < or <=)", domain.ErrParse, c)
		}
		if spec.Amount <= 0 {
			return domain.AutopayRule{}, fmt.Errorf("%w: amount must be positive", domain.ErrParse)
		}
		r.Comparison, r.Amount = &cmp, spec.Amount
	}
	if n := strings.TrimSpace(spec.Note); n != "" {
		r.Note = &n
	}
	u.AutopayRules = append(u.AutopayRules, r)
	return r, nil
}

// ListRules renders the user's rules as 1-based display lines.
func ListRules(u *domain.User) []string {
	lines := make([]string, 0, len(u.AutopayRules))
	for i, r := range u.AutopayRules {
		var b strings.Builder
		fmt.Fprintf(&b, "%d. @%s", i+1, r.CounterpartyUsername)
		if r.Comparison != nil {
			fmt.Fprintf(&b, " amount %s $%.2f", *r.Comparison, r.Amount)
		}
		if r.Note != nil {
			fmt.Fprintf(&b, " note %q", *r.Note)
		}
		if r.Comparison == nil && r.Note == nil {
			b.WriteString(" any charge")
		}
		lines = append(lines, b.String())
	}
	return lines
}

// DeleteRule removes the rule at 1-based index.
func DeleteRule(u *domain.User, index int) (domain.AutopayRule, error) {
	if index < 1 || index > len(u.AutopayRules) {
		return domain.AutopayRule{}, fmt.Errorf("%w: rule %d (have %d)", domain.ErrOutOfRange, index, len(u.AutopayRules))
	}
	removed := u.AutopayRules[index-1]
	u.AutopayRules = append(u.AutopayRules[:index-1:index-1], u.AutopayRules[index:]...)
	return removed, nil
}
