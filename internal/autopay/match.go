// Package autopay decides whether an incoming charge is approved automatically
// by one of the user's rules.
package autopay

import (
	"fmt"
	"math"
	"strings"
	"time"

	"paybot/internal/domain"
)

// Cooldown is how long a rule stays suppressed after it approved a charge.
const Cooldown = 5 * time.Minute

// Decision is the outcome of matching one event against a rule list.
type Decision struct {
	Matched bool
	// Rule is the index of the rule that matched or hit its cooldown; -1 otherwise.
	Rule     int
	Cooldown bool
	// Rejected means the event is not a new charge and no rule was consulted.
	Rejected bool
	Report   string
}

// Match evaluates rules in list order without side effects.
//
// Amount and note mismatches are explained and evaluation moves on. A rule
// that matches while inside its cooldown ends evaluation unmatched: later
// rules are not consulted even if they would match.
func Match(rules []domain.AutopayRule, ev domain.ChargeEvent, now time.Time) Decision {
	if ev.Type != domain.EventPaymentCreated || ev.Action != domain.PaymentCharge {
		return Decision{Rule: -1, Rejected: true, Report: fmt.Sprintf("Ignored %s/%s event: only new charges are checked against autopay rules.", ev.Type, ev.Action)}
	}

	var report []string
	for i, r := range rules {
		if r.CounterpartyID != ev.ActorID {
			continue
		}
		who := "@" + r.CounterpartyUsername
		if r.Comparison != nil && !compare(*r.Comparison, r.Amount, ev.Amount) {
			report = append(report, fmt.Sprintf("Rule %d for %s didn't match because requested amount was $%.2f (rule: %s $%.2f).", i+1, who, ev.Amount, *r.Comparison, r.Amount))
			continue
		}
		if r.Note != nil && !strings.EqualFold(strings.TrimSpace(*r.Note), strings.TrimSpace(ev.Note)) {
			report = append(report, fmt.Sprintf("Rule %d for %s didn't match because the note was %q (rule: %q).", i+1, who, ev.Note, *r.Note))
			continue
		}
		if r.LastRun != nil && !r.LastRun.Add(Cooldown).Before(now) {
			report = append(report, fmt.Sprintf("Rule %d for %s matched but already ran at %s; waiting out the %s cooldown.", i+1, who, r.LastRun.UTC().Format(time.RFC3339), Cooldown))
			return Decision{Rule: i, Cooldown: true, Report: strings.Join(report, "\n")}
		}
		report = append(report, fmt.Sprintf("Rule %d for %s matched the $%.2f charge for %q.", i+1, who, ev.Amount, ev.Note))
		return Decision{Matched: true, Rule: i, Report: strings.Join(report, "\n")}
	}
	if len(report) == 0 {
		report = append(report, fmt.Sprintf("No autopay rule covers charges from @%s.", ev.ActorUsername))
	}
	return Decision{Rule: -1, Report: strings.Join(report, "\n")}
}

// compare applies cmp as "rule amount <cmp-side> charge": "<" holds when the
// rule amount is greater than the charge. Amounts compare in whole cents.
func compare(cmp domain.Comparison, rule, charge float64) bool {
	r, c := cents(rule), cents(charge)
	switch cmp {
	case domain.CompareEqual:
		return r == c
	case domain.CompareLess:
		return r > c
	case domain.CompareLessEqual:
		return r >= c
	}
	return false
}

func cents(v float64) int64 { return int64(math.Round(v * 100)) }
