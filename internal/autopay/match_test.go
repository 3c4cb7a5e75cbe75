package autopay

import (
	"strings"
	"testing"
	"time"

	"paybot/internal/domain"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func cmpPtr(c domain.Comparison) *domain.Comparison { return &c }
func strPtr(s string) *string                       { return &s }
func timePtr(t time.Time) *time.Time                { return &t }

func charge(actor string, amount float64, note string) domain.ChargeEvent {
	return domain.ChargeEvent{
		Type: domain.EventPaymentCreated, PaymentID: "pay-1", Action: domain.PaymentCharge,
		ActorID: actor, ActorUsername: "user" + actor, Amount: amount, Note: note, CreatedAt: now,
	}
}

func TestMatchStrictLessThan(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{{CounterpartyID: "7", CounterpartyUsername: "amy", Comparison: cmpPtr(domain.CompareLess), Amount: 4.20}}

	if d := Match(rules, charge("7", 4.20, "x"), now); d.Matched {
		t.Fatalf("4.20 < 4.20 should not match: %+v", d)
	} else if !strings.Contains(d.Report, "requested amount was $4.20") {
		t.Fatalf("report = %q", d.Report)
	}
	if d := Match(rules, charge("7", 4.19, "x"), now); !d.Matched || d.Rule != 0 {
		t.Fatalf("4.19 should match: %+v", d)
	}
}

func TestMatchComparisons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cmp    domain.Comparison
		rule   float64
		charge float64
		want   bool
	}{
		{domain.CompareEqual, 10, 10, true},
		{domain.CompareEqual, 10, 10.01, false},
		{domain.CompareEqual, 0.3, 0.1 + 0.2, true},
		{domain.CompareLessEqual, 10, 10, true},
		{domain.CompareLessEqual, 10, 10.01, false},
		{domain.CompareLess, 10, 9.99, true},
	}
	for _, tc := range cases {
		rules := []domain.AutopayRule{{CounterpartyID: "7", Comparison: cmpPtr(tc.cmp), Amount: tc.rule}}
		if got := Match(rules, charge("7", tc.charge, ""), now).Matched; got != tc.want {
			t.Errorf("rule %s %.2f vs charge %.2f: matched=%v want %v", tc.cmp, tc.rule, tc.charge, got, tc.want)
		}
	}
}

func TestMatchNoteIsTrimmedCaseInsensitive(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{{CounterpartyID: "7", Note: strPtr("  Rent ")}}
	if !Match(rules, charge("7", 1200, "rent"), now).Matched {
		t.Fatal("note should match ignoring case and spaces")
	}
	d := Match(rules, charge("7", 1200, "utilities"), now)
	if d.Matched || !strings.Contains(d.Report, `note was "utilities"`) {
		t.Fatalf("decision = %+v", d)
	}
}

func TestMatchUnconditionalRuleAndOtherActors(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{{CounterpartyID: "7", CounterpartyUsername: "amy"}}
	if !Match(rules, charge("7", 99999, "anything"), now).Matched {
		t.Fatal("rule without conditions should match any charge from its counterparty")
	}
	d := Match(rules, charge("8", 1, "x"), now)
	if d.Matched || d.Rule != -1 || !strings.Contains(d.Report, "No autopay rule") {
		t.Fatalf("other actor decision = %+v", d)
	}
}

func TestMatchMismatchContinuesToLaterRule(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{
		{CounterpartyID: "7", Comparison: cmpPtr(domain.CompareEqual), Amount: 5},
		{CounterpartyID: "7", Note: strPtr("gas")},
	}
	d := Match(rules, charge("7", 6, "gas"), now)
	if !d.Matched || d.Rule != 1 {
		t.Fatalf("decision = %+v", d)
	}
	if !strings.Contains(d.Report, "Rule 1") || !strings.Contains(d.Report, "Rule 2") {
		t.Fatalf("report should explain both rules: %q", d.Report)
	}
}

// A rule inside its cooldown ends evaluation even though a later rule would
// match.
func TestMatchCooldownStopsEvaluation(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{
		{CounterpartyID: "7", CounterpartyUsername: "amy", LastRun: timePtr(now.Add(-3 * time.Minute))},
		{CounterpartyID: "7", CounterpartyUsername: "amy"},
	}
	d := Match(rules, charge("7", 10, "x"), now)
	if d.Matched || !d.Cooldown || d.Rule != 0 {
		t.Fatalf("decision = %+v", d)
	}
	if !strings.Contains(d.Report, "cooldown") || strings.Contains(d.Report, "Rule 2") {
		t.Fatalf("report = %q", d.Report)
	}

	// Exactly at the boundary is still suppressed; just past it is not.
	rules[0].LastRun = timePtr(now.Add(-Cooldown))
	if d := Match(rules, charge("7", 10, "x"), now); !d.Cooldown {
		t.Fatalf("lastRun+5m == now should be in cooldown: %+v", d)
	}
	rules[0].LastRun = timePtr(now.Add(-Cooldown - time.Second))
	if d := Match(rules, charge("7", 10, "x"), now); !d.Matched || d.Rule != 0 {
		t.Fatalf("expired cooldown should match: %+v", d)
	}
}

func TestMatchRejectsNonChargeEvents(t *testing.T) {
	t.Parallel()

	rules := []domain.AutopayRule{{CounterpartyID: "7"}}
	for _, ev := range []domain.ChargeEvent{
		{Type: "payment.updated", Action: domain.PaymentCharge, ActorID: "7"},
		{Type: domain.EventPaymentCreated, Action: domain.PaymentPay, ActorID: "7"},
	} {
		d := Match(rules, ev, now)
		if d.Matched || !d.Rejected || !strings.Contains(d.Report, "only new charges") {
			t.Fatalf("event %+v decision = %+v", ev, d)
		}
	}
}
