package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"paybot/internal/domain"
)

type fakePayer struct {
	calls []domain.PaymentInstruction
	token string
	err   error
}

func (f *fakePayer) Pay(ctx context.Context, accessToken string, in domain.PaymentInstruction) ([]domain.PaymentResult, error) {
	f.calls = append(f.calls, in)
	f.token = accessToken
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.PaymentResult, 0, len(in.Targets))
	for _, t := range in.Targets {
		out = append(out, domain.PaymentResult{PaymentID: "p-" + t, Target: t, Status: "settled"})
	}
	return out, nil
}

// Wednesday 2024-05-01 10:00 UTC (06:00 in New York).
var wed = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newEngine(p Payer, now time.Time) *Engine {
	n := 0
	return New(p,
		WithClock(func() time.Time { return now }),
		WithIDFunc(func() string { n++; return fmt.Sprintf("s%d", n) }),
	)
}

func newUser() *domain.User {
	return &domain.User{ID: "u1", TenantID: "t1", Timezone: "America/New_York", Credential: domain.Credential{AccessToken: "tok"}}
}

func TestAddRejectsUnparseableCommand(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakePayer{}, wed)
	u := newUser()
	for _, raw := range []string{"every friday pay nobody", "every friday pay @bob 0 for x", "sometimes friday pay @bob 1 for x"} {
		if _, err := e.Add(u, raw, domain.VerbEvery, wed.Add(time.Hour)); !errors.Is(err, domain.ErrParse) {
			t.Fatalf("Add(%q) err = %v, want ErrParse", raw, err)
		}
	}
	if _, err := e.Add(u, "at day pay @bob 1 for x", domain.VerbAt, wed); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("Add with non-future instant err = %v", err)
	}
	if _, err := e.Add(u, "every friday pay @bob 1 for x", domain.VerbAt, wed.Add(time.Hour)); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("Add with mismatched verb err = %v", err)
	}
	if len(u.Schedules) != 0 {
		t.Fatalf("stored %d schedules, want 0", len(u.Schedules))
	}
}

func TestScheduleResolvesInOwnerZone(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakePayer{}, wed)
	u := newUser()
	s, err := e.Schedule(u, "every friday pay @bob $10 for lunch")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	want := time.Date(2024, 5, 3, 16, 0, 0, 0, time.UTC) // noon EDT
	if !s.NextExecution.Equal(want) || s.Verb != domain.VerbEvery || s.Token != "friday" {
		t.Fatalf("schedule = %+v", s)
	}
	if s.Instruction == nil || s.Instruction.Amount != 10 || s.InstructionVersion != 1 {
		t.Fatalf("structured instruction = %+v v%d", s.Instruction, s.InstructionVersion)
	}

	s, err = e.Schedule(u, "at 2024-06-01 10:00 pay @bob 5 for lunch")
	if err != nil {
		t.Fatalf("Schedule with date and time: %v", err)
	}
	if want := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC); !s.NextExecution.Equal(want) || s.Token != "2024-06-01 10:00" {
		t.Fatalf("dated schedule = %+v", s)
	}

	u.Timezone = ""
	if _, err := e.Schedule(u, "on day pay @bob 1 for x"); !errors.Is(err, domain.ErrIdentity) {
		t.Fatalf("missing zone err = %v", err)
	}
}

func TestListForAndDelete(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakePayer{}, wed)
	u := newUser()
	for _, raw := range []string{"every friday pay @bob 10 for lunch", "on the 15th charge @amy 5 for gas"} {
		if _, err := e.Schedule(u, raw); err != nil {
			t.Fatalf("Schedule(%q): %v", raw, err)
		}
	}

	lines := e.ListFor(u, "America/New_York")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[0] != "1. every friday pay @bob 10 for lunch (next: Fri May 3 2024 12:00 PM EDT)" {
		t.Fatalf("line 1 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2. on the 15th charge @amy 5 for gas (next: Wed May 15 2024") {
		t.Fatalf("line 2 = %q", lines[1])
	}
	if len(u.Schedules) != 2 {
		t.Fatal("ListFor must not mutate")
	}

	for _, idx := range []int{0, 3, -1} {
		if _, err := e.Delete(u, idx); !errors.Is(err, domain.ErrOutOfRange) {
			t.Fatalf("Delete(%d) err = %v", idx, err)
		}
	}
	removed, err := e.Delete(u, 1)
	if err != nil || removed.Token != "friday" {
		t.Fatalf("Delete(1) = %+v, %v", removed, err)
	}
	if len(u.Schedules) != 1 || u.Schedules[0].Token != "the 15th" {
		t.Fatalf("remaining = %+v", u.Schedules)
	}
}

func TestProcessDue(t *testing.T) {
	t.Parallel()

	p := &fakePayer{}
	e := newEngine(p, wed.Add(-48*time.Hour))
	u := newUser()
	mustSchedule := func(raw string) {
		t.Helper()
		if _, err := e.Schedule(u, raw); err != nil {
			t.Fatalf("Schedule(%q): %v", raw, err)
		}
	}
	// Both "day" schedules land on Tuesday noon; the month one on Wednesday noon.
	mustSchedule("at day pay @once 1 for one-time")
	mustSchedule("every day pay @daily 2 for recurring")
	mustSchedule("on beginning of the month pay @later 3 for later")

	execs, mutated := e.ProcessDue(context.Background(), u, wed)
	if !mutated || len(execs) != 2 {
		t.Fatalf("execs = %+v mutated = %v", execs, mutated)
	}
	if p.token != "tok" {
		t.Fatalf("payer got token %q", p.token)
	}
	if execs[0].Outcome != OutcomeCompleted || !execs[0].OK() || len(execs[0].Results) != 1 {
		t.Fatalf("one-time exec = %+v", execs[0])
	}
	wantNext := time.Date(2024, 5, 2, 16, 0, 0, 0, time.UTC)
	if execs[1].Outcome != OutcomeRescheduled || !execs[1].NextExecution.Equal(wantNext) {
		t.Fatalf("recurring exec = %+v", execs[1])
	}
	if len(u.Schedules) != 2 || u.Schedules[0].Token != "day" || u.Schedules[1].Token != "beginning of the month" {
		t.Fatalf("schedules after run = %+v", u.Schedules)
	}

	// Same now again: nothing left due.
	execs, mutated = e.ProcessDue(context.Background(), u, wed)
	if mutated || len(execs) != 0 || len(p.calls) != 2 {
		t.Fatalf("second run: execs=%d mutated=%v calls=%d", len(execs), mutated, len(p.calls))
	}
}

func TestProcessDueKeepsCorruptedCommand(t *testing.T) {
	t.Parallel()

	p := &fakePayer{}
	e := newEngine(p, wed)
	u := newUser()
	u.Schedules = []domain.Schedule{{ID: "bad", Verb: domain.VerbEvery, Token: "friday", CommandText: "every friday pay", NextExecution: wed.Add(-time.Minute)}}

	execs, mutated := e.ProcessDue(context.Background(), u, wed)
	if mutated || len(execs) != 0 || len(p.calls) != 0 || len(u.Schedules) != 1 {
		t.Fatalf("corrupted: execs=%v mutated=%v calls=%d schedules=%d", execs, mutated, len(p.calls), len(u.Schedules))
	}
}

func TestProcessDueReparsesStaleInstructionVersion(t *testing.T) {
	t.Parallel()

	p := &fakePayer{}
	e := newEngine(p, wed)
	u := newUser()
	u.Schedules = []domain.Schedule{{
		ID: "old", Verb: domain.VerbAt, Token: "day", CommandText: "at day pay @bob 7 for tea",
		NextExecution: wed, Instruction: &domain.PaymentInstruction{Amount: 999}, InstructionVersion: 0,
	}}
	if _, mutated := e.ProcessDue(context.Background(), u, wed); !mutated {
		t.Fatal("expected mutation")
	}
	if len(p.calls) != 1 || p.calls[0].Amount != 7 {
		t.Fatalf("calls = %+v", p.calls)
	}
}

func TestProcessDueDropsRecurringWithoutZone(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakePayer{}, wed)
	u := newUser()
	if _, err := e.Schedule(u, "every day pay @bob 1 for x"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	u.Timezone = ""

	execs, mutated := e.ProcessDue(context.Background(), u, wed.Add(48*time.Hour))
	if !mutated || len(execs) != 1 || execs[0].Outcome != OutcomeDropped || !errors.Is(execs[0].DropReason, domain.ErrIdentity) {
		t.Fatalf("execs = %+v", execs)
	}
	if len(u.Schedules) != 0 {
		t.Fatalf("schedule should be deleted, have %+v", u.Schedules)
	}
}

func TestProcessDueDropsRecurringLiteralDate(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakePayer{}, wed)
	u := newUser()
	if _, err := e.Schedule(u, "every 2024-05-02 pay @bob 1 for x"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	execs, _ := e.ProcessDue(context.Background(), u, wed.Add(48*time.Hour))
	if len(execs) != 1 || execs[0].Outcome != OutcomeDropped || !errors.Is(execs[0].DropReason, domain.ErrParse) {
		t.Fatalf("execs = %+v", execs)
	}
	if len(u.Schedules) != 0 {
		t.Fatal("literal-date recurrence must not repeat")
	}
}

func TestProcessDueProviderFailureStillAdvances(t *testing.T) {
	t.Parallel()

	p := &fakePayer{err: errors.New("insufficient funds")}
	e := newEngine(p, wed)
	u := newUser()
	if _, err := e.Schedule(u, "every day pay @bob 1 for x"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	execs, mutated := e.ProcessDue(context.Background(), u, wed.Add(30*time.Hour))
	if !mutated || len(execs) != 1 || !errors.Is(execs[0].Err, domain.ErrProvider) {
		t.Fatalf("execs = %+v", execs)
	}
	if execs[0].Outcome != OutcomeRescheduled || !u.Schedules[0].NextExecution.After(wed.Add(30*time.Hour)) {
		t.Fatalf("failed run should still advance: %+v", u.Schedules[0])
	}
}

func TestFallbackZone(t *testing.T) {
	t.Parallel()

	u := &domain.User{ID: "u"}
	if _, err := FallbackZone("")(u); !errors.Is(err, domain.ErrIdentity) {
		t.Fatalf("empty default: err = %v", err)
	}
	if tz, err := FallbackZone("Europe/Berlin")(u); err != nil || tz != "Europe/Berlin" {
		t.Fatalf("default = %q, %v", tz, err)
	}
	u.Timezone = "Asia/Tokyo"
	if tz, _ := FallbackZone("Europe/Berlin")(u); tz != "Asia/Tokyo" {
		t.Fatalf("profile zone = %q", tz)
	}
}
