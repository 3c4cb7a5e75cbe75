// Package schedule owns the lifecycle of stored payment commands: adding,
// listing, deleting and executing them when they come due.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paybot/internal/calendar"
	"paybot/internal/command"
	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

// Payer executes a payment instruction with the user's access token.
type Payer interface {
	Pay(ctx context.Context, accessToken string, in domain.PaymentInstruction) ([]domain.PaymentResult, error)
}

// ZoneFunc returns the owner's IANA timezone for recurrence recompute.
type ZoneFunc func(u *domain.User) (string, error)

// ProfileZone reads the timezone stored on the user profile.
func ProfileZone(u *domain.User) (string, error) {
	if tz := strings.TrimSpace(u.Timezone); tz != "" {
		return tz, nil
	}
	return "", fmt.Errorf("%w: user %s has no timezone", domain.ErrIdentity, u.ID)
}

// FallbackZone is ProfileZone with def used for users without a timezone.
// An empty def behaves exactly like ProfileZone.
func FallbackZone(def string) ZoneFunc {
	def = strings.TrimSpace(def)
	return func(u *domain.User) (string, error) {
		tz, err := ProfileZone(u)
		if err != nil && def != "" {
			return def, nil
		}
		return tz, err
	}
}

type Outcome string

const (
	// OutcomeCompleted: one-time schedule ran and was removed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRescheduled: recurring schedule ran and got a new NextExecution.
	OutcomeRescheduled Outcome = "rescheduled"
	// OutcomeDropped: recurring schedule ran but could not be recomputed.
	OutcomeDropped Outcome = "dropped"
)

// Execution reports one due schedule that was run.
type Execution struct {
	ScheduleID    string
	DueAt         time.Time
	CommandText   string
	Instruction   domain.PaymentInstruction
	Results       []domain.PaymentResult
	Err           error // provider failure, wraps domain.ErrProvider
	Outcome       Outcome
	DropReason    error
	NextExecution time.Time
}

func (e Execution) OK() bool { return e.Err == nil }

type Engine struct {
	payer Payer
	zone  ZoneFunc
	log   logx.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }
func WithZoneFunc(fn ZoneFunc) Option   { return func(e *Engine) { e.zone = fn } }
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}
func WithIDFunc(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

func New(payer Payer, opts ...Option) *Engine {
	e := &Engine{
		payer: payer,
		zone:  ProfileZone,
		log:   logx.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Add stores a schedule for rawCommand ("every friday pay @bob 10 for lunch").
// The embedded instruction must parse and verb must be the one rawCommand
// starts with; nothing is stored otherwise.
func (e *Engine) Add(u *domain.User, rawCommand string, verb domain.RecurrenceVerb, at time.Time) (domain.Schedule, error) {
	sc, err := command.ParseScheduled(rawCommand)
	if err != nil {
		return domain.Schedule{}, err
	}
	if verb != sc.Verb {
		return domain.Schedule{}, fmt.Errorf("%w: verb %q does not match command %q", domain.ErrParse, verb, sc.Verb)
	}
	now := e.now()
	if !at.After(now) {
		return domain.Schedule{}, fmt.Errorf("%w: %s is not in the future", domain.ErrParse, at.UTC().Format(time.RFC3339))
	}
	in := sc.Instruction
	s := domain.Schedule{
		ID:                 e.newID(),
		Verb:               verb,
		Token:              sc.Token,
		NextExecution:      at.UTC(),
		CommandText:        strings.TrimSpace(rawCommand),
		Instruction:        &in,
		InstructionVersion: command.Version,
		CreatedAt:          now.UTC(),
	}
	u.Schedules = append(u.Schedules, s)
	return s, nil
}

// Schedule resolves the recurrence token of rawCommand in the owner's zone
// and adds it.
func (e *Engine) Schedule(u *domain.User, rawCommand string) (domain.Schedule, error) {
	sc, err := command.ParseScheduled(rawCommand)
	if err != nil {
		return domain.Schedule{}, err
	}
	tz, err := e.zone(u)
	if err != nil {
		return domain.Schedule{}, err
	}
	at, err := calendar.Resolve(sc.Token, tz, e.now())
	if err != nil {
		return domain.Schedule{}, err
	}
	return e.Add(u, rawCommand, sc.Verb, at)
}

// ListFor renders the user's schedules as 1-based display lines in timeZone.
// An unknown zone falls back to UTC.
func (e *Engine) ListFor(u *domain.User, timeZone string) []string {
	loc, err := calendar.LoadZone(timeZone)
	if err != nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(u.Schedules))
	for i, s := range u.Schedules {
		lines = append(lines, fmt.Sprintf("%d. %s (next: %s)", i+1, s.CommandText, s.NextExecution.In(loc).Format("Mon Jan 2 2006 3:04 PM MST")))
	}
	return lines
}

// Delete removes the schedule at 1-based index.
func (e *Engine) Delete(u *domain.User, index int) (domain.Schedule, error) {
	if index < 1 || index > len(u.Schedules) {
		return domain.Schedule{}, fmt.Errorf("%w: schedule %d (have %d)", domain.ErrOutOfRange, index, len(u.Schedules))
	}
	removed := u.Schedules[index-1]
	u.Schedules = append(u.Schedules[:index-1:index-1], u.Schedules[index:]...)
	return removed, nil
}

// ProcessDue runs every schedule due at now and reports whether u changed.
//
// A stored command that no longer parses is logged and kept untouched. After
// running, one-time schedules are removed and recurring ones recomputed from
// the token embedded in their command; a recompute that fails (missing zone,
// token no longer resolving forward) removes the schedule.
func (e *Engine) ProcessDue(ctx context.Context, u *domain.User, now time.Time) ([]Execution, bool) {
	log := e.log.With(logx.String("tenant", u.TenantID), logx.String("user", u.ID))

	var (
		execs   []Execution
		mutated bool
		kept    = make([]domain.Schedule, 0, len(u.Schedules))
	)
	for _, s := range u.Schedules {
		if !s.Due(now) {
			kept = append(kept, s)
			continue
		}
		in, err := instruction(s)
		if err != nil {
			log.Warn("stored schedule no longer parses; skipping", logx.String("schedule", s.ID), logx.Err(err))
			kept = append(kept, s)
			continue
		}

		ex := Execution{ScheduleID: s.ID, DueAt: s.NextExecution, CommandText: s.CommandText, Instruction: in}
		ex.Results, ex.Err = e.payer.Pay(ctx, u.Credential.AccessToken, in)
		if ex.Err != nil && !errors.Is(ex.Err, domain.ErrProvider) {
			ex.Err = fmt.Errorf("%w: %w", domain.ErrProvider, ex.Err)
		}
		mutated = true

		if !s.IsRecurring() {
			ex.Outcome = OutcomeCompleted
			execs = append(execs, ex)
			continue
		}
		next, err := e.recompute(u, s, now)
		if err != nil {
			ex.Outcome, ex.DropReason = OutcomeDropped, err
			log.Info("recurring schedule dropped", logx.String("schedule", s.ID), logx.Err(err))
			execs = append(execs, ex)
			continue
		}
		s.NextExecution = next
		ex.Outcome, ex.NextExecution = OutcomeRescheduled, next
		kept = append(kept, s)
		execs = append(execs, ex)
	}
	if mutated {
		u.Schedules = kept
	}
	return execs, mutated
}

func (e *Engine) recompute(u *domain.User, s domain.Schedule, now time.Time) (time.Time, error) {
	tz, err := e.zone(u)
	if err != nil {
		if !errors.Is(err, domain.ErrIdentity) {
			err = fmt.Errorf("%w: %w", domain.ErrIdentity, err)
		}
		return time.Time{}, err
	}
	token, err := command.Token(s.CommandText)
	if err != nil {
		token = s.Token
	}
	next, err := calendar.Resolve(token, tz, now)
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(now) {
		return time.Time{}, fmt.Errorf("%w: token %q no longer resolves past %s", domain.ErrParse, token, now.UTC().Format(time.RFC3339))
	}
	return next.UTC(), nil
}

// instruction returns the stored structured instruction when it was produced
// by the running parser version, else re-parses the command text.
func instruction(s domain.Schedule) (domain.PaymentInstruction, error) {
	if s.Instruction != nil && s.InstructionVersion == command.Version {
		return *s.Instruction, nil
	}
	sc, err := command.ParseScheduled(s.CommandText)
	if err != nil {
		return domain.PaymentInstruction{}, err
	}
	return sc.Instruction, nil
}
