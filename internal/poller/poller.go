// Package poller runs one periodic sweep over every tenant's users.
//
// A Poller is generic over its Processor; the schedule, autopay and ledger
// pollers differ only in the processor and cadence they are built with.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"paybot/internal/domain"
	"paybot/internal/eventbus"
	logx "paybot/pkg/logx"
)

// Processor handles one user per sweep. Process reads the fresh access token
// from u.Credential and reports whether u must be saved.
type Processor interface {
	Name() string
	Wants(u *domain.User) bool
	Process(ctx context.Context, u *domain.User, now time.Time) (mutated bool, err error)
}

// TokenSource refreshes u.Credential in place. An empty token with a nil
// error means the user never linked an account.
type TokenSource interface {
	RefreshToken(ctx context.Context, u *domain.User) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, tenant, userID, text string) error
}

type Store interface {
	ListTenants(ctx context.Context) ([]string, error)
	LoadUsersForTenant(ctx context.Context, tenant string) ([]domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
}

const DefaultTokenFailureText = "I couldn't refresh your payment account login. Please link your account again; I'll keep retrying in the meantime."

// FailurePolicy controls the token-failure notice. By default a tenant+user
// pair is told once per process lifetime.
type FailurePolicy struct {
	// ResetOnSuccess forgets a pair after its next successful refresh, so a
	// new failure streak is announced again.
	ResetOnSuccess bool
	// Max bounds the remembered pairs; the oldest is forgotten first. 0 means 10000.
	Max  int
	Text string
}

type Options struct {
	Interval time.Duration
	Policy   FailurePolicy
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
}

type Poller struct {
	proc   Processor
	store  Store
	tokens TokenSource
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
	policy atomic.Pointer[FailurePolicy]

	interval atomic.Int64
	wake     chan struct{}

	// notified is only touched by the sweeping goroutine.
	notified *failureSet
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Tenants int
	Users   int
	Skipped int
	Failed  int
	Saved   int
	Took    time.Duration
}

func New(proc Processor, store Store, tokens TokenSource, notify Notifier, opt Options) *Poller {
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Interval <= 0 {
		opt.Interval = time.Minute
	}
	if opt.Policy.Text == "" {
		opt.Policy.Text = DefaultTokenFailureText
	}
	p := &Poller{
		proc:     proc,
		store:    store,
		tokens:   tokens,
		notify:   notify,
		bus:      opt.Bus,
		log:      opt.Log.With(logx.String("comp", "poller"), logx.String("poller", proc.Name())),
		now:      opt.Now,
		wake:     make(chan struct{}, 1),
		notified: newFailureSet(opt.Policy.Max),
	}
	p.interval.Store(int64(opt.Interval))
	p.policy.Store(&opt.Policy)
	return p
}

func (p *Poller) Name() string { return p.proc.Name() }

func (p *Poller) Interval() time.Duration { return time.Duration(p.interval.Load()) }

// SetInterval changes the sleep between sweeps. A sleeping Run picks the new
// value up immediately.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 || time.Duration(p.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SetPolicy updates the failure policy from the next sweep on. Remembered
// pairs are kept.
func (p *Poller) SetPolicy(fp FailurePolicy) {
	if fp.Text == "" {
		fp.Text = DefaultTokenFailureText
	}
	p.policy.Store(&fp)
}

// Run sweeps, sleeps and repeats until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.Sweep(ctx)

		started := time.Now()
		for {
			wait := p.Interval() - time.Since(started)
			if wait <= 0 {
				break
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-p.wake:
				t.Stop()
				continue
			case <-t.C:
			}
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Sweep makes one pass over all tenants and users. Failures are handled per
// user and never end the pass early; only ctx cancellation does.
func (p *Poller) Sweep(ctx context.Context) SweepStats {
	start := time.Now()
	var st SweepStats
	policy := *p.policy.Load()
	p.notified.setMax(policy.Max)

	tenants, err := p.store.ListTenants(ctx)
	if err != nil {
		p.log.Error("list tenants failed", logx.Err(err))
		return st
	}
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		st.Tenants++
		users, err := p.store.LoadUsersForTenant(ctx, tenant)
		if err != nil {
			p.log.Error("load users failed", logx.String("tenant", tenant), logx.Err(err))
			continue
		}
		for i := range users {
			if ctx.Err() != nil {
				break
			}
			u := &users[i]
			if !p.proc.Wants(u) {
				continue
			}
			st.Users++
			switch p.sweepUser(ctx, u, policy) {
			case resultSkipped:
				st.Skipped++
			case resultFailed:
				st.Failed++
			case resultSaved:
				st.Saved++
			}
		}
	}

	st.Took = time.Since(start)
	p.log.Debug("sweep done",
		logx.Int("tenants", st.Tenants),
		logx.Int("users", st.Users),
		logx.Int("saved", st.Saved),
		logx.Int("failed", st.Failed),
		logx.Duration("took", st.Took),
	)
	p.bus.Publish(eventbus.Event{
		Type: eventbus.TypePollerSweep,
		Data: map[string]any{
			"poller":  p.proc.Name(),
			"tenants": st.Tenants,
			"users":   st.Users,
			"saved":   st.Saved,
			"failed":  st.Failed,
			"took_ms": st.Took.Milliseconds(),
		},
	})
	return st
}

type userResult int

const (
	resultUnchanged userResult = iota
	resultSkipped
	resultFailed
	resultSaved
)

func (p *Poller) sweepUser(ctx context.Context, u *domain.User, policy FailurePolicy) userResult {
	key := u.Key()
	before := u.Credential

	token, err := p.tokens.RefreshToken(ctx, u)
	if err != nil {
		p.tokenFailed(ctx, u, key, policy.Text, err)
		return resultSkipped
	}
	if token == "" {
		return resultSkipped
	}
	if policy.ResetOnSuccess {
		p.notified.remove(key)
	}
	credChanged := credentialChanged(before, u.Credential)

	mutated, perr := p.proc.Process(ctx, u, p.now())
	if perr != nil {
		p.log.Warn("process failed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(perr))
	}
	if !mutated && !credChanged {
		if perr != nil {
			return resultFailed
		}
		return resultUnchanged
	}
	if err := p.store.SaveUser(ctx, u); err != nil {
		p.log.Error("save user failed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(err))
		return resultFailed
	}
	return resultSaved
}

func (p *Poller) tokenFailed(ctx context.Context, u *domain.User, key, text string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if !p.notified.add(key) {
		p.log.Debug("token refresh still failing", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(err))
		return
	}
	p.log.Warn("token refresh failed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(err))
	if nerr := p.notify.Notify(ctx, u.TenantID, u.ID, text); nerr != nil {
		p.log.Warn("notify failed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(nerr))
	}
}

func credentialChanged(a, b domain.Credential) bool {
	return a.AccessToken != b.AccessToken || a.RefreshToken != b.RefreshToken || !a.ExpiresAt.Equal(b.ExpiresAt)
}
