package autopay

import (
	"context"
	"fmt"
	"time"

	"paybot/internal/domain"
	"paybot/internal/eventbus"
	"paybot/internal/notifier"
	logx "paybot/pkg/logx"
)

// ChargeSource lists charges awaiting the user's approval.
type ChargeSource interface {
	PendingCharges(ctx context.Context, accessToken string) ([]domain.ChargeEvent, error)
}

type Notifier interface {
	Notify(ctx context.Context, tenant, userID, text string) error
}

// Processor plugs the evaluator into a poller.
type Processor struct {
	eval    *Evaluator
	charges ChargeSource
	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger
}

func NewProcessor(eval *Evaluator, charges ChargeSource, notify Notifier, bus eventbus.Bus, log logx.Logger) *Processor {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{eval: eval, charges: charges, notify: notify, bus: bus, log: log}
}

func (p *Processor) Name() string { return "autopay" }

func (p *Processor) Wants(u *domain.User) bool { return len(u.AutopayRules) > 0 }

// Process evaluates every pending charge. Only approvals, approval failures
// and cooldown hits are sent to the user; plain mismatches are logged.
func (p *Processor) Process(ctx context.Context, u *domain.User, now time.Time) (bool, error) {
	token := u.Credential.AccessToken
	pending, err := p.charges.PendingCharges(ctx, token)
	if err != nil {
		return false, fmt.Errorf("pending charges: %w", err)
	}
	log := p.log.With(logx.String("tenant", u.TenantID), logx.String("user", u.ID))

	mutated := false
	for _, ev := range pending {
		d := Match(u.AutopayRules, ev, now)
		matched, report, err := p.eval.Evaluate(ctx, token, u.AutopayRules, ev, now)

		var typ string
		switch {
		case matched:
			mutated = true
			typ = eventbus.TypeAutopayApproved
		case err != nil:
			typ = eventbus.TypeAutopayFailed
		case d.Cooldown:
			typ = eventbus.TypeAutopayCooldown
		default:
			log.Debug("charge not auto-approved", logx.String("payment", ev.PaymentID), logx.String("report", report))
			continue
		}

		// Cooldown notices repeat every sweep and stay text-deduplicated.
		nctx := ctx
		if typ != eventbus.TypeAutopayCooldown {
			nctx = notifier.WithItem(ctx, "payment:"+ev.PaymentID+":"+typ)
		}
		if nerr := p.notify.Notify(nctx, u.TenantID, u.ID, report); nerr != nil {
			log.Warn("notify failed", logx.Err(nerr))
		}
		data := map[string]any{"payment": ev.PaymentID, "amount": ev.Amount, "actor": ev.ActorUsername}
		if err != nil {
			data["err"] = err.Error()
		}
		p.bus.Publish(eventbus.Event{Type: typ, Tenant: u.TenantID, UserID: u.ID, Data: data})
	}
	return mutated, nil
}
