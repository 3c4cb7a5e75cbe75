package autopay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

// Approver executes an action on an existing provider payment.
type Approver interface {
	ExecuteAction(ctx context.Context, accessToken, paymentID string, action domain.Action) error
}

type Evaluator struct {
	approver Approver
	log      logx.Logger
}

func NewEvaluator(approver Approver, log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{approver: approver, log: log}
}

// Evaluate matches ev against rules and approves it when a rule clears.
// The winning rule's LastRun is set to now; if the approval fails it is put
// back and the error (wrapping domain.ErrProvider) is returned unmatched.
func (e *Evaluator) Evaluate(ctx context.Context, accessToken string, rules []domain.AutopayRule, ev domain.ChargeEvent, now time.Time) (bool, string, error) {
	d := Match(rules, ev, now)
	if !d.Matched {
		return false, d.Report, nil
	}
	r := &rules[d.Rule]
	prev := r.LastRun
	at := now.UTC()
	r.LastRun = &at

	if err := e.approver.ExecuteAction(ctx, accessToken, ev.PaymentID, domain.ActionApprove); err != nil {
		r.LastRun = prev
		if !errors.Is(err, domain.ErrProvider) {
			err = fmt.Errorf("%w: %w", domain.ErrProvider, err)
		}
		e.log.Warn("autopay approval failed", logx.String("payment", ev.PaymentID), logx.String("rule", r.ID), logx.Err(err))
		return false, d.Report + "\nApproval failed: " + err.Error(), err
	}
	e.log.Info("autopay approved", logx.String("payment", ev.PaymentID), logx.String("rule", r.ID), logx.Float64("amount", ev.Amount))
	return true, d.Report + fmt.Sprintf("\nApproved charge %s from @%s.", ev.PaymentID, ev.ActorUsername), nil
}
