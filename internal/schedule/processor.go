package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paybot/internal/command"
	"paybot/internal/domain"
	"paybot/internal/eventbus"
	"paybot/internal/notifier"
	logx "paybot/pkg/logx"
)

type Notifier interface {
	Notify(ctx context.Context, tenant, userID, text string) error
}

// Processor plugs the engine into a poller.
type Processor struct {
	engine *Engine
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
}

func NewProcessor(engine *Engine, notify Notifier, bus eventbus.Bus, log logx.Logger) *Processor {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{engine: engine, notify: notify, bus: bus, log: log}
}

func (p *Processor) Name() string { return "schedule" }

func (p *Processor) Wants(u *domain.User) bool { return len(u.Schedules) > 0 }

func (p *Processor) Process(ctx context.Context, u *domain.User, now time.Time) (bool, error) {
	execs, mutated := p.engine.ProcessDue(ctx, u, now)
	for _, ex := range execs {
		item := "schedule:" + ex.ScheduleID + "@" + ex.DueAt.UTC().Format(time.RFC3339)
		if err := p.notify.Notify(notifier.WithItem(ctx, item), u.TenantID, u.ID, ExecutionText(ex)); err != nil {
			p.log.Warn("notify failed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Err(err))
		}
		typ := eventbus.TypeScheduleExecuted
		if ex.Outcome == OutcomeDropped {
			typ = eventbus.TypeScheduleDropped
		}
		data := map[string]any{
			"schedule": ex.ScheduleID,
			"outcome":  string(ex.Outcome),
			"ok":       ex.OK(),
			"amount":   ex.Instruction.Amount,
		}
		if ex.Err != nil {
			data["err"] = ex.Err.Error()
		}
		p.bus.Publish(eventbus.Event{Type: typ, Tenant: u.TenantID, UserID: u.ID, Data: data})
	}
	return mutated, nil
}

// ExecutionText is the chat message sent to the owner after a run.
func ExecutionText(ex Execution) string {
	var b strings.Builder
	cmd := command.Render(ex.Instruction)
	if ex.Err != nil {
		fmt.Fprintf(&b, "Scheduled payment failed: %s\n%v", cmd, ex.Err)
	} else {
		fmt.Fprintf(&b, "Scheduled payment sent: %s", cmd)
	}
	switch ex.Outcome {
	case OutcomeRescheduled:
		fmt.Fprintf(&b, "\nNext run: %s", ex.NextExecution.Format(time.RFC1123))
	case OutcomeDropped:
		b.WriteString("\nThis schedule could not be rescheduled and was removed.")
	}
	return b.String()
}
