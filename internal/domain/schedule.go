package domain

import "time"

// RecurrenceVerb decides what happens to a schedule after it runs.
type RecurrenceVerb string

const (
	VerbEvery RecurrenceVerb = "every"
	VerbAt    RecurrenceVerb = "at"
	VerbOn    RecurrenceVerb = "on"
)

// ParseVerb maps a lower-case word to a verb.
func ParseVerb(s string) (RecurrenceVerb, bool) {
	switch RecurrenceVerb(s) {
	case VerbEvery, VerbAt, VerbOn:
		return RecurrenceVerb(s), true
	}
	return "", false
}

// Schedule is a stored recurring or one-time payment command.
type Schedule struct {
	ID   string         `json:"id"`
	Verb RecurrenceVerb `json:"verb"`
	// Token is the recurrence token as written by the user ("friday", "15", ...).
	Token         string    `json:"token"`
	NextExecution time.Time `json:"next_execution"`
	CommandText   string    `json:"command_text"`

	// Instruction is the parsed form of CommandText at store time. It is only
	// trusted when InstructionVersion matches the running parser version.
	Instruction        *PaymentInstruction `json:"instruction,omitempty"`
	InstructionVersion int                 `json:"instruction_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsRecurring reports whether the schedule survives execution.
func (s Schedule) IsRecurring() bool { return s.Verb == VerbEvery }

// Due reports whether the schedule should run at now.
func (s Schedule) Due(now time.Time) bool { return !s.NextExecution.After(now) }
