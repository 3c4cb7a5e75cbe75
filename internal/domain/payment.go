package domain

import "time"

// PaymentAction is the direction of a payment instruction.
type PaymentAction string

const (
	PaymentPay    PaymentAction = "pay"
	PaymentCharge PaymentAction = "charge"
)

// Action is a verb applied to an existing provider payment.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
	ActionCancel  Action = "cancel"
)

// PaymentInstruction is the structured form of a "pay/charge" command.
type PaymentInstruction struct {
	Version int           `json:"version"`
	Action  PaymentAction `json:"action"`
	Targets []string      `json:"targets"`
	Amount  float64       `json:"amount"`
	Note    string        `json:"note"`
}

// PaymentResult is what the provider reports for a created payment.
type PaymentResult struct {
	PaymentID string `json:"payment_id"`
	Target    string `json:"target"`
	Status    string `json:"status"`
}

// EventPaymentCreated is the event type for "a charge was created".
const EventPaymentCreated = "payment.created"

// ChargeEvent is an incoming payment event evaluated against autopay rules.
type ChargeEvent struct {
	Type          string        `json:"type"`
	PaymentID     string        `json:"payment_id"`
	Action        PaymentAction `json:"action"`
	ActorID       string        `json:"actor_id"`
	ActorUsername string        `json:"actor_username"`
	Amount        float64       `json:"amount"`
	Note          string        `json:"note"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Transaction is a settled provider transaction fed to the ledger poller.
type Transaction struct {
	ID           string    `json:"id"`
	Counterparty string    `json:"counterparty"`
	Amount       float64   `json:"amount"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `json:"created_at"`
}
