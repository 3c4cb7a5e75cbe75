package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"paybot/internal/domain"
)

type paymentRequest struct {
	Action string  `json:"action"`
	Target string  `json:"target"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note"`
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Pay creates one payment (or charge) per target. Results for targets sent
// before a failure are returned together with the error.
func (c *Client) Pay(ctx context.Context, accessToken string, in domain.PaymentInstruction) ([]domain.PaymentResult, error) {
	out := make([]domain.PaymentResult, 0, len(in.Targets))
	for _, target := range in.Targets {
		var resp paymentResponse
		req := paymentRequest{Action: string(in.Action), Target: target, Amount: in.Amount, Note: in.Note}
		if err := c.do(ctx, http.MethodPost, "payments", accessToken, req, &resp); err != nil {
			return out, fmt.Errorf("%w: %s @%s: %w", domain.ErrProvider, in.Action, target, err)
		}
		out = append(out, domain.PaymentResult{PaymentID: resp.ID, Target: target, Status: resp.Status})
	}
	return out, nil
}

// ExecuteAction approves, denies or cancels an existing payment.
func (c *Client) ExecuteAction(ctx context.Context, accessToken, paymentID string, action domain.Action) error {
	switch action {
	case domain.ActionApprove, domain.ActionDeny, domain.ActionCancel:
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrProvider, action)
	}
	body := map[string]string{"action": string(action)}
	if err := c.do(ctx, http.MethodPut, "payments/"+url.PathEscape(paymentID), accessToken, body, nil); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return nil
}

type actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type paymentItem struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Actor       actor     `json:"actor"`
	Amount      float64   `json:"amount"`
	Note        string    `json:"note"`
	DateCreated time.Time `json:"date_created"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// PendingCharges lists charges waiting for the user's approval as
// payment.created events.
func (c *Client) PendingCharges(ctx context.Context, accessToken string) ([]domain.ChargeEvent, error) {
	var resp listResponse[paymentItem]
	if err := c.do(ctx, http.MethodGet, "payments?status=pending", accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	out := make([]domain.ChargeEvent, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, domain.ChargeEvent{
			Type:          domain.EventPaymentCreated,
			PaymentID:     p.ID,
			Action:        domain.PaymentAction(p.Action),
			ActorID:       p.Actor.ID,
			ActorUsername: p.Actor.Username,
			Amount:        p.Amount,
			Note:          p.Note,
			CreatedAt:     p.DateCreated,
		})
	}
	return out, nil
}

type transactionItem struct {
	ID          string    `json:"id"`
	Target      actor     `json:"target"`
	Amount      float64   `json:"amount"`
	Note        string    `json:"note"`
	DateCreated time.Time `json:"date_created"`
}

// Transactions lists settled transactions created after since.
func (c *Client) Transactions(ctx context.Context, accessToken string, since time.Time) ([]domain.Transaction, error) {
	path := "transactions"
	if !since.IsZero() {
		path += "?after=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var resp listResponse[transactionItem]
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	out := make([]domain.Transaction, 0, len(resp.Data))
	for _, t := range resp.Data {
		out = append(out, domain.Transaction{
			ID:           t.ID,
			Counterparty: t.Target.Username,
			Amount:       t.Amount,
			Note:         t.Note,
			CreatedAt:    t.DateCreated,
		})
	}
	return out, nil
}
