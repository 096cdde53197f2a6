// Package events defines the domain events emitted after a local commit.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

type Type string

const (
	OrderPlaced        Type = "order.placed"
	PaymentCompleted   Type = "payment.completed"
	PaymentFailed      Type = "payment.failed"
	OrderStatusChanged Type = "order.status_changed"
)

// Event is the JSON body sent to the order events queue.
type Event struct {
	ID            string       `json:"event_id"`
	Type          Type         `json:"type"`
	OrderID       string       `json:"order_id,omitempty"`
	OrderNumber   string       `json:"order_number,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Status        string       `json:"status,omitempty"`
	Amount        money.Amount `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// New stamps an event with an id and the current time.
func New(t Type) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event. Used when no queue is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
