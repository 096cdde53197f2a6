// Package gateway defines the contract checkout uses to talk to external
// payment processors, and the guard every outbound call runs through.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

var (
	ErrInvalidSignature = apperr.Integrity("invalid signature")
	ErrUnknownGateway   = apperr.Validation("unsupported payment gateway")
)

// Credentials configure one gateway adapter.
type Credentials struct {
	APIKey        string `yaml:"api_key" env:"API_KEY"`
	Secret        string `yaml:"secret" env:"SECRET"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	Currency      string `yaml:"currency" env:"CURRENCY" env-default:"INR"`
}

// Intent is what the client needs to complete payment with the gateway.
type Intent struct {
	Gateway      orders.PaymentMethod `json:"gateway"`
	ID           string               `json:"id"` // gateway order or PaymentIntent id
	AmountMinor  int64                `json:"amount"`
	Currency     string               `json:"currency"`
	ClientSecret string               `json:"client_secret,omitempty"`
	KeyID        string               `json:"key_id,omitempty"`
}

// PaymentDetails is the gateway's server-side view of a payment.
type PaymentDetails struct {
	ID          string
	OrderRef    string // empty when the gateway does not report one
	AmountMinor int64
	Currency    string
	Status      string // raw gateway status
	Succeeded   bool
	Failed      bool
	Raw         json.RawMessage
}

type WebhookKind string

const (
	WebhookPaymentSucceeded WebhookKind = "payment.succeeded"
	WebhookPaymentFailed    WebhookKind = "payment.failed"
	// WebhookIgnored covers event types this service does not act on.
	WebhookIgnored WebhookKind = "ignored"
)

// WebhookEvent is an authenticated gateway notification.
type WebhookEvent struct {
	Kind        WebhookKind
	Type        string // gateway event type, e.g. "payment.captured"
	PaymentRef  string
	OrderRef    string
	AmountMinor int64
	Currency    string
	Raw         json.RawMessage
}

// Gateway is a payment processor adapter.
type Gateway interface {
	Method() orders.PaymentMethod
	CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string) (*Intent, error)
	FetchPayment(ctx context.Context, paymentRef string) (*PaymentDetails, error)
	// VerifyConfirmation checks a client-reported confirmation. It performs no
	// I/O; a nil result still requires FetchPayment before money is trusted.
	VerifyConfirmation(orderRef, paymentRef, signature string) error
	// ParseWebhook authenticates and decodes a raw webhook body.
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// Registry maps payment methods to adapters.
type Registry struct {
	gateways map[orders.PaymentMethod]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[orders.PaymentMethod]Gateway, len(gws))}
	for _, g := range gws {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(m orders.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, m)
	}
	return g, nil
}
