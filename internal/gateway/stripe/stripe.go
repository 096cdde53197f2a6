// Package stripe adapts Stripe PaymentIntents to gateway.Gateway. The
// PaymentIntent id serves as both the order and the payment reference.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

const SignatureHeader = "Stripe-Signature"

type IntentAPI interface {
	New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Get(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
}

type Gateway struct {
	intents IntentAPI
	creds   gateway.Credentials
	guard   *gateway.Guard
}

func New(creds gateway.Credentials, guard *gateway.Guard) *Gateway {
	sc := &client.API{}
	sc.Init(creds.Secret, nil)
	return NewWithAPI(sc.PaymentIntents, creds, guard)
}

func NewWithAPI(intents IntentAPI, creds gateway.Credentials, guard *gateway.Guard) *Gateway {
	return &Gateway{intents: intents, creds: creds, guard: guard}
}

func (g *Gateway) Method() orders.PaymentMethod { return orders.MethodStripe }

func (g *Gateway) CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string) (*gateway.Intent, error) {
	if currency == "" {
		currency = g.creds.Currency
	}
	currency = strings.ToLower(currency)

	pi, err := gateway.Execute(ctx, g.guard, func(ctx context.Context) (*stripeapi.PaymentIntent, error) {
		params := &stripeapi.PaymentIntentParams{
			Params:   stripeapi.Params{Context: ctx},
			Amount:   stripeapi.Int64(amountMinor),
			Currency: stripeapi.String(currency),
			AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripeapi.Bool(true),
			},
		}
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
			params.AddMetadata("idempotency_key", idempotencyKey)
		}
		return g.intents.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &gateway.Intent{
		Gateway:      orders.MethodStripe,
		ID:           pi.ID,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentRef string) (*gateway.PaymentDetails, error) {
	pi, err := gateway.Execute(ctx, g.guard, func(ctx context.Context) (*stripeapi.PaymentIntent, error) {
		return g.intents.Get(paymentRef, &stripeapi.PaymentIntentParams{Params: stripeapi.Params{Context: ctx}})
	})
	if err != nil {
		return nil, fmt.Errorf("stripe fetch payment intent: %w", err)
	}
	return details(pi)
}

func details(pi *stripeapi.PaymentIntent) (*gateway.PaymentDetails, error) {
	raw, err := json.Marshal(pi)
	if err != nil {
		return nil, fmt.Errorf("encode payment intent: %w", err)
	}
	return &gateway.PaymentDetails{
		ID:          pi.ID,
		OrderRef:    pi.ID,
		AmountMinor: pi.Amount,
		Currency:    string(pi.Currency),
		Status:      string(pi.Status),
		Succeeded:   pi.Status == stripeapi.PaymentIntentStatusSucceeded,
		Failed:      pi.Status == stripeapi.PaymentIntentStatusCanceled || pi.LastPaymentError != nil,
		Raw:         raw,
	}, nil
}

// VerifyConfirmation accepts a confirmation only when it names a single
// PaymentIntent. Stripe has no client-side signature; the payment is proven
// by FetchPayment.
func (g *Gateway) VerifyConfirmation(orderRef, paymentRef, _ string) error {
	if orderRef == "" || orderRef != paymentRef || !strings.HasPrefix(paymentRef, "pi_") {
		return gateway.ErrInvalidSignature
	}
	return nil
}

func (g *Gateway) ParseWebhook(payload []byte, signatureHeader string) (*gateway.WebhookEvent, error) {
	if g.creds.WebhookSecret == "" {
		return nil, gateway.ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.creds.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
	}

	ev := &gateway.WebhookEvent{Type: string(event.Type), Kind: gateway.WebhookIgnored, Raw: payload}
	switch event.Type {
	case "payment_intent.succeeded":
		ev.Kind = gateway.WebhookPaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		ev.Kind = gateway.WebhookPaymentFailed
	default:
		return ev, nil
	}

	var pi stripeapi.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &pi) != nil || pi.ID == "" {
		return nil, apperr.Validation("malformed webhook payload")
	}
	ev.PaymentRef = pi.ID
	ev.OrderRef = pi.ID
	ev.AmountMinor = pi.Amount
	ev.Currency = string(pi.Currency)
	return ev, nil
}

// VerifySignature reports whether header is a valid Stripe-Signature for
// payload under secret.
func VerifySignature(payload []byte, header, secret string) bool {
	err := webhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	return err == nil
}
