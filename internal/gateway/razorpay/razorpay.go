// Package razorpay adapts the Razorpay Orders/Payments API to gateway.Gateway.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	rzp "github.com/razorpay/razorpay-go"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Razorpay-Signature"

// receipts are limited to 40 characters by the API
const maxReceipt = 40

type OrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type PaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Gateway struct {
	orders   OrderAPI
	payments PaymentAPI
	creds    gateway.Credentials
	guard    *gateway.Guard
}

func New(creds gateway.Credentials, guard *gateway.Guard) *Gateway {
	client := rzp.NewClient(creds.APIKey, creds.Secret)
	return NewWithAPI(client.Order, client.Payment, creds, guard)
}

func NewWithAPI(orderAPI OrderAPI, paymentAPI PaymentAPI, creds gateway.Credentials, guard *gateway.Guard) *Gateway {
	return &Gateway{orders: orderAPI, payments: paymentAPI, creds: creds, guard: guard}
}

func (g *Gateway) Method() orders.PaymentMethod { return orders.MethodRazorpay }

// CreateIntent creates a Razorpay order for amountMinor paise.
func (g *Gateway) CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string) (*gateway.Intent, error) {
	if currency == "" {
		currency = g.creds.Currency
	}
	receipt := idempotencyKey
	if len(receipt) > maxReceipt {
		receipt = receipt[:maxReceipt]
	}
	data := map[string]interface{}{
		"amount":          amountMinor,
		"currency":        strings.ToUpper(currency),
		"receipt":         receipt,
		"payment_capture": 1,
	}

	resp, err := gateway.Execute(ctx, g.guard, func(context.Context) (map[string]interface{}, error) {
		return g.orders.Create(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}

	id, _ := resp["id"].(string)
	if id == "" {
		return nil, apperr.Unavailable("payment gateway error", fmt.Errorf("razorpay order response without id"))
	}
	return &gateway.Intent{
		Gateway:     orders.MethodRazorpay,
		ID:          id,
		AmountMinor: amountMinor,
		Currency:    strings.ToUpper(currency),
		KeyID:       g.creds.APIKey,
	}, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentRef string) (*gateway.PaymentDetails, error) {
	resp, err := gateway.Execute(ctx, g.guard, func(context.Context) (map[string]interface{}, error) {
		return g.payments.Fetch(paymentRef, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay fetch payment: %w", err)
	}
	return paymentDetails(resp)
}

func paymentDetails(entity map[string]interface{}) (*gateway.PaymentDetails, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode razorpay payment: %w", err)
	}
	status, _ := entity["status"].(string)
	d := &gateway.PaymentDetails{
		Status:      status,
		AmountMinor: toInt64(entity["amount"]),
		Succeeded:   status == "captured" || status == "authorized",
		Failed:      status == "failed",
		Raw:         raw,
	}
	d.ID, _ = entity["id"].(string)
	d.OrderRef, _ = entity["order_id"].(string)
	d.Currency, _ = entity["currency"].(string)
	return d, nil
}

// VerifyConfirmation checks the checkout handler signature over
// "<order id>|<payment id>".
func (g *Gateway) VerifyConfirmation(orderRef, paymentRef, signature string) error {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return gateway.ErrInvalidSignature
	}
	if !VerifySignature(orderRef+"|"+paymentRef, signature, g.creds.Secret) {
		return gateway.ErrInvalidSignature
	}
	return nil
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (g *Gateway) ParseWebhook(payload []byte, signatureHeader string) (*gateway.WebhookEvent, error) {
	if g.creds.WebhookSecret == "" || !VerifySignature(string(payload), signatureHeader, g.creds.WebhookSecret) {
		return nil, gateway.ErrInvalidSignature
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperr.Validation("malformed webhook payload")
	}

	ev := &gateway.WebhookEvent{Type: body.Event, Kind: gateway.WebhookIgnored, Raw: payload}
	switch body.Event {
	case "payment.captured", "order.paid":
		ev.Kind = gateway.WebhookPaymentSucceeded
	case "payment.failed":
		ev.Kind = gateway.WebhookPaymentFailed
	default:
		return ev, nil
	}

	entity := body.Payload.Payment.Entity
	ev.PaymentRef, _ = entity["id"].(string)
	ev.OrderRef, _ = entity["order_id"].(string)
	ev.Currency, _ = entity["currency"].(string)
	ev.AmountMinor = toInt64(entity["amount"])
	if ev.PaymentRef == "" {
		return nil, apperr.Validation("webhook payment without id")
	}
	return ev, nil
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// payload under secret. The comparison is constant-time.
func VerifySignature(payload, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
