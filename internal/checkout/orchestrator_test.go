package checkout

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/events"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway/razorpay"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/inventory"
	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payments"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store/dynamotest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
)

const (
	keySecret  = "rzp_secret"
	hookSecret = "rzp_hook"
)

type fakeRazorpayOrders struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRazorpayOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": "order_" + data["receipt"].(string), "amount": float64(data["amount"].(int64))}, nil
}

type fakeRazorpayPayments struct {
	payments map[string]map[string]interface{}
}

func (f *fakeRazorpayPayments) Fetch(id string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.New("BAD_REQUEST_ERROR: The id provided does not exist")
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type env struct {
	orch      *Orchestrator
	db        *dynamotest.DB
	carts     *cart.Service
	products  *inventory.Store
	orders    *orders.Store
	payments  *payments.Store
	tracking  *tracking.Store
	rzpOrders *fakeRazorpayOrders
	rzpPays   *fakeRazorpayPayments
	published *recordingPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dynamotest.New().
		CreateTable("products", "product_id", "").
		CreateTable("carts", "user_id", "").
		CreateTable("orders", "order_id", "").
		CreateIndex("orders", orders.UserIndex, "user_id", "created_at").
		CreateIndex("orders", orders.GatewayRefIndex, "gateway_order_ref", "").
		CreateTable("order_tracking", "order_id", "event_id").
		CreateTable("payments", "transaction_id", "").
		CreateTable("idempotency", "idempotency_key", "")

	products := inventory.NewStore(db, "products")
	cartStore := cart.NewStore(db, "carts")
	orderStore := orders.NewStore(db, "orders")
	trackingStore := tracking.NewStore(db, "order_tracking", orderStore)
	paymentStore := payments.NewStore(db, "payments")
	cartSvc := cart.NewService(cartStore, products, nil, zap.NewNop())

	rzpOrders := &fakeRazorpayOrders{}
	rzpPays := &fakeRazorpayPayments{payments: map[string]map[string]interface{}{}}
	guard := gateway.NewGuard("razorpay-test", time.Second, zap.NewNop())
	rzp := razorpay.NewWithAPI(rzpOrders, rzpPays, gateway.Credentials{
		APIKey: "rzp_key", Secret: keySecret, WebhookSecret: hookSecret, Currency: "INR",
	}, guard)

	pub := &recordingPublisher{}
	orch := New(Deps{
		DB:          db,
		Carts:       cartStore,
		CartCache:   cartSvc,
		Products:    products,
		Orders:      orderStore,
		Tracking:    trackingStore,
		Payments:    paymentStore,
		Idempotency: idempotency.NewStore(db, "idempotency", time.Hour),
		Gateways:    gateway.NewRegistry(rzp),
		Publisher:   pub,
		Pricing:     DefaultPricing(),
		Logger:      zap.NewNop(),
	})

	ctx := context.Background()
	require.NoError(t, products.Put(ctx, inventory.Product{ProductID: "mug", Name: "Mug", Price: money.New(100), Quantity: 10, IsActive: true}))
	require.NoError(t, products.Put(ctx, inventory.Product{ProductID: "last", Name: "Last one", Price: money.New(40), Quantity: 1, IsActive: true}))

	return &env{
		orch: orch, db: db, carts: cartSvc, products: products, orders: orderStore,
		payments: paymentStore, tracking: trackingStore,
		rzpOrders: rzpOrders, rzpPays: rzpPays, published: pub,
	}
}

var address = orders.Address{StreetAddress: "1 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001"}

func (e *env) fill(t *testing.T, user, product string, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), user, product, qty)
	require.NoError(t, err)
}

func (e *env) place(user string, method orders.PaymentMethod, key string) (*PlaceOrderResult, error) {
	return e.orch.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: user, ShippingAddress: address, PaymentMethod: method, IdempotencyKey: key,
	})
}

func (e *env) stock(t *testing.T, product string) int {
	t.Helper()
	p, err := e.products.Get(context.Background(), product)
	require.NoError(t, err)
	return p.Quantity
}

func (e *env) capture(paymentID, orderRef string, amountMinor int64, status string) {
	e.rzpPays.payments[paymentID] = map[string]interface{}{
		"id": paymentID, "order_id": orderRef, "amount": float64(amountMinor), "currency": "INR", "status": status,
	}
}

func TestPlaceOrderWorkedExample(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 2)

	res, err := e.place("u1", orders.MethodRazorpay, "")
	require.NoError(t, err)

	o := res.Order
	assert.True(t, o.Subtotal.Equal(money.New(200)))
	assert.True(t, o.ShippingFee.Equal(money.New(50)))
	assert.True(t, o.Total.Equal(money.New(250)))
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, o.OrderStatus)
	assert.Regexp(t, `^ORD-[0-9A-Z]{26}$`, o.OrderNumber)
	assert.Equal(t, address, o.BillingAddress)

	require.NotNil(t, res.Intent)
	assert.Equal(t, int64(25000), res.Intent.AmountMinor)
	assert.Equal(t, res.Intent.ID, o.GatewayOrderRef)

	assert.Equal(t, 8, e.stock(t, "mug"))
	v, err := e.carts.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, v.Items)

	stored, evs, err := e.orch.GetOrder(context.Background(), "u1", o.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(money.New(250)))
	require.Len(t, evs, 1)
	assert.Equal(t, orders.StatusProcessing, evs[0].Status)
	assert.Equal(t, tracking.PlacedDescription, evs[0].Description)

	assert.Equal(t, 1, e.published.count(events.OrderPlaced))
}

func TestPlaceOrderFreeShippingAboveThreshold(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 6)

	res, err := e.place("u1", orders.MethodCreditCard, "")
	require.NoError(t, err)
	assert.True(t, res.Order.ShippingFee.IsZero())
	assert.True(t, res.Order.Total.Equal(money.New(600)))
	assert.Nil(t, res.Intent)
	assert.Equal(t, orders.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, 0, e.rzpOrders.calls)
}

func TestPlaceOrderRejectsWithoutSideEffects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.place("u1", orders.MethodRazorpay, "")
	assert.ErrorIs(t, err, cart.ErrCartEmpty)

	_, err = e.orch.PlaceOrder(ctx, PlaceOrderInput{UserID: "u1", ShippingAddress: address, PaymentMethod: "cash"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	e.fill(t, "u1", "mug", 3)
	_, err = e.orch.PlaceOrder(ctx, PlaceOrderInput{UserID: "u1", ShippingAddress: orders.Address{City: "X"}, PaymentMethod: orders.MethodGPay})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// stock drops below the cart quantity after the item was added
	_, err = e.products.Adjust(ctx, "mug", -8)
	require.NoError(t, err)
	_, err = e.place("u1", orders.MethodRazorpay, "")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	assert.Equal(t, 0, e.rzpOrders.calls)
	assert.Equal(t, 0, e.db.Count("orders"))
	assert.Equal(t, 0, e.db.Count("order_tracking"))
	assert.Equal(t, 2, e.stock(t, "mug"))
	v, err := e.carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, v.Items, 1)
}

func TestPlaceOrderInactiveProduct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fill(t, "u1", "mug", 1)
	require.NoError(t, e.products.Put(ctx, inventory.Product{ProductID: "mug", Name: "Mug", Price: money.New(100), Quantity: 10}))

	_, err := e.place("u1", orders.MethodPayPal, "")
	assert.ErrorIs(t, err, inventory.ErrProductUnavailable)
	assert.Equal(t, 0, e.db.Count("orders"))
}

func TestPlaceOrderGatewayFailureIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 2)
	e.rzpOrders.err = errors.New("razorpay: 502 bad gateway")

	_, err := e.place("u1", orders.MethodRazorpay, "")
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, 0, e.db.Count("orders"))
	assert.Equal(t, 10, e.stock(t, "mug"))

	e.rzpOrders.err = nil
	_, err = e.place("u1", orders.MethodRazorpay, "")
	require.NoError(t, err)
}

func TestConcurrentOrdersForLastUnit(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "last", 1)
	e.fill(t, "u2", "last", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = e.place(user, orders.MethodCreditCard, "")
		}(i, user)
	}
	wg.Wait()

	succeeded := 0
	users := []string{"u1", "u2"}
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		v, err := e.carts.Get(context.Background(), users[i])
		require.NoError(t, err)
		require.Len(t, v.Items, 1)
		assert.Equal(t, "last", v.Items[0].ProductID)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, e.stock(t, "last"))
	assert.Equal(t, 1, e.db.Count("orders"))
}

func TestPlaceOrderLosesLastUnitToInFlightCheckout(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "last", 1)
	e.fill(t, "u2", "last", 1)

	// u1's transaction holds the product row while u2 commits, then wins
	e.db.ConflictNext(func() {
		_, err := e.place("u1", orders.MethodCreditCard, "")
		assert.NoError(t, err)
	}, "products", "last")

	_, err := e.place("u2", orders.MethodCreditCard, "")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 0, e.stock(t, "last"))
	assert.Equal(t, 1, e.db.Count("orders"))
	assert.Equal(t, 1, e.db.Count("order_tracking"))

	v, err := e.carts.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, v.Items, 1)
}

func TestPlaceOrderConflictWithStockLeftIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 2)
	e.db.ConflictNext(nil, "products", "mug")

	_, err := e.place("u1", orders.MethodCreditCard, "")
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, 0, e.db.Count("orders"))
	assert.Equal(t, 10, e.stock(t, "mug"))

	_, err = e.place("u1", orders.MethodCreditCard, "")
	require.NoError(t, err)
	assert.Equal(t, 8, e.stock(t, "mug"))
}

func TestPlaceOrderUsesCartPriceNotLivePrice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fill(t, "u1", "mug", 2)
	require.NoError(t, e.products.Put(ctx, inventory.Product{ProductID: "mug", Name: "Mug", Price: money.New(300), Quantity: 10, IsActive: true}))

	res, err := e.place("u1", orders.MethodRazorpay, "")
	require.NoError(t, err)
	assert.True(t, res.Order.Subtotal.Equal(money.New(200)))
	assert.True(t, res.Order.Total.Equal(money.New(250)))
	require.Len(t, res.Order.Items, 1)
	assert.True(t, res.Order.Items[0].Price.Equal(money.New(100)))
	assert.Equal(t, int64(25000), res.Intent.AmountMinor)
}

func TestPlaceOrderDuplicateIdempotencyKey(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 1)
	_, err := e.place("u1", orders.MethodCreditCard, "key-1")
	require.NoError(t, err)

	e.fill(t, "u1", "mug", 1)
	_, err = e.place("u1", orders.MethodCreditCard, "key-1")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, e.db.Count("orders"))
	assert.Equal(t, 9, e.stock(t, "mug"))
}

func TestPlacementErrorMapping(t *testing.T) {
	cancelled := func(codes ...string) error {
		reasons := make([]types.CancellationReason, len(codes))
		for i, c := range codes {
			reasons[i] = types.CancellationReason{Code: aws.String(c)}
		}
		return &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	assert.ErrorIs(t, placementError(cancelled("None", "None", "ConditionalCheckFailed", "None"), 1, false), cart.ErrCartChanged)
	assert.ErrorIs(t, placementError(cancelled("None", "None", "None", "None", "ConditionalCheckFailed"), 2, false), inventory.ErrInsufficientStock)
	assert.ErrorIs(t, placementError(cancelled("None", "None", "ConditionalCheckFailed", "None", "ConditionalCheckFailed"), 1, true), ErrDuplicateRequest)

	conflict := placementError(cancelled("None", "None", "None", "TransactionConflict", "None"), 2, false)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(conflict))
	assert.True(t, apperr.Retryable(conflict))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(placementError(errors.New("throttled"), 1, false)))
}

func TestPricingQuote(t *testing.T) {
	p := DefaultPricing()
	q := p.Quote(money.New(500))
	assert.True(t, q.ShippingFee.Equal(money.New(50)))
	assert.True(t, q.Total.Equal(money.New(550)))
	q = p.Quote(money.FromMinor(50001))
	assert.True(t, q.ShippingFee.IsZero())
}

func placeRazorpayOrder(t *testing.T, e *env) *orders.Order {
	t.Helper()
	e.fill(t, "u1", "mug", 2)
	res, err := e.place("u1", orders.MethodRazorpay, "")
	require.NoError(t, err)
	return res.Order
}

func verify(e *env, orderRef, paymentID, secret string) (*orders.Order, error) {
	return e.orch.VerifyPayment(context.Background(), VerifyPaymentInput{
		GatewayOrderRef:   orderRef,
		GatewayPaymentRef: paymentID,
		Signature:         razorpay.Sign(orderRef+"|"+paymentID, secret),
	})
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")

	got, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, "pay_1", got.GatewayPaymentID)

	again, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, again.PaymentStatus)

	assert.Equal(t, 1, e.db.Count("payments"))
	rec, err := e.payments.Get(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, rec.Status)
	assert.Equal(t, o.OrderID, rec.OrderID)
	assert.True(t, rec.Amount.Equal(money.New(250)))
	assert.Equal(t, 1, e.published.count(events.PaymentCompleted))
}

func TestVerifyPaymentWhileWebhookSettles(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")

	// the webhook's settlement holds the order row when verify commits
	e.db.ConflictNext(func() {
		assert.NoError(t, webhook(e, paymentWebhook("payment.captured", "pay_1", o.GatewayOrderRef, 25000), hookSecret))
	}, "orders", o.OrderID)

	got, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, 1, e.db.Count("payments"))
	assert.Equal(t, 1, e.published.count(events.PaymentCompleted))
}

func TestVerifyPaymentConflictWithoutSettlementIsRetryable(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")
	e.db.ConflictNext(nil, "orders", o.OrderID)

	_, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 0, e.db.Count("payments"))

	got, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, got.PaymentStatus)
}

func TestConcurrentVerifyAndWebhook(t *testing.T) {
	for i := 0; i < 20; i++ {
		e := newEnv(t)
		o := placeRazorpayOrder(t, e)
		e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")

		var wg sync.WaitGroup
		var verifyErr, hookErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, verifyErr = verify(e, o.GatewayOrderRef, "pay_1", keySecret)
		}()
		go func() {
			defer wg.Done()
			hookErr = webhook(e, paymentWebhook("payment.captured", "pay_1", o.GatewayOrderRef, 25000), hookSecret)
		}()
		wg.Wait()

		require.NoError(t, verifyErr)
		require.NoError(t, hookErr)
		assert.Equal(t, 1, e.db.Count("payments"))
		stored, err := e.orders.Get(context.Background(), o.OrderID)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentCompleted, stored.PaymentStatus)
		assert.Equal(t, 1, e.published.count(events.PaymentCompleted))
	}
}

func TestVerifyPaymentInvalidSignatureChangesNothing(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")

	_, err := verify(e, o.GatewayOrderRef, "pay_1", "not-the-secret")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))

	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 0, e.db.Count("payments"))
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	e := newEnv(t)
	e.capture("pay_1", "order_missing", 100, "captured")

	_, err := verify(e, "order_missing", "pay_1", keySecret)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.Equal(t, 0, e.db.Count("payments"))
}

func TestVerifyPaymentChecksGatewayState(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)

	e.capture("pay_failed", o.GatewayOrderRef, 25000, "failed")
	_, err := verify(e, o.GatewayOrderRef, "pay_failed", keySecret)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	e.capture("pay_other", "order_other", 25000, "captured")
	_, err = verify(e, o.GatewayOrderRef, "pay_other", keySecret)
	assert.ErrorIs(t, err, ErrPaymentOrderMismatch)

	e.capture("pay_short", o.GatewayOrderRef, 100, "captured")
	_, err = verify(e, o.GatewayOrderRef, "pay_short", keySecret)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	assert.Equal(t, 0, e.db.Count("payments"))
}

func webhook(e *env, body string, secret string) error {
	return e.orch.HandleGatewayWebhook(context.Background(), "razorpay", []byte(body), razorpay.Sign(body, secret))
}

func paymentWebhook(event, paymentID, orderRef string, amount int) string {
	return `{"event":"` + event + `","payload":{"payment":{"entity":{"id":"` + paymentID + `","order_id":"` + orderRef +
		`","amount":` + strconv.Itoa(amount) + `,"currency":"INR"}}}}`
}

func TestWebhookBeforeVerifyConverges(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")

	require.NoError(t, webhook(e, paymentWebhook("payment.captured", "pay_1", o.GatewayOrderRef, 25000), hookSecret))
	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, stored.PaymentStatus)

	got, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, got.PaymentStatus)

	// a replayed webhook is harmless too
	require.NoError(t, webhook(e, paymentWebhook("payment.captured", "pay_1", o.GatewayOrderRef, 25000), hookSecret))

	assert.Equal(t, 1, e.db.Count("payments"))
	assert.Equal(t, 1, e.published.count(events.PaymentCompleted))
}

func TestWebhookFailureNeverDowngradesSuccess(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)
	e.capture("pay_1", o.GatewayOrderRef, 25000, "captured")
	_, err := verify(e, o.GatewayOrderRef, "pay_1", keySecret)
	require.NoError(t, err)

	require.NoError(t, webhook(e, paymentWebhook("payment.failed", "pay_1", o.GatewayOrderRef, 25000), hookSecret))

	rec, err := e.payments.Get(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, rec.Status)
	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, stored.PaymentStatus)
}

func TestWebhookFailureThenRetrySucceeds(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)

	require.NoError(t, webhook(e, paymentWebhook("payment.failed", "pay_bad", o.GatewayOrderRef, 25000), hookSecret))
	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, stored.PaymentStatus)
	rec, err := e.payments.Get(context.Background(), "pay_bad")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, rec.Status)
	assert.Equal(t, 1, e.published.count(events.PaymentFailed))

	e.capture("pay_good", o.GatewayOrderRef, 25000, "captured")
	got, err := verify(e, o.GatewayOrderRef, "pay_good", keySecret)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, 2, e.db.Count("payments"))
}

func TestWebhookRejectsBadSignatureAndIgnoresUnknownEvents(t *testing.T) {
	e := newEnv(t)
	o := placeRazorpayOrder(t, e)

	err := webhook(e, paymentWebhook("payment.captured", "pay_1", o.GatewayOrderRef, 25000), "forged")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	assert.NoError(t, webhook(e, `{"event":"refund.processed","payload":{}}`, hookSecret))

	err = e.orch.HandleGatewayWebhook(context.Background(), "paypal", []byte(`{}`), "")
	assert.ErrorIs(t, err, gateway.ErrUnknownGateway)

	assert.Equal(t, 0, e.db.Count("payments"))
	stored, err := e.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, stored.PaymentStatus)
}

func TestWebhookForUnknownOrderKeepsPaymentRecord(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, webhook(e, paymentWebhook("payment.captured", "pay_orphan", "order_unknown", 9900), hookSecret))

	rec, err := e.payments.Get(context.Background(), "pay_orphan")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSuccess, rec.Status)
	assert.Empty(t, rec.OrderID)
	assert.True(t, rec.Amount.Equal(money.New(99)))
}

func TestUpdateOrderStatusAndOwnership(t *testing.T) {
	e := newEnv(t)
	e.fill(t, "u1", "mug", 1)
	res, err := e.place("u1", orders.MethodGPay, "")
	require.NoError(t, err)
	ctx := context.Background()

	o, err := e.orch.UpdateOrderStatus(ctx, res.Order.OrderID, orders.StatusShipped, "", "TRK-42")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, o.OrderStatus)
	assert.Equal(t, "TRK-42", o.TrackingNumber)
	assert.Equal(t, 1, e.published.count(events.OrderStatusChanged))

	_, evs, err := e.orch.GetOrder(ctx, "u1", o.OrderID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "Order status updated to shipped", evs[1].Description)

	_, _, err = e.orch.GetOrder(ctx, "u2", o.OrderID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = e.orch.UpdateOrderStatus(ctx, "missing", orders.StatusShipped, "", "")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	_, err = e.orch.UpdateOrderStatus(ctx, o.OrderID, orders.Status("teleported"), "", "")
	assert.ErrorIs(t, err, tracking.ErrInvalidStatus)

	list, err := e.orch.ListOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPublishFailureDoesNotFailPlacement(t *testing.T) {
	e := newEnv(t)
	e.published.err = errors.New("sqs unavailable")
	e.fill(t, "u1", "mug", 1)

	_, err := e.place("u1", orders.MethodCreditCard, "")
	require.NoError(t, err)
	assert.Equal(t, 1, e.db.Count("orders"))
}
