// Package checkout turns carts into orders and reconciles gateway payments
// with them. Every state change it makes is a single DynamoDB transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/events"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/inventory"
	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payments"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
)

var (
	ErrDuplicateRequest     = apperr.Conflict("duplicate request")
	ErrUnsupportedMethod    = apperr.Validation("unsupported payment method")
	ErrPaymentNotCompleted  = apperr.Conflict("payment not completed")
	ErrPaymentOrderMismatch = apperr.Integrity("payment does not belong to order")
	ErrAmountMismatch       = apperr.Integrity("payment amount does not match order total")
	ErrNotSettleable        = apperr.Conflict("order payment cannot be completed")
)

// CartInvalidator drops cached carts after checkout empties them.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type noInvalidation struct{}

func (noInvalidation) Invalidate(context.Context, string) {}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	DB          aws.DynamoDBAPI
	Carts       *cart.Store
	CartCache   CartInvalidator
	Products    *inventory.Store
	Orders      *orders.Store
	Tracking    *tracking.Store
	Payments    *payments.Store
	Idempotency *idempotency.Store
	Gateways    *gateway.Registry
	Publisher   events.Publisher
	Pricing     Pricing
	Logger      *zap.Logger
}

type Orchestrator struct {
	db          aws.DynamoDBAPI
	carts       *cart.Store
	cartCache   CartInvalidator
	products    *inventory.Store
	orders      *orders.Store
	tracking    *tracking.Store
	payments    *payments.Store
	idempotency *idempotency.Store
	gateways    *gateway.Registry
	publisher   events.Publisher
	pricing     Pricing
	logger      *zap.Logger
	validate    *validator.Validate
	newID       func() string
	nowFunc     func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Publisher == nil {
		d.Publisher = events.Discard{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.CartCache == nil {
		d.CartCache = noInvalidation{}
	}
	if d.Pricing.Currency == "" {
		d.Pricing.Currency = DefaultPricing().Currency
	}
	return &Orchestrator{
		db:          d.DB,
		carts:       d.Carts,
		cartCache:   d.CartCache,
		products:    d.Products,
		orders:      d.Orders,
		tracking:    d.Tracking,
		payments:    d.Payments,
		idempotency: d.Idempotency,
		gateways:    d.Gateways,
		publisher:   d.Publisher,
		pricing:     d.Pricing,
		logger:      d.Logger,
		validate:    validator.New(),
		newID:       uuid.NewString,
		nowFunc:     time.Now,
	}
}

type PlaceOrderInput struct {
	UserID          string
	ShippingAddress orders.Address
	BillingAddress  *orders.Address
	PaymentMethod   orders.PaymentMethod
	IdempotencyKey  string
}

type PlaceOrderResult struct {
	Order  *orders.Order
	Intent *gateway.Intent
}

// transaction layout of a placement, used to map cancellation reasons
const (
	txOrder = iota
	txTracking
	txCart
	txFirstProduct
)

// PlaceOrder converts the user's cart into an order. Stock, the emptied cart,
// the order and its first tracking event are committed together or not at
// all.
func (o *Orchestrator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if err := o.validatePlacement(in); err != nil {
		return nil, err
	}

	c, err := o.carts.Get(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if c.IsEmpty() {
		return nil, cart.ErrCartEmpty
	}
	if len(c.Items) > cart.MaxLines {
		return nil, cart.ErrTooManyItems
	}

	demand := demandByProduct(c.Items)
	if err := o.checkStock(ctx, demand); err != nil {
		return nil, err
	}

	lines := make([]orders.LineItem, 0, len(c.Items))
	subtotal := money.Zero
	for _, it := range c.Items {
		lines = append(lines, orders.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
		subtotal = subtotal.Add(it.LineTotal())
	}
	quote := o.pricing.Quote(subtotal)

	orderID := o.newID()
	intentKey := in.IdempotencyKey
	if intentKey == "" {
		intentKey = orderID
	}

	var intent *gateway.Intent
	if in.PaymentMethod.IsGateway() {
		gw, err := o.gateways.Get(in.PaymentMethod)
		if err != nil {
			return nil, err
		}
		intent, err = gw.CreateIntent(ctx, quote.Total.Minor(), o.pricing.Currency, intentKey)
		if err != nil {
			return nil, fmt.Errorf("place order: %w", err)
		}
	}

	billing := in.ShippingAddress
	if in.BillingAddress != nil {
		billing = *in.BillingAddress
	}
	order := &orders.Order{
		OrderID:         orderID,
		OrderNumber:     orders.NewOrderNumber(),
		UserID:          in.UserID,
		Items:           lines,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  billing,
		Subtotal:        quote.Subtotal,
		ShippingFee:     quote.ShippingFee,
		Total:           quote.Total,
		Currency:        o.pricing.Currency,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   orders.PaymentPending,
		OrderStatus:     orders.StatusProcessing,
	}
	if intent != nil {
		order.GatewayOrderRef = intent.ID
	}

	txItems, err := o.placementItems(order, c, demand, in)
	if err != nil {
		return nil, err
	}
	if _, err := o.db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: txItems}); err != nil {
		if intent != nil {
			o.logger.Warn("order commit failed after gateway intent was created",
				zap.String("order_id", orderID), zap.String("gateway_ref", intent.ID), zap.Error(err))
		}
		if codes, ok := store.CancellationCodes(err); ok && store.HasConflict(codes) {
			// another checkout holds one of the rows; if it took the last units
			// the answer is already known
			if serr := o.checkStock(ctx, demand); apperr.KindOf(serr) == apperr.KindConflict {
				return nil, serr
			}
		}
		return nil, placementError(err, len(demand), in.IdempotencyKey != "")
	}

	o.cartCache.Invalidate(ctx, in.UserID)
	o.logger.Info("order placed",
		zap.String("order_id", order.OrderID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.Total.String()),
	)

	ev := events.New(events.OrderPlaced)
	ev.OrderID, ev.OrderNumber, ev.UserID = order.OrderID, order.OrderNumber, order.UserID
	ev.PaymentMethod, ev.Status = string(order.PaymentMethod), string(order.PaymentStatus)
	ev.Amount, ev.Currency = order.Total, order.Currency
	o.publish(ctx, ev)

	return &PlaceOrderResult{Order: order, Intent: intent}, nil
}

func (o *Orchestrator) checkStock(ctx context.Context, demand []demandLine) error {
	for _, d := range demand {
		p, err := o.products.Get(ctx, d.productID)
		if err != nil {
			return fmt.Errorf("place order: %w", err)
		}
		if err := inventory.CheckAvailable(p, d.quantity); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) validatePlacement(in PlaceOrderInput) error {
	if in.UserID == "" {
		return apperr.Validation("user id is required")
	}
	if !in.PaymentMethod.Valid() {
		return ErrUnsupportedMethod
	}
	if err := o.validate.Struct(in.ShippingAddress); err != nil {
		return apperr.Validation("invalid shipping address: " + fieldList(err))
	}
	if in.BillingAddress != nil {
		if err := o.validate.Struct(in.BillingAddress); err != nil {
			return apperr.Validation("invalid billing address: " + fieldList(err))
		}
	}
	return nil
}

func fieldList(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	names := make([]string, 0, len(ve))
	for _, fe := range ve {
		names = append(names, fe.Field())
	}
	return strings.Join(names, ", ")
}

type demandLine struct {
	productID string
	quantity  int
}

// demandByProduct sums quantities per product in cart order. A transaction
// may touch each product row only once.
func demandByProduct(items []cart.Item) []demandLine {
	var out []demandLine
	index := map[string]int{}
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			out[i].quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, demandLine{productID: it.ProductID, quantity: it.Quantity})
	}
	return out
}

func (o *Orchestrator) placementItems(order *orders.Order, c *cart.Cart, demand []demandLine, in PlaceOrderInput) ([]types.TransactWriteItem, error) {
	orderPut, err := o.orders.PutItem(order)
	if err != nil {
		return nil, err
	}
	eventPut, _, err := o.tracking.EventItem(order.OrderID, orders.StatusProcessing, tracking.PlacedDescription)
	if err != nil {
		return nil, err
	}

	items := make([]types.TransactWriteItem, 0, txFirstProduct+len(demand)+1)
	items = append(items, orderPut, eventPut, o.carts.ClearItem(c))
	for _, d := range demand {
		items = append(items, o.products.DecrementItem(d.productID, d.quantity))
	}
	if in.IdempotencyKey != "" {
		idem, err := o.idempotency.CreateItem(in.IdempotencyKey, in.UserID, order.OrderID)
		if err != nil {
			return nil, err
		}
		items = append(items, idem)
	}
	return items, nil
}

func placementError(err error, lines int, withKey bool) error {
	codes, ok := store.CancellationCodes(err)
	if !ok {
		return fmt.Errorf("commit order: %w", err)
	}
	if withKey && store.ConditionFailedAt(codes, txFirstProduct+lines) {
		return ErrDuplicateRequest
	}
	for i := txFirstProduct; i < txFirstProduct+lines; i++ {
		if store.ConditionFailedAt(codes, i) {
			return inventory.ErrInsufficientStock
		}
	}
	if store.ConditionFailedAt(codes, txCart) {
		return cart.ErrCartChanged
	}
	if store.HasConflict(codes) {
		return apperr.Unavailable("order conflicted with a concurrent checkout", err)
	}
	return fmt.Errorf("commit order: %w", err)
}

type VerifyPaymentInput struct {
	PaymentMethod     orders.PaymentMethod
	GatewayOrderRef   string
	GatewayPaymentRef string
	Signature         string
}

// VerifyPayment settles an order from a client-reported gateway confirmation.
// Repeating a successful verification returns the settled order again.
func (o *Orchestrator) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*orders.Order, error) {
	if in.PaymentMethod == "" {
		in.PaymentMethod = orders.MethodRazorpay
	}
	if !in.PaymentMethod.IsGateway() {
		return nil, ErrUnsupportedMethod
	}
	gw, err := o.gateways.Get(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyConfirmation(in.GatewayOrderRef, in.GatewayPaymentRef, in.Signature); err != nil {
		o.logger.Warn("payment confirmation rejected",
			zap.String("gateway", string(in.PaymentMethod)),
			zap.String("gateway_order_ref", in.GatewayOrderRef))
		return nil, err
	}

	order, err := o.orders.FindByGatewayRef(ctx, in.GatewayOrderRef)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	details, err := gw.FetchPayment(ctx, in.GatewayPaymentRef)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if details.OrderRef != "" && details.OrderRef != in.GatewayOrderRef {
		return nil, ErrPaymentOrderMismatch
	}
	if !details.Succeeded {
		return nil, ErrPaymentNotCompleted
	}
	if details.AmountMinor != 0 && details.AmountMinor != order.Total.Minor() {
		return nil, ErrAmountMismatch
	}

	settled, changed, err := o.settle(ctx, order, in.GatewayPaymentRef, in.Signature, string(details.Raw))
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if changed {
		o.paymentEvent(ctx, events.PaymentCompleted, settled, in.GatewayPaymentRef)
	}
	return settled, nil
}

// settle completes payment of order with the gateway transaction paymentRef.
// It reports whether the order changed; settling a completed order only makes
// sure its payment record exists.
func (o *Orchestrator) settle(ctx context.Context, order *orders.Order, paymentRef, signature, raw string) (*orders.Order, bool, error) {
	rec := payments.Record{
		TransactionID:   paymentRef,
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		Amount:          order.Total,
		Currency:        order.Currency,
		PaymentMethod:   order.PaymentMethod,
		GatewayResponse: raw,
	}

	if order.PaymentStatus == orders.PaymentCompleted {
		if err := o.payments.RecordSuccess(ctx, rec); err != nil {
			return nil, false, err
		}
		return order, false, nil
	}

	recItem, err := o.payments.SuccessItem(rec)
	if err != nil {
		return nil, false, err
	}
	_, err = o.db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			o.orders.SettleItem(order.OrderID, paymentRef, signature),
			recItem,
		},
	})
	if err != nil {
		codes, ok := store.CancellationCodes(err)
		conflict := ok && store.HasConflict(codes)
		if !ok || !(store.ConditionFailedAt(codes, 0) || conflict) {
			return nil, false, fmt.Errorf("settle payment: %w", err)
		}
		// the order moved since it was read, or is being moved; settled
		// concurrently or refunded
		current, gerr := o.orders.Get(ctx, order.OrderID)
		if gerr != nil {
			return nil, false, gerr
		}
		if current.PaymentStatus != orders.PaymentCompleted {
			if conflict {
				return nil, false, apperr.Unavailable("payment settlement conflicted with a concurrent update", err)
			}
			return nil, false, ErrNotSettleable
		}
		if err := o.payments.RecordSuccess(ctx, rec); err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	settled, err := o.orders.Get(ctx, order.OrderID)
	if err != nil {
		return nil, false, err
	}
	o.logger.Info("payment settled",
		zap.String("order_id", settled.OrderID),
		zap.String("transaction_id", paymentRef),
		zap.String("gateway", string(settled.PaymentMethod)))
	return settled, true, nil
}

// HandleGatewayWebhook authenticates and applies a gateway notification. It
// converges with VerifyPayment whichever arrives first.
func (o *Orchestrator) HandleGatewayWebhook(ctx context.Context, gatewayName string, payload []byte, signatureHeader string) error {
	method := orders.PaymentMethod(strings.ToLower(gatewayName))
	if !method.IsGateway() {
		return gateway.ErrUnknownGateway
	}
	gw, err := o.gateways.Get(method)
	if err != nil {
		return err
	}
	ev, err := gw.ParseWebhook(payload, signatureHeader)
	if err != nil {
		o.logger.Warn("webhook rejected", zap.String("gateway", string(method)), zap.Error(err))
		return err
	}

	log := o.logger.With(
		zap.String("gateway", string(method)),
		zap.String("event_type", ev.Type),
		zap.String("payment_ref", ev.PaymentRef),
		zap.String("gateway_order_ref", ev.OrderRef),
	)

	switch ev.Kind {
	case gateway.WebhookPaymentSucceeded:
		return o.webhookSucceeded(ctx, method, ev, log)
	case gateway.WebhookPaymentFailed:
		return o.webhookFailed(ctx, method, ev, log)
	default:
		log.Debug("webhook event ignored")
		return nil
	}
}

func (o *Orchestrator) webhookSucceeded(ctx context.Context, method orders.PaymentMethod, ev *gateway.WebhookEvent, log *zap.Logger) error {
	order, err := o.orders.FindByGatewayRef(ctx, ev.OrderRef)
	if errors.Is(err, orders.ErrOrderNotFound) {
		// keep the money trail even when no order matches yet
		log.Warn("payment succeeded for unknown order")
		return o.payments.RecordSuccess(ctx, o.webhookRecord(method, ev, nil))
	}
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if ev.AmountMinor != 0 && ev.AmountMinor != order.Total.Minor() {
		log.Warn("webhook amount differs from order total",
			zap.Int64("amount", ev.AmountMinor), zap.Int64("expected", order.Total.Minor()))
		return ErrAmountMismatch
	}

	settled, changed, err := o.settle(ctx, order, ev.PaymentRef, "", string(ev.Raw))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if changed {
		o.paymentEvent(ctx, events.PaymentCompleted, settled, ev.PaymentRef)
	}
	return nil
}

func (o *Orchestrator) webhookFailed(ctx context.Context, method orders.PaymentMethod, ev *gateway.WebhookEvent, log *zap.Logger) error {
	order, err := o.orders.FindByGatewayRef(ctx, ev.OrderRef)
	if err != nil && !errors.Is(err, orders.ErrOrderNotFound) {
		return fmt.Errorf("webhook: %w", err)
	}
	if err != nil {
		order = nil
	}

	applied, err := o.payments.RecordFailure(ctx, o.webhookRecord(method, ev, order))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if !applied {
		log.Info("payment failure ignored; transaction already succeeded")
		return nil
	}
	if order == nil || order.PaymentStatus != orders.PaymentPending {
		return nil
	}

	err = o.orders.UpdatePaymentStatus(ctx, order.OrderID, orders.PaymentPending, orders.PaymentFailed)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	order.PaymentStatus = orders.PaymentFailed
	o.paymentEvent(ctx, events.PaymentFailed, order, ev.PaymentRef)
	return nil
}

func (o *Orchestrator) webhookRecord(method orders.PaymentMethod, ev *gateway.WebhookEvent, order *orders.Order) payments.Record {
	rec := payments.Record{
		TransactionID:   ev.PaymentRef,
		Amount:          money.FromMinor(ev.AmountMinor),
		Currency:        strings.ToUpper(ev.Currency),
		PaymentMethod:   method,
		GatewayResponse: string(ev.Raw),
	}
	if order != nil {
		rec.OrderID = order.OrderID
		rec.UserID = order.UserID
		rec.Amount = order.Total
		rec.Currency = order.Currency
	}
	return rec
}

// UpdateOrderStatus records a fulfilment transition. The order and its
// tracking log change together.
func (o *Orchestrator) UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status, description, trackingNumber string) (*orders.Order, error) {
	if _, err := o.tracking.Append(ctx, orderID, status, description, trackingNumber); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ev := events.New(events.OrderStatusChanged)
	ev.OrderID, ev.OrderNumber, ev.UserID = order.OrderID, order.OrderNumber, order.UserID
	ev.Status, ev.PaymentMethod = string(order.OrderStatus), string(order.PaymentMethod)
	ev.Amount, ev.Currency = order.Total, order.Currency
	o.publish(ctx, ev)
	return order, nil
}

// GetOrder returns an order with its tracking log. A non-empty userID scopes
// the lookup to that user's orders.
func (o *Orchestrator) GetOrder(ctx context.Context, userID, orderID string) (*orders.Order, []tracking.Event, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, nil, orders.ErrOrderNotFound
	}
	evs, err := o.tracking.List(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, evs, nil
}

func (o *Orchestrator) ListOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	return o.orders.ListByUser(ctx, userID)
}

func (o *Orchestrator) paymentEvent(ctx context.Context, t events.Type, order *orders.Order, txID string) {
	ev := events.New(t)
	ev.OrderID, ev.OrderNumber, ev.UserID = order.OrderID, order.OrderNumber, order.UserID
	ev.PaymentMethod, ev.TransactionID, ev.Status = string(order.PaymentMethod), txID, string(order.PaymentStatus)
	ev.Amount, ev.Currency = order.Total, order.Currency
	o.publish(ctx, ev)
}

// publish is best effort: the state change it reports is already committed.
func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn("event publish failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}
