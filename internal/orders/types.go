package orders

import (
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

type PaymentMethod string

const (
	MethodRazorpay   PaymentMethod = "razorpay"
	MethodStripe     PaymentMethod = "stripe"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodPayPal     PaymentMethod = "paypal"
	MethodGPay       PaymentMethod = "gpay"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodRazorpay, MethodStripe, MethodCreditCard, MethodPayPal, MethodGPay:
		return true
	}
	return false
}

// IsGateway reports whether payment is collected through a gateway intent
// created by this service.
func (m PaymentMethod) IsGateway() bool {
	return m == MethodRazorpay || m == MethodStripe
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type Address struct {
	AddressType   string `dynamodbav:"address_type,omitempty" json:"address_type,omitempty"`
	StreetAddress string `dynamodbav:"street_address" json:"street_address" validate:"required"`
	Landmark      string `dynamodbav:"landmark,omitempty" json:"landmark,omitempty"`
	City          string `dynamodbav:"city" json:"city" validate:"required"`
	State         string `dynamodbav:"state" json:"state" validate:"required"`
	PostalCode    string `dynamodbav:"postal_code" json:"postal_code" validate:"required"`
}

// LineItem is a cart line frozen into an order.
type LineItem struct {
	ProductID string       `dynamodbav:"product_id" json:"product_id"`
	Name      string       `dynamodbav:"name" json:"name"`
	Quantity  int          `dynamodbav:"quantity" json:"quantity"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID          string        `dynamodbav:"order_id" json:"order_id"` // PK
	OrderNumber      string        `dynamodbav:"order_number" json:"order_number"`
	UserID           string        `dynamodbav:"user_id" json:"user_id"` // GSI user_id-index
	Items            []LineItem    `dynamodbav:"items" json:"items"`
	ShippingAddress  Address       `dynamodbav:"shipping_address" json:"shipping_address"`
	BillingAddress   Address       `dynamodbav:"billing_address" json:"billing_address"`
	Subtotal         money.Amount  `dynamodbav:"subtotal" json:"subtotal"`
	ShippingFee      money.Amount  `dynamodbav:"shipping_fee" json:"shipping_fee"`
	Total            money.Amount  `dynamodbav:"total" json:"total"`
	Currency         string        `dynamodbav:"currency" json:"currency"`
	PaymentMethod    PaymentMethod `dynamodbav:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus `dynamodbav:"payment_status" json:"payment_status"`
	OrderStatus      Status        `dynamodbav:"order_status" json:"order_status"`
	TrackingNumber   string        `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	GatewayOrderRef  string        `dynamodbav:"gateway_order_ref,omitempty" json:"gateway_order_ref,omitempty"` // GSI gateway_order_ref-index
	GatewayPaymentID string        `dynamodbav:"gateway_payment_id,omitempty" json:"gateway_payment_id,omitempty"`
	GatewaySignature string        `dynamodbav:"gateway_signature,omitempty" json:"-"`
	CreatedAt        time.Time     `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `dynamodbav:"updated_at" json:"updated_at"`
}
