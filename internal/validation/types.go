package validation

import "github.com/imrishuroy/go-storefront-orderflow/internal/orders"

// Address is a shipping or billing address as sent by the client.
type Address struct {
	AddressType   string `json:"address_type,omitempty"`
	StreetAddress string `json:"street_address" validate:"required"`
	Landmark      string `json:"landmark,omitempty"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state" validate:"required"`
	PostalCode    string `json:"postal_code" validate:"required"`
}

func (a Address) ToOrder() orders.Address {
	return orders.Address{
		AddressType:   a.AddressType,
		StreetAddress: a.StreetAddress,
		Landmark:      a.Landmark,
		City:          a.City,
		State:         a.State,
		PostalCode:    a.PostalCode,
	}
}

// PlaceOrderRequest is the payload for POST /api/orders. Billing defaults to
// the shipping address.
type PlaceOrderRequest struct {
	ShippingAddress Address  `json:"shipping_address" validate:"required"`
	BillingAddress  *Address `json:"billing_address,omitempty" validate:"omitempty"`
	PaymentMethod   string   `json:"payment_method" validate:"required,oneof=razorpay stripe credit_card paypal gpay"`
}

// VerifyPaymentRequest is the payload for POST /api/orders/verify-payment.
// payment_method defaults to razorpay.
type VerifyPaymentRequest struct {
	PaymentMethod string `json:"payment_method,omitempty" validate:"omitempty,oneof=razorpay stripe"`
	OrderID       string `json:"order_id" validate:"required"`   // gateway order ref
	PaymentID     string `json:"payment_id" validate:"required"` // gateway payment ref
	Signature     string `json:"signature"`
}

// UpdateOrderStatusRequest is the payload for PUT /api/orders/:id.
type UpdateOrderStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=processing shipped delivered cancelled"`
	Description    string `json:"description,omitempty" validate:"max=500"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=100"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type WishlistRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}
