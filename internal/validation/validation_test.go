package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

var home = Address{StreetAddress: "12 Park St", City: "Kolkata", State: "WB", PostalCode: "700016"}

func TestPlaceOrderRequest_Valid(t *testing.T) {
	v := New()

	req := PlaceOrderRequest{ShippingAddress: home, PaymentMethod: "razorpay"}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestPlaceOrderRequest_InvalidBillingAndMethod(t *testing.T) {
	v := New()

	req := PlaceOrderRequest{
		ShippingAddress: home,
		BillingAddress:  &Address{City: "Kolkata"},
		PaymentMethod:   "cash",
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for billing address and method, got nil")
	}
}

func TestVerifyPaymentRequest_SignatureRule(t *testing.T) {
	v := New()

	razorpay := VerifyPaymentRequest{OrderID: "order_1", PaymentID: "pay_1"}
	if err := v.Struct(razorpay); err == nil {
		t.Fatal("expected missing signature to fail for razorpay")
	}

	stripe := VerifyPaymentRequest{PaymentMethod: "stripe", OrderID: "pi_1", PaymentID: "pi_1"}
	if err := v.Struct(stripe); err != nil {
		t.Fatalf("expected stripe confirmation without signature to pass, got %v", err)
	}
}

func TestUpdateOrderStatusRequest_UnknownStatus(t *testing.T) {
	v := New()

	if err := v.Struct(UpdateOrderStatusRequest{Status: "lost"}); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	if err := v.Struct(UpdateOrderStatusRequest{Status: "shipped", TrackingNumber: "TRK1"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestBindAndValidate_WritesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(`{"product_id":"p1","quantity":0}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req AddCartItemRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"AddCartItemRequest.Quantity":"required"`) {
		t.Fatalf("expected field error in body, got %s", w.Body.String())
	}
}
