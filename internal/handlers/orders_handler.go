package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/auth"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

type placeOrderResponse struct {
	Order        *orders.Order   `json:"order"`
	GatewayOrder *gateway.Intent `json:"gateway_order,omitempty"`
}

type orderDetailResponse struct {
	Order    *orders.Order    `json:"order"`
	Tracking []tracking.Event `json:"tracking"`
}

func registerOrdersRoutes(rg *gin.RouterGroup, h *handler) {
	rg.POST("/orders", h.placeOrder)
	rg.GET("/orders", h.listOrders)
	rg.GET("/orders/:id", h.getOrder)
	rg.PUT("/orders/:id", auth.RequireAdmin(), h.updateOrderStatus)
	rg.POST("/orders/verify-payment", h.verifyPayment)
}

func (h *handler) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	idempKey := c.GetHeader(idempotencyHeader)
	if idempKey != "" && h.replay(c, idempKey, userID) {
		return
	}

	in := checkout.PlaceOrderInput{
		UserID:          userID,
		ShippingAddress: req.ShippingAddress.ToOrder(),
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		IdempotencyKey:  idempKey,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.ToOrder()
		in.BillingAddress = &billing
	}

	res, err := h.cfg.Checkout.PlaceOrder(ctx, in)
	if errors.Is(err, checkout.ErrDuplicateRequest) && h.replay(c, idempKey, userID) {
		// a concurrent request with the same key committed first
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := placeOrderResponse{Order: res.Order, GatewayOrder: res.Intent}
	body, err := json.Marshal(resp)
	if err != nil {
		if idempKey != "" {
			if merr := h.cfg.Idempotency.MarkFailed(ctx, idempKey, fmt.Sprintf("encode_response_failed: %v", err)); merr != nil {
				h.logger.Warn("mark idempotency failed", zap.String("idempotency_key", idempKey), zap.Error(merr))
			}
		}
		respondError(c, h.logger, fmt.Errorf("encode order response: %w", err))
		return
	}
	if idempKey != "" {
		if err := h.cfg.Idempotency.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
			h.logger.Warn("store idempotent response", zap.String("idempotency_key", idempKey), zap.Error(err))
		}
	}

	c.Header("Location", "/api/orders/"+res.Order.OrderID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a request whose Idempotency-Key was already used. It reports
// whether a response was written.
func (h *handler) replay(c *gin.Context, key, userID string) bool {
	rec, err := h.cfg.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, h.logger, err)
		return true
	}
	if rec == nil {
		return false
	}
	if rec.UserID != "" && rec.UserID != userID {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "idempotency key already used"})
		return true
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return true
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusConflict, gin.H{"error": "previous_attempt_failed", "message": "retry with a new idempotency key", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unknown idempotency status"})
	}
	return true
}

func (h *handler) listOrders(c *gin.Context) {
	list, err := h.cfg.Checkout.ListOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *handler) getOrder(c *gin.Context) {
	owner := auth.UserID(c)
	if auth.IsAdmin(c) {
		owner = ""
	}
	order, evs, err := h.cfg.Checkout.GetOrder(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if evs == nil {
		evs = []tracking.Event{}
	}
	c.JSON(http.StatusOK, orderDetailResponse{Order: order, Tracking: evs})
}

func (h *handler) updateOrderStatus(c *gin.Context) {
	var req validation.UpdateOrderStatusRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	order, err := h.cfg.Checkout.UpdateOrderStatus(c.Request.Context(), c.Param("id"),
		orders.Status(req.Status), req.Description, req.TrackingNumber)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *handler) verifyPayment(c *gin.Context) {
	var req validation.VerifyPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	order, err := h.cfg.Checkout.VerifyPayment(c.Request.Context(), checkout.VerifyPaymentInput{
		PaymentMethod:     orders.PaymentMethod(req.PaymentMethod),
		GatewayOrderRef:   req.OrderID,
		GatewayPaymentRef: req.PaymentID,
		Signature:         req.Signature,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "payment verified", "order": order})
}
