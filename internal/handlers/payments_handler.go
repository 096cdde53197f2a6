package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway/razorpay"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway/stripe"
)

// webhook bodies above this size are rejected before verification
const maxWebhookBody = 1 << 20

var signatureHeaders = map[string]string{
	"razorpay": razorpay.SignatureHeader,
	"stripe":   stripe.SignatureHeader,
}

func registerPaymentRoutes(rg *gin.RouterGroup, h *handler) {
	rg.POST("/payments/webhook/:gateway", h.webhook)
}

func (h *handler) webhook(c *gin.Context) {
	name := strings.ToLower(c.Param("gateway"))
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": "unreadable webhook body"})
		return
	}

	sig := c.GetHeader(signatureHeaders[name])
	if err := h.cfg.Checkout.HandleGatewayWebhook(c.Request.Context(), name, payload, sig); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
