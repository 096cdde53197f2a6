package handlers

import (
	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/auth"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
	"github.com/imrishuroy/go-storefront-orderflow/internal/wishlist"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Checkout    *checkout.Orchestrator
	Carts       *cart.Service
	Wishlist    *wishlist.Service
	Idempotency *idempotency.Store
	Verifier    *auth.Verifier
	Logger      *zap.Logger
}

type handler struct {
	cfg      HandlerConfig
	validate *validatorv10.Validate
	logger   *zap.Logger
}

func newHandler(cfg HandlerConfig) *handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{cfg: cfg, validate: validation.New(), logger: logger}
}

// RegisterRoutes mounts the storefront API under /api.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := newHandler(cfg)
	api := r.Group("/api")

	registerPaymentRoutes(api, h)

	user := api.Group("", cfg.Verifier.RequireUser())
	registerOrdersRoutes(user, h)
	registerCartRoutes(user, h)
	registerWishlistRoutes(user, h)
}
