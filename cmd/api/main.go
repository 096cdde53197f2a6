package main

import (
	"context"
	"log"
	"net/http"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/auth"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway/razorpay"
	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway/stripe"
	"github.com/imrishuroy/go-storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/inventory"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logging"
	"github.com/imrishuroy/go-storefront-orderflow/internal/metrics"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payments"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
	"github.com/imrishuroy/go-storefront-orderflow/internal/wishlist"
)

func setupRouter(cfg *config.Config, hc handlers.HandlerConfig, m *metrics.ServerMetrics) *gin.Engine {
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(hc.Logger))
	r.Use(m.Middleware())
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Location"},
		MaxAge:        12 * time.Hour,
	}
	if containsWildcard(cfg.HTTP.CORSOrigins) || len(cfg.HTTP.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.HTTP.CORSOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	handlers.RegisterRoutes(r, hc)

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func gateways(cfg *config.Config, logger *zap.Logger) *gateway.Registry {
	var gws []gateway.Gateway
	if cfg.Gateways.Razorpay.APIKey != "" {
		gws = append(gws, razorpay.New(cfg.Gateways.Razorpay,
			gateway.NewGuard("razorpay", cfg.Gateways.Timeout, logger)))
	}
	if cfg.Gateways.Stripe.APIKey != "" {
		gws = append(gws, stripe.New(cfg.Gateways.Stripe,
			gateway.NewGuard("stripe", cfg.Gateways.Timeout, logger)))
	}
	if len(gws) == 0 {
		logger.Warn("no payment gateway configured; only offline payment methods will work")
	}
	return gateway.NewRegistry(gws...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	var cartCache *cart.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; cart reads fall back to dynamodb", zap.Error(err))
		}
		cartCache = cart.NewCache(rdb, cfg.Redis.CartTTL)
	}

	threshold, fee, err := cfg.Pricing.Amounts()
	if err != nil {
		logger.Fatal("invalid pricing", zap.Error(err))
	}

	db := clients.DynamoDB
	products := inventory.NewStore(db, cfg.Tables.Products)
	cartStore := cart.NewStore(db, cfg.Tables.Carts)
	carts := cart.NewService(cartStore, products, cartCache, logger)
	orderStore := orders.NewStore(db, cfg.Tables.Orders)
	idem := idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.Tables.IdempotencyTTL)

	orch := checkout.New(checkout.Deps{
		DB:          db,
		Carts:       cartStore,
		CartCache:   carts,
		Products:    products,
		Orders:      orderStore,
		Tracking:    tracking.NewStore(db, cfg.Tables.Tracking, orderStore),
		Payments:    payments.NewStore(db, cfg.Tables.Payments),
		Idempotency: idem,
		Gateways:    gateways(cfg, logger),
		Publisher:   aws.NewPublisher(clients.SQS, cfg.AWS.EventsQueueURL),
		Pricing: checkout.Pricing{
			FreeShippingThreshold: threshold,
			FlatShippingFee:       fee,
			Currency:              cfg.Pricing.Currency,
		},
		Logger: logger,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := setupRouter(cfg, handlers.HandlerConfig{
		Checkout:    orch,
		Carts:       carts,
		Wishlist:    wishlist.NewService(wishlist.NewStore(db, cfg.Tables.Wishlist), products, carts, logger),
		Idempotency: idem,
		Verifier:    auth.NewVerifier(cfg.Auth.JWTSecret),
		Logger:      logger,
	}, metrics.NewServerMetrics("api", reg))

	// run a plain HTTP server for local development
	if cfg.HTTP.RunLocal {
		addr := ":" + cfg.HTTP.Port
		logger.Info("running local server", zap.String("addr", addr))
		if err := r.Run(addr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req lambdaevents.APIGatewayProxyRequest) (lambdaevents.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
