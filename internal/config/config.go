package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-storefront-orderflow/internal/gateway"
	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

const defaultPath = "./config/local.yaml"

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP     `yaml:"http"`
	AWS      AWS      `yaml:"aws"`
	Tables   Tables   `yaml:"tables"`
	Redis    Redis    `yaml:"redis"`
	Pricing  Pricing  `yaml:"pricing"`
	Gateways Gateways `yaml:"gateways"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
}

type HTTP struct {
	Port        string   `yaml:"port" env:"PORT" env-default:"8080"`
	RunLocal    bool     `yaml:"run_local" env:"RUN_LOCAL" env-default:"false"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"*"`
}

type AWS struct {
	Region           string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	EndpointOverride string `yaml:"endpoint" env:"AWS_ENDPOINT_OVERRIDE"`
	EventsQueueURL   string `yaml:"events_queue_url" env:"ORDERS_QUEUE_URL"`
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE" env-default:"Storefront/Orders"`
}

type Tables struct {
	Products    string `yaml:"products" env:"PRODUCTS_TABLE" env-default:"products"`
	Carts       string `yaml:"carts" env:"CARTS_TABLE" env-default:"carts"`
	Wishlist    string `yaml:"wishlist" env:"WISHLIST_TABLE" env-default:"wishlist"`
	Orders      string `yaml:"orders" env:"ORDERS_TABLE" env-default:"orders"`
	Tracking    string `yaml:"tracking" env:"TRACKING_TABLE" env-default:"order_tracking"`
	Payments    string `yaml:"payments" env:"PAYMENTS_TABLE" env-default:"payments"`
	Idempotency string `yaml:"idempotency" env:"IDEMPOTENCY_TABLE" env-default:"idempotency"`
	// IdempotencyTTL bounds how long a key blocks a repeat placement.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL" env-default:"48h"`
}

// Redis is optional; with no address the cart is served from DynamoDB alone.
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CartTTL  time.Duration `yaml:"cart_ttl" env:"CART_CACHE_TTL" env-default:"15m"`
}

// Pricing amounts are decimal strings in major units.
type Pricing struct {
	FreeShippingThreshold string `yaml:"free_shipping_threshold" env:"FREE_SHIPPING_THRESHOLD" env-default:"500"`
	FlatShippingFee       string `yaml:"flat_shipping_fee" env:"FLAT_SHIPPING_FEE" env-default:"50"`
	Currency              string `yaml:"currency" env:"CURRENCY" env-default:"INR"`
}

// Amounts parses the configured thresholds.
func (p Pricing) Amounts() (threshold, fee money.Amount, err error) {
	threshold, err = money.Parse(p.FreeShippingThreshold)
	if err != nil {
		return money.Zero, money.Zero, fmt.Errorf("free_shipping_threshold: %w", err)
	}
	fee, err = money.Parse(p.FlatShippingFee)
	if err != nil {
		return money.Zero, money.Zero, fmt.Errorf("flat_shipping_fee: %w", err)
	}
	if threshold.IsNegative() || fee.IsNegative() {
		return money.Zero, money.Zero, errors.New("pricing amounts must not be negative")
	}
	return threshold, fee, nil
}

type Gateways struct {
	Timeout  time.Duration       `yaml:"timeout" env:"GATEWAY_TIMEOUT" env-default:"10s"`
	Razorpay gateway.Credentials `yaml:"razorpay" env-prefix:"RAZORPAY_"`
	Stripe   gateway.Credentials `yaml:"stripe" env-prefix:"STRIPE_"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

func (c *Config) IsProd() bool { return c.Env == "prod" }

// ValidateAPI checks the settings only the HTTP API needs.
func (c *Config) ValidateAPI() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	if c.AWS.EventsQueueURL == "" {
		return errors.New("aws.events_queue_url (ORDERS_QUEUE_URL) is required")
	}
	return nil
}

// Load reads .env when present, then the yaml file at CONFIG_PATH (default
// ./config/local.yaml) with environment overrides. Without a file the
// configuration comes from the environment alone, which is how the Lambda
// functions run.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	}

	if _, _, err := cfg.Pricing.Amounts(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
