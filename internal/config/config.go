package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv     string
	AppPort    string
	CORSOrigin string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	// DBMaxOpenConns caps the pool shared by checkout and webhook traffic.
	DBMaxOpenConns int

	JWTSecret string

	// Razorpay is the primary gateway and must always be configured.
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	// Stripe is optional; it is enabled when StripeSecretKey is set.
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	StripeSuccessURL     string
	StripeCancelURL      string

	Currency              string
	TaxRate               float64
	FreeShippingThreshold int64
	ShippingFee           int64
	GatewayTimeout        time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IdempotencyTTL time.Duration

	KafkaBrokers   []string
	OutboxInterval time.Duration
}

// StripeEnabled reports whether the Stripe gateway has credentials.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// WebhookSecret returns the secret used to verify Razorpay webhook deliveries.
// Razorpay signs webhooks with a dedicated secret; older dashboards reuse the API secret.
func (c *Config) WebhookSecret() string {
	if c.RazorpayWebhookSecret != "" {
		return c.RazorpayWebhookSecret
	}
	return c.RazorpayKeySecret
}

// LoadConfig reads the environment (and .env when present) and validates it once.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		AppPort:    getEnv("APP_PORT", "8080"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),

		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey: os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:     getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		StripeCancelURL:      getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/checkout/cancel"),

		Currency: strings.ToUpper(getEnv("CURRENCY", "INR")),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	var errs []error
	var err error

	if cfg.TaxRate, err = getFloat("TAX_RATE", 0.18); err != nil {
		errs = append(errs, err)
	}
	if cfg.FreeShippingThreshold, err = getInt64("FREE_SHIPPING_THRESHOLD", 1000); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShippingFee, err = getInt64("SHIPPING_FEE", 50); err != nil {
		errs = append(errs, err)
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxInterval, err = getDuration("OUTBOX_INTERVAL", 2*time.Second); err != nil {
		errs = append(errs, err)
	}
	maxConns, err := getInt64("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.DBMaxOpenConns = int(maxConns)

	redisDB, err := getInt64("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RedisDB = int(redisDB)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error

	required := map[string]string{
		"DB_HOST":             c.DBHost,
		"JWT_SECRET":          c.JWTSecret,
		"RAZORPAY_KEY_ID":     c.RazorpayKeyID,
		"RAZORPAY_KEY_SECRET": c.RazorpayKeySecret,
	}
	for _, key := range []string{"DB_HOST", "JWT_SECRET", "RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET"} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.StripeEnabled() && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if c.TaxRate < 0 || c.TaxRate >= 1 {
		errs = append(errs, fmt.Errorf("TAX_RATE must be in [0,1), got %v", c.TaxRate))
	}
	if c.FreeShippingThreshold < 0 || c.ShippingFee < 0 {
		errs = append(errs, errors.New("shipping amounts must not be negative"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.DBMaxOpenConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be positive"))
	}
	if c.OutboxInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_INTERVAL must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}

	return errs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
