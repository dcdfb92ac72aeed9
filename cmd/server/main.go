package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sastabazar-be/internal/cart"
	"sastabazar-be/internal/config"
	"sastabazar-be/internal/db"
	"sastabazar-be/internal/health"
	"sastabazar-be/internal/idempotency"
	"sastabazar-be/internal/logger"
	"sastabazar-be/internal/messaging"
	"sastabazar-be/internal/metrics"
	"sastabazar-be/internal/middleware"
	"sastabazar-be/internal/order"
	"sastabazar-be/internal/outbox"
	"sastabazar-be/internal/payment"
	"sastabazar-be/internal/payment/webhook"
	"sastabazar-be/internal/product"
	"sastabazar-be/internal/transport"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = serve
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newServer(ctx, cfg, database)
	defer app.close()

	waitWorker := startBackground(ctx, app.worker.Start)

	logger.L().Info("payment server listening", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
	err = startServerFunc(ctx, ":"+cfg.AppPort, app.handler)

	// the worker still holds the database and publisher that the defers close
	stop()
	waitWorker()
	return err
}

// startBackground runs fn in a goroutine. The returned func blocks until fn has
// returned, so callers must cancel ctx first.
func startBackground(ctx context.Context, fn func(context.Context)) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() { <-done }
}

type application struct {
	handler http.Handler
	worker  *outbox.Worker
	closers []io.Closer
}

func (a *application) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.L().Warn("failed to close resource", zap.Error(err))
		}
	}
}

func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) *application {
	log := logger.L()
	reg := metrics.NewRegistry()
	app := &application{}

	gateways := []payment.Gateway{
		payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.WebhookSecret(),
			Currency:      cfg.Currency,
			Timeout:       cfg.GatewayTimeout,
		}),
	}
	if cfg.StripeEnabled() {
		gateways = append(gateways, payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			Currency:       cfg.Currency,
			SuccessURL:     cfg.StripeSuccessURL,
			CancelURL:      cfg.StripeCancelURL,
			Timeout:        cfg.GatewayTimeout,
		}))
	}

	checkers := []health.Checker{health.NewDBChecker(database)}

	var store idempotency.Store = idempotency.NoopStore{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisStore := idempotency.NewRedisStore(client, "order-intent")
		store = redisStore
		checkers = append(checkers, health.NewRedisChecker(redisStore.Ping))
		app.closers = append(app.closers, client)
	} else {
		log.Warn("REDIS_ADDR not set, Idempotency-Key headers are not enforced")
	}

	var publisher messaging.Publisher = messaging.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, log)
		if err != nil {
			log.Error("kafka unavailable, outbox events will only be logged", zap.Error(err))
		} else {
			publisher = kafka
		}
	}
	app.closers = append(app.closers, publisher)

	events := outbox.NewRepository(database)
	orderSvc := order.NewService(
		order.NewRepository(database),
		cart.NewRepository(database),
		product.NewRepository(database),
		events,
		gateways,
		order.Options{
			Pricing: order.PricingConfig{
				TaxRate:               cfg.TaxRate,
				FreeShippingThreshold: cfg.FreeShippingThreshold,
				ShippingFee:           cfg.ShippingFee,
			},
			Currency:       cfg.Currency,
			GatewayTimeout: cfg.GatewayTimeout,
			Metrics:        reg,
		},
	)

	app.worker = outbox.NewWorker(events, publisher, reg, log, cfg.OutboxInterval)
	app.handler = setupRouter(cfg, routes{
		payments: transport.NewPaymentHandler(orderSvc, store, cfg.IdempotencyTTL, gateways...),
		webhooks: webhook.NewWebhookHandler(orderSvc, payment.NewRepository(database), reg, gateways...),
		metrics:  reg,
		checkers: checkers,
		limiter:  middleware.NewRateLimiter(ctx),
	})
	return app
}

type routes struct {
	payments *transport.PaymentHandler
	webhooks *webhook.Handler
	metrics  *metrics.Registry
	checkers []health.Checker
	limiter  *middleware.RateLimiter
}

func setupRouter(cfg *config.Config, rt routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.LiveHandler)
	mux.Handle("GET /health/ready", health.ReadyHandler(rt.checkers...))
	mux.Handle("GET /metrics", rt.metrics.Handler())

	// raw body, no auth; the gateway signature is the credential
	mux.HandleFunc("POST /payments/webhooks/razorpay", rt.webhooks.RazorpayWebhookHandler)
	mux.HandleFunc("POST /payments/webhooks/stripe", rt.webhooks.StripeWebhookHandler)

	rt.payments.Register(mux)

	var h http.Handler = mux
	if rt.limiter != nil {
		h = rt.limiter.Middleware(h)
	}
	h = middleware.AuthMiddleware(cfg.JWTSecret)(h)
	h = middleware.LoggingMiddleware(h)
	h = middleware.CORS(cfg.CORSOrigin)(h)
	return logger.RequestIDMiddleware(h)
}

// serve blocks until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
