package api

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/veloxpay/backoffice/internal/api/handler"
	"github.com/veloxpay/backoffice/internal/api/middleware"
	"github.com/veloxpay/backoffice/internal/api/spec"
	"github.com/veloxpay/backoffice/internal/config"
	"github.com/veloxpay/backoffice/internal/idempotency"
	"github.com/veloxpay/backoffice/internal/repository"
	"github.com/veloxpay/backoffice/internal/service"
)

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     *repository.Store
	idemStore *idempotency.Store
	redis     redis.Cmdable
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, store *repository.Store, idemStore *idempotency.Store, redisClient redis.Cmdable) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		idemStore: idemStore,
		redis:     redisClient,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chiMiddleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*.veloxpay.com", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Services
	ops := service.NewOperationService(api.store)
	balances := service.NewBalanceService(api.store)
	registry := service.NewAccountRegistry(api.store)
	rails := service.NewRailResolver(registry)
	assets := service.NewAssetService(api.store)
	repair := service.NewRepairService(api.store)

	// Handlers
	authHandler := handler.NewAuthHandler()
	accountHandler := handler.NewAccountHandler(registry, balances, assets)
	operationHandler := handler.NewOperationHandler(ops, registry, rails, assets)
	webhookHandler := handler.NewWebhookHandler(ops, repair, api.cfg.WebhookHMACKey, api.cfg.WebhookSkipSignature)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Infrastructure routes
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method("GET", "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/webhooks/payments", webhookHandler.HandlePaymentWebhook)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Accounts
		r.Post("/v1/accounts", accountHandler.CreateAccount)
		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)
		r.Get("/v1/accounts/{id}/statement", accountHandler.GetStatement)

		// Deposit addresses
		r.Post("/v1/addresses", accountHandler.CreateDepositAddress)
		r.Post("/v1/addresses/pool", accountHandler.LoadAddressPool)

		// Operations
		r.Get("/v1/operations/{id}", operationHandler.GetOperation)
		r.Group(func(r chi.Router) {
			r.Use(middleware.IdempotencyMiddleware(api.idemStore, api.logger))
			r.Post("/v1/operations/deposits", operationHandler.CreateDeposit)
			r.Post("/v1/operations/withdrawals", operationHandler.CreateWithdrawal)
			r.Post("/v1/operations/exchanges", operationHandler.CreateExchange)
			r.Post("/v1/operations/{id}/refund", operationHandler.CreateRefund)
		})

		// Lifecycle actions (admin)
		r.Post("/v1/operations/{id}/hold", operationHandler.Transition("hold"))
		r.Post("/v1/operations/{id}/commit", operationHandler.Transition("commit"))
		r.Post("/v1/operations/{id}/cancel", operationHandler.Transition("cancel"))
		r.Post("/v1/operations/{id}/reject", operationHandler.Transition("reject"))
		r.Post("/v1/operations/{id}/require-action", operationHandler.Transition("require-action"))
		r.Post("/v1/operations/{id}/resume", operationHandler.Transition("resume"))
	})

	return r
}
