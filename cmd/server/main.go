package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/flowpay/ledger-backend/internal/config"
	"github.com/flowpay/ledger-backend/internal/database"
	"github.com/flowpay/ledger-backend/internal/handlers"
	"github.com/flowpay/ledger-backend/internal/metrics"
	"github.com/flowpay/ledger-backend/internal/services"
	"github.com/flowpay/ledger-backend/internal/signature"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	viper.BindEnv("provider.secret_key", "PROVIDER_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	webhookCfg := config.LoadWebhookConfig()
	reconcileCfg := config.LoadReconcileConfig()

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	// Initialize services
	verifier := signature.NewVerifier(
		webhookCfg.StripeSecret,
		webhookCfg.PaystackSecret,
		webhookCfg.FlutterwaveSecret,
		webhookCfg.StripeTolerance,
	)
	idempotency := services.NewIdempotencyStore(db, redisClient, webhookCfg.DedupCacheTTL)
	events := services.NewWebhookEventService(db)
	ledgerService := services.NewLedgerService(db, m)
	recipients := services.NewRecipientService(db)

	dispatcher := services.NewDispatcher()
	services.NewWebhookProcessor(ledgerService, recipients).RegisterAll(dispatcher)
	pipeline := services.NewWebhookPipeline(events, dispatcher, m)

	providerClient := services.NewHTTPProviderClient(
		viper.GetString("provider.base_url"),
		viper.GetString("provider.secret_key"),
	)
	reconciler := services.NewReconciliationService(db, ledgerService, providerClient, reconcileCfg, m)

	webhookHandler := handlers.NewWebhookHandler(webhookCfg, verifier, idempotency, events, pipeline, m)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, reconciler, reconcileCfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS (operator endpoints only; providers POST server-to-server)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Provider webhook endpoints
	r.Post("/webhooks/{provider}", webhookHandler.Receive)
	r.Get("/webhooks/events", webhookHandler.ListEvents)
	r.Post("/webhooks/events/{eventId}/retry", webhookHandler.RetryEvent)

	// Operator ledger endpoints
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/transactions", ledgerHandler.CreateTransaction)
		r.Get("/entries", ledgerHandler.ListEntries)
		r.Get("/balances", ledgerHandler.ListBalances)
		r.Get("/reconciliation-reports", ledgerHandler.ListReports)
		r.Post("/reconcile", ledgerHandler.Reconcile)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
