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
	"github.com/propease/backend/internal/database"
	"github.com/propease/backend/internal/handlers"
	mW "github.com/propease/backend/internal/middleware"
	"github.com/propease/backend/internal/models"
	"github.com/propease/backend/internal/services"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("billing.late_fee", "BILLING_LATE_FEE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	accountService := services.NewAccountService(ledgerService)
	settlementService := services.NewSettlementService(db, ledgerService)
	billingService := services.NewBillingService(db, ledgerService, redisClient)
	qrService := services.NewPaymentQRService(redisClient)
	qrHandler := handlers.NewPaymentQRHandler(qrService)

	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Account / ledger endpoints
			r.Get("/accounts/balance", accountService.GetBalance)
			r.Get("/accounts/transactions", accountService.ListTransactions)
			r.Post("/accounts/deposit", accountService.Deposit)
			r.Post("/accounts/withdraw", accountService.Withdraw)

			// Settlement endpoints
			r.With(mW.RequireRole(models.RoleProvider)).
				Post("/applications/{id}/approve", settlementService.ApproveApplication)
			r.Post("/payments/pay/sale/{id}", settlementService.PaySale)
			r.Post("/payments/pay/lease/{id}", settlementService.PayLease)
			r.Post("/payments/pay/subscription/{id}", settlementService.PaySubscription)

			// Recurring billing endpoints
			r.Post("/payments/recurring", billingService.PayRecurring)
			r.Get("/payments/due", billingService.ListDue)
			r.Post("/contracts/{id}/terminate", billingService.TerminateContract)

			// Payment QR endpoints
			r.Post("/payments/qr/generate", qrHandler.GenerateQR)
			r.Post("/payments/qr/resolve", qrHandler.ResolveQR)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
