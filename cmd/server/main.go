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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tabdil/backend/internal/cache"
	"github.com/tabdil/backend/internal/config"
	"github.com/tabdil/backend/internal/database"
	mW "github.com/tabdil/backend/internal/middleware"
	"github.com/tabdil/backend/internal/metrics"
	"github.com/tabdil/backend/internal/services"
)

func main() {
	config.Load()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	emitter := metrics.NewPrometheusEmitter(prometheus.DefaultRegisterer)
	cacheLayer := cache.New(redisClient, config.CacheTTL(), emitter)

	ledgerService := services.NewLedgerService(db, cacheLayer, emitter)
	depositService := services.NewDepositService(ledgerService, cacheLayer)
	transferService := services.NewTransferService(ledgerService, cacheLayer)
	accountService := services.NewAccountService(db, ledgerService, cacheLayer)
	authService := services.NewAuthService(db, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
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

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/vendors/me", accountService.Me)
			r.Get("/vendors/{vendorId}", accountService.GetVendor)

			r.Get("/phone-numbers", accountService.ListPhoneNumbers)
			r.Post("/phone-numbers", accountService.CreatePhoneNumber)
			r.Get("/phone-numbers/{phoneId}", accountService.GetPhoneNumber)

			r.Get("/deposits", depositService.ListDeposits)
			r.Post("/deposits", depositService.CreateDeposit)
			r.Get("/deposits/{txId}", depositService.GetDeposit)

			r.Get("/transfers", transferService.ListTransfers)
			r.Post("/transfers", transferService.CreateTransfer)
			r.Get("/transfers/{txId}", transferService.GetTransfer)

			// Admin-only endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/vendors", accountService.CreateVendor)
				r.Post("/deposits/{txId}/state", depositService.ChangeState)
			})
		})
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
