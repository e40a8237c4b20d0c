package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/jadwer/localcart/internal/api"
	"github.com/jadwer/localcart/internal/cart"
	"github.com/jadwer/localcart/internal/handoff"
	"github.com/jadwer/localcart/internal/kvstore"
)

type Config struct {
	HTTPPort        string
	RedisAddr       string
	RedisPassword   string
	APIBaseURL      string
	LoginPath       string
	CheckoutPath    string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:9000"),
		LoginPath:       getEnv("LOGIN_PATH", "/auth/login"),
		CheckoutPath:    getEnv("CHECKOUT_PATH", "/checkout"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

	// Shared store: Redis when configured so several cartd processes observe
	// each other's writes, in-memory otherwise.
	var store kvstore.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Redis connection failed:", err)
		}
		log.Printf("Redis ping succeeded")

		redisStore := kvstore.NewRedisStore(redisClient)
		defer redisStore.Close()
		store = redisStore
	} else {
		store = kvstore.NewMemoryStore()
		log.Printf("REDIS_ADDR not set, using in-memory store")
	}

	// Session-scoped store for the handoff redirect chain.
	sessionStore := kvstore.NewMemoryStore()

	docStore := cart.NewDocumentStore(store)
	bus := cart.NewBroadcaster()

	binding := cart.NewBinding(docStore, bus)
	binding.Activate(ctx)
	defer binding.Close()

	counter := cart.NewCounter(docStore, bus)
	counter.Activate(ctx)
	defer counter.Close()

	syncClient := handoff.NewHTTPSyncClient(cfg.APIBaseURL, cfg.RequestTimeout)
	nav := api.NewRelayNavigator()
	coordinator := handoff.NewCoordinator(
		binding, sessionStore, syncClient, api.HeaderSession{}, nav,
		cfg.LoginPath, cfg.CheckoutPath,
	)

	cartHandler := api.NewCartHandler(binding, counter, coordinator, nav)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(api.RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(api.SessionMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", cartHandler.Routes)
	})

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		log.Printf("cartd listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down cartd...")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("cartd stopped")
}
