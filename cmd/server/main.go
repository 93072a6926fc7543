package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/artify/auction-engine/internal/api"
	"github.com/artify/auction-engine/internal/auction"
	"github.com/artify/auction-engine/internal/metrics"
	"github.com/artify/auction-engine/internal/settlement"
	"github.com/artify/auction-engine/internal/store"
	"github.com/artify/auction-engine/internal/verify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var codes verify.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Redis serves both the read-through cache and the verification
	// code store.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		codes = verify.NewRedisStore(rdb, verify.DefaultTTL)
		slog.Info("Redis cache enabled")
	} else {
		codes = verify.NewMemoryStore(verify.DefaultTTL)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Commission rate ---
	rate := settlement.DefaultCommissionRate
	if raw := os.Getenv("COMMISSION_RATE"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Error("invalid COMMISSION_RATE", "err", err)
			os.Exit(1)
		}
		if parsed.LessThanOrEqual(decimal.Zero) || parsed.GreaterThan(decimal.New(1, 0)) {
			slog.Error("COMMISSION_RATE must be in (0, 1]", "rate", parsed)
			os.Exit(1)
		}
		rate = parsed
	}

	// --- Services ---
	auctionSvc := auction.NewService(st)
	engine := settlement.NewEngine(st, rate)

	// --- Income release sweeper ---
	schedule := os.Getenv("RELEASE_SWEEP_SCHEDULE")
	if schedule == "" {
		schedule = "@every 1m"
	}
	sweeper, err := settlement.NewSweeper(engine, schedule)
	if err != nil {
		slog.Error("invalid RELEASE_SWEEP_SCHEDULE", "err", err)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()
	slog.Info("income release sweeper started", "schedule", schedule)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	apiSvc := api.NewService(auctionSvc, engine, codes, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/", apiSvc.Router())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down auction-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("auction-engine stopped")
}
