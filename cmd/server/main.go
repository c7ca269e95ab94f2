package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/authguard/internal/auth"
	"github.com/welldanyogia/authguard/internal/cache"
	"github.com/welldanyogia/authguard/internal/config"
	"github.com/welldanyogia/authguard/internal/health"
	"github.com/welldanyogia/authguard/internal/logger"
	"github.com/welldanyogia/authguard/internal/metrics"
	authmw "github.com/welldanyogia/authguard/internal/middleware"
	"github.com/welldanyogia/authguard/internal/repository"
	"github.com/welldanyogia/authguard/internal/store"
)

// Version is set at build time
var Version = "dev"

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup durable store
	st, err := store.Open(context.Background(), cfg.Store, log)
	if err != nil {
		log.Error("Failed to connect to database", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Optional Redis session cache
	var sessionRepo repository.SessionRepository = st.Sessions
	redisClient, err := setupRedis(cfg.Redis.URL, log)
	if err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessionRepo = cache.NewSessionCache(st.Sessions, redisClient, cfg.Redis.CacheTTL, log)
	}

	// Initialize services
	clock := auth.SystemClock{}
	hasher := auth.NewCredentialHasher(auth.HashParams{
		Memory:      cfg.Hash.MemoryKiB,
		Iterations:  cfg.Hash.Iterations,
		Parallelism: cfg.Hash.Parallelism,
	}, log)
	hashPool := auth.NewHashPool(hasher, cfg.Hash.MaxConcurrent, cfg.Hash.QueueTimeout, log)

	lockout := auth.NewLockoutEngine(st.Attempts, auth.LockoutConfig{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Window:      cfg.Lockout.Window,
	})

	var refresher *auth.SessionRefresher
	if cfg.Session.Sliding {
		refresher = auth.NewSessionRefresher(sessionRepo, clock, auth.RefresherConfig{
			Interval: cfg.Session.RefreshInterval,
		}, log)
		if err := refresher.Start(); err != nil {
			log.Error("Failed to start session refresher", "error", err)
			os.Exit(1)
		}
	}

	authService := auth.NewAuthService(auth.Dependencies{
		Credentials: st.Credentials,
		Attempts:    st.Attempts,
		Lockout:     lockout,
		Sessions:    auth.NewSessionStore(sessionRepo, clock),
		HashPool:    hashPool,
		Policy:      auth.DefaultPolicy(),
		Refresher:   refresher,
		Clock:       clock,
		Logger:      log,
	}, auth.ServiceConfig{
		SessionTTL:        cfg.Session.TTL,
		SlidingExpiration: cfg.Session.Sliding,
	})

	// Initialize handlers
	authHandler := auth.NewAuthHandler(authService, cfg.Hash.QueueTimeout)
	sessionMiddleware := authmw.NewSessionMiddleware(authService, log)
	healthHandler := health.NewHandler(health.Config{
		Store:       st.Pinger(),
		StoreName:   st.Name,
		RedisClient: redisClient,
		Version:     Version,
	})

	// Store connection metrics, read on each scrape
	prometheus.MustRegister(metrics.NewDBStatsCollector(st.PgPool, st.SQLDB))

	// Setup router
	r := chi.NewRouter()

	// Global middleware. Forwarded headers are only trusted behind a proxy
	// that overwrites them; otherwise they would let callers pick their own
	// origin and escape lockout.
	r.Use(middleware.RequestID)
	if cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(authmw.StructuredLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler, sessionMiddleware.Authenticate)
	})

	// Create server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting server",
			"addr", addr,
			"version", Version,
			"store", st.Name,
			"cache_enabled", redisClient != nil,
			"hash_workers", hashPool.Size(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Pending refreshes are written after the last request finishes
	if refresher != nil {
		refresher.Stop()
	}

	log.Info("Server exited")
}

// setupRedis connects to Redis when url is set. A nil client means the
// session cache is disabled.
func setupRedis(url string, log *slog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("Connected to redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}
