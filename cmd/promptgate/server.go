package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/api"
	"github.com/promptgate/promptgate/api/handlers"
	"github.com/promptgate/promptgate/config"
	"github.com/promptgate/promptgate/gateway"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/telemetry"
	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/factory"
	"github.com/promptgate/promptgate/llm/fallback"
	"github.com/promptgate/promptgate/prompt"
	"github.com/promptgate/promptgate/store"
	"github.com/promptgate/promptgate/trace"
)

// Server owns the gateway's wiring and lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	st    *store.Store
	rdb   *redis.Client
	otel  *telemetry.Providers
	http  *http.Server
	limit context.CancelFunc
}

// NewServer builds every component from configuration. Upstream
// credentials come from the environment, never from the config file.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.ConfigurePool(cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns, cfg.Database.ConnMaxLifetime); err != nil {
		return nil, fmt.Errorf("configure pool: %w", err)
	}
	if err := st.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	traces := trace.NewLogger(st.DB(), logger)
	if err := traces.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate traces: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	providers := factory.New(llm.CredentialsFromEnv(), factory.Options{
		UnaryTimeout:    cfg.Providers.UnaryTimeout,
		StreamTimeout:   cfg.Providers.StreamTimeout,
		AzureAPIVersion: cfg.Providers.AzureAPIVersion,
	}, logger)

	executor := fallback.NewExecutor(providers, traces, fallback.Options{
		Retry: &fallback.RetryPolicy{
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
		Metrics: collector,
	}, logger)

	cache := prompt.NewCache(gateway.VersionLoader(st), prompt.CacheOptions{
		Capacity: cfg.Cache.Capacity,
		Redis:    rdb,
		RedisTTL: cfg.Cache.RedisTTL,
	}, logger)

	svc := gateway.NewService(st, cache, executor, traces, logger)

	deps := map[string]handlers.Pinger{"database": st}
	if rdb != nil {
		deps["redis"] = redisPinger{rdb: rdb}
	}

	mux := http.NewServeMux()
	api.NewRouter(svc, deps, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	limitCtx, limitCancel := context.WithCancel(context.Background())
	skipAuth := []string{"/healthz", "/readyz", "/metrics"}
	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		MetricsMiddleware(collector),
		RateLimiter(limitCtx, cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger),
		Auth(cfg.Auth, skipAuth, logger),
	)

	return &Server{
		cfg:    cfg,
		logger: logger,
		st:     st,
		rdb:    rdb,
		otel:   otelProviders,
		limit:  limitCancel,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains connections
// within the configured shutdown timeout.
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	s.logger.Info("shutting down")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	s.limit()
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("telemetry shutdown incomplete", zap.Error(err))
	}
	if err := s.st.Close(); err != nil {
		s.logger.Warn("store close failed", zap.Error(err))
	}
}

// redisPinger adapts the redis client to the readiness Pinger interface.
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
