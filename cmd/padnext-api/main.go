// Package main provides the PADnext exchange API service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/api"
	"github.com/drfirst/go-padnext/internal/api/handlers"
	"github.com/drfirst/go-padnext/internal/config"
	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/exchange"
	"github.com/drfirst/go-padnext/internal/infrastructure/postgres"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/observability/tracing"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
)

const serviceName = "padnext-api"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath, serviceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(cfg.APIKeys) == 0 {
		logger.Fatal("no API keys configured; set api_keys or API_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	c, err := codec.New(cfg.Codec)
	if err != nil {
		logger.Fatal("codec setup failed", zap.Error(err))
	}

	// Rebuild the tracker from the event store
	tracker := delivery.NewTracker()
	repo := delivery.NewRepository(pool, logger)
	svc, err := exchange.NewService(cfg.Exchange, c, tracker, repo, m, logger)
	if err != nil {
		logger.Fatal("exchange setup failed", zap.Error(err))
	}
	if _, err := svc.Restore(ctx); err != nil {
		logger.Fatal("restore failed", zap.Error(err))
	}

	// Follow events written by the receipt consumer
	follower, err := newFollower(cfg.Consumer, svc, logger)
	if err != nil {
		logger.Fatal("event follower setup failed", zap.Error(err))
	}
	follower.Start()
	defer follower.Stop()

	router := api.NewRouter(api.RouterConfig{
		ServiceName:  serviceName,
		APIKeys:      cfg.APIKeys,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Checks: map[string]handlers.ReadinessCheck{
			"database": pool.Ping,
			"redpanda": func(ctx context.Context) error {
				return redpanda.HealthCheck(ctx, cfg.Consumer.Brokers)
			},
		},
		Metrics: m.Handler(),
	}, handlers.NewDeliveryHandler(svc, logger), logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting PADnext API",
		zap.String("port", cfg.Port),
		zap.String("version", cfg.Exchange.Version))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newFollower consumes the delivery events topic with a group of its own
// per host, so every API instance sees every event
func newFollower(base redpanda.ConsumerConfig, svc *exchange.Service, logger *zap.Logger) (*redpanda.Consumer, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	cfg := base
	cfg.GroupID = serviceName + "-" + host
	cfg.Topics = []string{redpanda.TopicDeliveryEvents}
	cfg.StartOffset = "latest"
	return redpanda.NewConsumer(cfg, svc.HandleEvent, logger.Named("follower"))
}
