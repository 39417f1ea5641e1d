// Package main provides the outbox relay service entry point.
// Publishes committed orders and delivery events to Redpanda.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/api/handlers"
	"github.com/drfirst/go-padnext/internal/config"
	"github.com/drfirst/go-padnext/internal/infrastructure/postgres"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/observability/tracing"
	"github.com/drfirst/go-padnext/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Make sure the topics exist before publishing
	admin, err := redpanda.NewAdmin(cfg.Producer.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.CreateTopics(ctx, cfg.Topics); err != nil {
		logger.Warn("topic setup failed", zap.Error(err))
	}
	admin.Close()

	// Create Redpanda producer
	producer, err := redpanda.NewProducer(cfg.Producer, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	producer.Instrument(m.KafkaMessagesProduced)
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Producer.Brokers))

	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(to.Value())
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	m.CircuitBreakerState.WithLabelValues(breakerCfg.Name).Set(breaker.GetState().Value())

	// Create outbox processor
	outbox := postgres.NewOutbox(pool, &producerAdapter{producer: producer, breaker: breaker}, cfg.Outbox, logger)
	outbox.Start(ctx)

	go reportPending(ctx, outbox, m, logger)

	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName, "1.0.0"))
	r.Get("/ready", handlers.Ready(serviceName, "1.0.0", map[string]handlers.ReadinessCheck{
		"database": pool.Ping,
		"circuit_breaker": func(context.Context) error {
			if breaker.IsOpen() {
				return circuitbreaker.ErrOpen
			}
			return nil
		},
	}))
	r.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("outbox relay started", zap.String("port", cfg.Port))

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down")
	outbox.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Warn("flush on shutdown failed", zap.Error(err))
	}
	server.Shutdown(shutdownCtx)

	stats := producer.Stats()
	logger.Info("outbox relay stopped",
		zap.Int64("messages", stats.MessagesSent),
		zap.Int64("bytes", stats.BytesSent),
		zap.Int64("errors", stats.ErrorCount))
}

// reportPending keeps the pending gauge current
func reportPending(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Warn("outbox stats failed", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(stats.Pending))
		}
	}
}

// producerAdapter adapts the Redpanda producer to OutboxPublisher interface,
// failing fast while the broker is unavailable
type producerAdapter struct {
	producer *redpanda.Producer
	breaker  *circuitbreaker.CircuitBreaker
}

func (a *producerAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	return a.breaker.Do(ctx, func(ctx context.Context) error {
		return a.producer.Publish(ctx, topic, key, value)
	})
}
