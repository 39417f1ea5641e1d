// Package main provides the receipt consumer entry point. It applies
// Quittungen from the inbound topic and dead-letters the ones it rejects.
package main

import (
	"context"
	"errors"
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
	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/exchange"
	"github.com/drfirst/go-padnext/internal/infrastructure/postgres"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/observability/tracing"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/pkg/idempotency"
)

const serviceName = "receipt-consumer"

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
	if err := idempotency.Migrate(ctx, pool); err != nil {
		logger.Fatal("inbox migration failed", zap.Error(err))
	}

	c, err := codec.New(cfg.Codec)
	if err != nil {
		logger.Fatal("codec setup failed", zap.Error(err))
	}
	svc, err := exchange.NewService(cfg.Exchange, c, delivery.NewTracker(), delivery.NewRepository(pool, logger), m, logger)
	if err != nil {
		logger.Fatal("exchange setup failed", zap.Error(err))
	}
	if _, err := svc.Restore(ctx); err != nil {
		logger.Fatal("restore failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(pool, cfg.Inbox, logger)
	inbox.StartCleanup()
	defer inbox.Stop()
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("entries", n))
	}

	// Rejected receipts go to the dead letter topic
	producer, err := redpanda.NewProducer(cfg.Producer, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	producer.Instrument(m.KafkaMessagesProduced)

	handler := exchange.NewReceiptHandler(svc, inbox, producer, cfg.Outbox.DeadLetterTopic, logger)
	consumer, err := redpanda.NewConsumer(cfg.Consumer, handler.Handle, logger,
		redpanda.WithWorkerPool(cfg.Workers),
		redpanda.WithConsumedCounter(m.KafkaMessagesConsumed))
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	// Orders registered by the API reach this tracker through the events topic
	followerCfg := cfg.Consumer
	followerCfg.GroupID = serviceName + "-" + hostname()
	followerCfg.Topics = []string{redpanda.TopicDeliveryEvents}
	followerCfg.StartOffset = "latest"
	follower, err := redpanda.NewConsumer(followerCfg, svc.HandleEvent, logger.Named("follower"))
	if err != nil {
		logger.Fatal("event follower creation failed", zap.Error(err))
	}
	follower.Start()

	admin, err := redpanda.NewAdmin(cfg.Consumer.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	go reportLag(ctx, admin, cfg.Consumer.GroupID, m, logger)

	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName, "1.0.0"))
	r.Get("/ready", handlers.Ready(serviceName, "1.0.0", map[string]handlers.ReadinessCheck{
		"database": pool.Ping,
		"redpanda": func(ctx context.Context) error { return redpanda.HealthCheck(ctx, cfg.Consumer.Brokers) },
		"workers": func(context.Context) error {
			if p := consumer.Pool(); p != nil && !p.IsHealthy() {
				return errors.New("worker pool unhealthy")
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

	logger.Info("receipt consumer started",
		zap.Strings("topics", cfg.Consumer.Topics),
		zap.String("group", cfg.Consumer.GroupID))

	<-ctx.Done()

	logger.Info("shutting down")
	if err := follower.Stop(); err != nil {
		logger.Warn("follower stop", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	stats := consumer.Stats()
	fields := []zap.Field{zap.Int64("messages", stats.MessagesRead), zap.Int64("errors", stats.ErrorCount)}
	if in, err := inbox.GetStats(shutdownCtx); err == nil {
		fields = append(fields, zap.Int64("inbox_finished", in.Finished), zap.Int64("inbox_failed", in.Failed))
	}
	logger.Info("receipt consumer stopped", fields...)
}

// reportLag keeps the consumer lag gauge current
func reportLag(ctx context.Context, admin *redpanda.Admin, group string, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := admin.GetConsumerGroupLag(ctx, group)
			if err != nil {
				logger.Warn("consumer lag unavailable", zap.Error(err))
				continue
			}
			for topic, partitions := range lag {
				var total int64
				for _, l := range partitions {
					total += l
				}
				m.ConsumerLag.WithLabelValues(topic).Set(float64(total))
			}
		}
	}
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return host
}
