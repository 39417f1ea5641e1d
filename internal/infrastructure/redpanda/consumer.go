package redpanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/pkg/workerpool"
)

// ConsumerConfig holds consumer settings
type ConsumerConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
	Topics  []string `yaml:"topics"`
	// AutoCommit commits on an interval instead of after each handled batch
	AutoCommit           bool  `yaml:"auto_commit"`
	AutoCommitIntervalMS int64 `yaml:"auto_commit_interval_ms"`
	SessionTimeoutMS     int64 `yaml:"session_timeout_ms"`
	HeartbeatIntervalMS  int64 `yaml:"heartbeat_interval_ms"`
	// MaxPollRecords bounds one batch
	MaxPollRecords int   `yaml:"max_poll_records"`
	FetchMaxBytes  int32 `yaml:"fetch_max_bytes"`
	// StartOffset is earliest or latest; it applies to groups without
	// committed offsets
	StartOffset string `yaml:"start_offset"`
}

// DefaultConsumerConfig returns defaults for receipt processing
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:              []string{"localhost:9092"},
		GroupID:              "padnext-receipts",
		Topics:               []string{TopicQuittungInbound},
		AutoCommit:           false,
		AutoCommitIntervalMS: 5000,
		SessionTimeoutMS:     30000,
		HeartbeatIntervalMS:  3000,
		MaxPollRecords:       100,
		FetchMaxBytes:        52428800, // 50MB
		StartOffset:          "earliest",
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Consumer consumes messages from Redpanda. With a worker pool attached,
// every polled batch is processed concurrently and committed once the
// whole batch has been handled.
type Consumer struct {
	client   *kgo.Client
	config   ConsumerConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	handler  MessageHandler
	poolCfg  *workerpool.Config
	pool     *workerpool.Pool
	consumed prometheus.Counter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	messagesRead   int64
	bytesRead      int64
	errorCount     int64
	lastCommitTime time.Time
}

// ConsumerOption customizes a Consumer
type ConsumerOption func(*Consumer)

// WithWorkerPool processes records concurrently on a pool built from cfg
func WithWorkerPool(cfg workerpool.Config) ConsumerOption {
	return func(c *Consumer) { c.poolCfg = &cfg }
}

// WithConsumedCounter counts handled messages on counter
func WithConsumedCounter(counter prometheus.Counter) ConsumerOption {
	return func(c *Consumer) { c.consumed = counter }
}

// opts translates the configuration into client options
func (cfg ConsumerConfig) opts(logger *zap.Logger) ([]kgo.Opt, error) {
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("consumer needs a group id and at least one topic")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}

	switch cfg.StartOffset {
	case "", "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		return nil, fmt.Errorf("unsupported start offset %q", cfg.StartOffset)
	}

	if cfg.AutoCommit {
		opts = append(opts, kgo.AutoCommitInterval(time.Duration(cfg.AutoCommitIntervalMS)*time.Millisecond))
	} else {
		opts = append(opts, kgo.DisableAutoCommit())
	}
	return opts, nil
}

// NewConsumer creates a new Redpanda consumer
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	kopts, err := cfg.opts(logger)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.poolCfg != nil {
		c.pool, err = workerpool.New(*c.poolCfg, c.work, logger.Named("workerpool"))
		if err != nil {
			client.Close()
			cancel()
			return nil, err
		}
	}
	return c, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	if c.pool != nil {
		c.pool.Start()
	}
	c.wg.Add(1)
	go c.consumeLoop()
}

// Pool returns the worker pool, or nil when records are handled inline
func (c *Consumer) Pool() *workerpool.Pool { return c.pool }

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	if c.pool != nil {
		if err := c.pool.Stop(); err != nil {
			c.logger.Warn("worker pool stop", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}

	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollRecords(c.ctx, c.config.MaxPollRecords)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
				c.incrementErrorCount()
			}
			continue
		}

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		c.processBatch(records)
	}
}

// processBatch handles a polled batch and marks the successful records
func (c *Consumer) processBatch(records []*kgo.Record) {
	ok := make([]bool, len(records))
	if c.pool == nil {
		for i, record := range records {
			ok[i] = c.processRecord(c.ctx, record) == nil
		}
	} else {
		var wg sync.WaitGroup
		for i, record := range records {
			wg.Add(1)
			go func(i int, record *kgo.Record) {
				defer wg.Done()
				res, err := c.pool.SubmitWait(c.ctx, &workerpool.Task{
					ID:      record.Topic + "/" + strconv.Itoa(int(record.Partition)) + "/" + strconv.FormatInt(record.Offset, 10),
					Payload: record,
					Context: c.ctx,
				})
				ok[i] = err == nil && res.Success
			}(i, record)
		}
		wg.Wait()
	}

	if c.config.AutoCommit {
		return
	}
	for i, record := range records {
		if ok[i] {
			c.client.MarkCommitRecords(record)
		}
	}
	if err := c.client.CommitMarkedOffsets(c.ctx); err != nil {
		c.logger.Error("failed to commit offsets", zap.Int("records", len(records)), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.lastCommitTime = time.Now()
	c.mu.Unlock()
}

// work adapts the consumer's handler to a worker pool task
func (c *Consumer) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	record, ok := task.Payload.(*kgo.Record)
	if !ok {
		return &workerpool.Result{Error: workerpool.Permanent(fmt.Errorf("unexpected payload %T", task.Payload))}
	}
	if err := c.processRecord(ctx, record); err != nil {
		return &workerpool.Result{Error: err}
	}
	return &workerpool.Result{Success: true}
}

// processRecord runs the handler for one record
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	ctx = extractTraceContext(ctx, record)
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("message handler failed",
			zap.String("topic", record.Topic),
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
		c.incrementErrorCount()
		return err
	}

	c.incrementMetrics(len(record.Value))
	return nil
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConsumerStats{
		MessagesRead:   c.messagesRead,
		BytesRead:      c.bytesRead,
		ErrorCount:     c.errorCount,
		LastCommitTime: c.lastCommitTime,
	}
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead   int64     `json:"messages_read"`
	BytesRead      int64     `json:"bytes_read"`
	ErrorCount     int64     `json:"error_count"`
	LastCommitTime time.Time `json:"last_commit_time"`
}

func (c *Consumer) incrementMetrics(bytes int) {
	if c.consumed != nil {
		c.consumed.Inc()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesRead++
	c.bytesRead += int64(bytes)
}

func (c *Consumer) incrementErrorCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}
