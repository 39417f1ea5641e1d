// Package redpanda carries delivery orders, receipts and delivery events
// over Kafka-compatible topics with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds producer settings
type ProducerConfig struct {
	Brokers []string `yaml:"brokers"`
	// BatchMaxBytes bounds a record batch; packed archives can be several MB
	BatchMaxBytes int32 `yaml:"batch_max_bytes"`
	LingerMS      int64 `yaml:"linger_ms"`
	// MaxBufferedRecords bounds records waiting to be sent
	MaxBufferedRecords int `yaml:"max_buffered_records"`
	// Compression is one of none, lz4, snappy, gzip or zstd
	Compression string `yaml:"compression"`
	// RequiredAcks is -1 for all in-sync replicas, 1 for the leader, 0 for none
	RequiredAcks   int16 `yaml:"required_acks"`
	MaxRetries     int   `yaml:"max_retries"`
	RetryBackoffMS int64 `yaml:"retry_backoff_ms"`
}

// DefaultProducerConfig returns defaults for publishing delivery messages
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:            []string{"localhost:9092"},
		BatchMaxBytes:      10 << 20,
		LingerMS:           10,
		MaxBufferedRecords: 10_000,
		Compression:        "lz4",
		RequiredAcks:       -1,
		MaxRetries:         3,
		RetryBackoffMS:     100,
	}
}

var compressionCodecs = map[string]kgo.CompressionCodec{
	"none":   kgo.NoCompression(),
	"lz4":    kgo.Lz4Compression(),
	"snappy": kgo.SnappyCompression(),
	"gzip":   kgo.GzipCompression(),
	"zstd":   kgo.ZstdCompression(),
}

// opts translates the configuration into client options
func (cfg ProducerConfig) opts() ([]kgo.Opt, error) {
	backoff := time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return backoff * time.Duration(attempt+1)
		}),
	}

	switch cfg.RequiredAcks {
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()))
	case 0:
		// idempotent writes need acks from all replicas
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("unsupported required_acks %d", cfg.RequiredAcks)
	}

	if cfg.Compression != "" {
		codec, ok := compressionCodecs[cfg.Compression]
		if !ok {
			return nil, fmt.Errorf("unsupported compression %q", cfg.Compression)
		}
		opts = append(opts, kgo.ProducerBatchCompression(codec))
	}
	return opts, nil
}

// Producer publishes records and waits for their acknowledgment
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	produced prometheus.Counter

	messagesSent  atomic.Int64
	bytesSent     atomic.Int64
	errorCount    atomic.Int64
	lastFlushTime atomic.Int64
}

// NewProducer creates a producer
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := cfg.opts()
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	p := &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}
	p.lastFlushTime.Store(time.Now().UnixNano())
	return p, nil
}

// Instrument counts produced messages on c
func (p *Producer) Instrument(c prometheus.Counter) {
	p.produced = c
}

// Publish sends value keyed by key. Keys are transfer numbers, so they are
// also carried in the transfer number header.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	var headers map[string]string
	if key != "" {
		headers = map[string]string{HeaderTransferNumber: key}
	}
	return p.ProduceMessage(ctx, topic, key, value, headers)
}

// ProduceMessage sends one record with headers and waits for the broker
func (p *Producer) ProduceMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	ctx, span := p.tracer.Start(ctx, "redpanda.produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.kafka.message_key", key),
			attribute.Int("messaging.message_size", len(value)),
		))
	defer span.End()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	setHeaders(record, headers)
	injectTraceHeaders(ctx, record)

	r, err := p.client.ProduceSync(ctx, record).First()
	if err != nil {
		p.errorCount.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "produce failed")
		p.logger.Error("failed to produce message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	p.messagesSent.Add(1)
	p.bytesSent.Add(int64(len(r.Value)))
	if p.produced != nil {
		p.produced.Inc()
	}
	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
		attribute.Int64("messaging.kafka.offset", r.Offset))
	p.logger.Debug("message produced",
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset))
	return nil
}

// Flush blocks until all buffered records are sent
func (p *Producer) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	p.lastFlushTime.Store(time.Now().UnixNano())
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	MessagesSent  int64     `json:"messages_sent"`
	BytesSent     int64     `json:"bytes_sent"`
	ErrorCount    int64     `json:"error_count"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:  p.messagesSent.Load(),
		BytesSent:     p.bytesSent.Load(),
		ErrorCount:    p.errorCount.Load(),
		LastFlushTime: time.Unix(0, p.lastFlushTime.Load()),
	}
}
