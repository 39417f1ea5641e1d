// Package postgres provides PostgreSQL infrastructure components.
// Implements the transactional outbox used to publish delivery events.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Schema creates the event and outbox tables
const Schema = `
CREATE TABLE IF NOT EXISTS delivery_events (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID NOT NULL UNIQUE,
	aggregate_id    TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_data      JSONB NOT NULL,
	version         INT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	correlation_id  TEXT,
	UNIQUE (aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS padnext_outbox (
	id              BIGSERIAL PRIMARY KEY,
	aggregate_id    TEXT NOT NULL,
	aggregate_type  TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	topic           TEXT NOT NULL,
	message_key     TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at    TIMESTAMPTZ,
	retry_count     INT NOT NULL DEFAULT 0,
	last_error      TEXT
);

CREATE INDEX IF NOT EXISTS padnext_outbox_pending ON padnext_outbox (created_at) WHERE processed_at IS NULL;
`

// relayLockID is the advisory lock held by the active relay
const relayLockID int64 = 0x7061646e6578

// OutboxEntry represents a message to be published via the outbox
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Topic         string
	Key           string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig holds configuration for the outbox relay
type OutboxConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int `yaml:"batch_size"`
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxRetries is the number of attempts before an entry goes to the dead letter topic
	MaxRetries int `yaml:"max_retries"`
	// DeadLetterTopic receives entries that exhausted their retries
	DeadLetterTopic string `yaml:"dead_letter_topic"`
	// RetentionPeriod is how long processed entries are kept
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "padnext.dead.letter",
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}

// OutboxPublisher defines the interface for publishing outbox entries
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox relays committed entries to the message broker
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates a new outbox relay
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		done:      make(chan struct{}),
	}
}

// Migrate creates the tables if they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WriteEntry writes an outbox entry within a transaction.
// It must run in the same transaction as the events it announces.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	query := `
		INSERT INTO padnext_outbox (aggregate_id, aggregate_type, event_type, payload, topic, message_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.Topic,
		entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}

	return nil
}

// Start begins polling until ctx is cancelled or Stop is called
func (o *Outbox) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	go o.processLoop(ctx)
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay
func (o *Outbox) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) processLoop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.processBatch(ctx)
		case <-cleanup.C:
			if n, err := o.CleanupProcessed(ctx, o.config.RetentionPeriod); err != nil {
				o.logger.Warn("outbox cleanup failed", zap.Error(err))
			} else if n > 0 {
				o.logger.Info("outbox cleaned up", zap.Int64("removed", n))
			}
		}
	}
}

// processBatch publishes one batch while holding the relay lock
func (o *Outbox) processBatch(ctx context.Context) {
	ctx, span := o.tracer.Start(ctx, "outbox_process_batch")
	defer span.End()

	conn, err := o.pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil || !acquired {
		return
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", relayLockID)

	entries, err := o.fetchUnprocessed(ctx, conn.Conn())
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.processEntry(ctx, entry); err != nil {
			o.logger.Error("failed to process outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.String("transfer_number", entry.AggregateID),
				zap.Error(err))
		}
	}

	if _, err := o.MoveToDeadLetter(ctx); err != nil {
		o.logger.Error("failed to move entries to dead letter", zap.Error(err))
	}
}

func (o *Outbox) fetchUnprocessed(ctx context.Context, conn *pgx.Conn) ([]*OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM padnext_outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := conn.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return scanEntries(rows)
}

// processEntry publishes a single entry and marks it processed
func (o *Outbox) processEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("transfer_number", entry.AggregateID),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		updateQuery := `
			UPDATE padnext_outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		if _, updateErr := o.pool.Exec(ctx, updateQuery, err.Error(), entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	markQuery := `
		UPDATE padnext_outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := o.pool.Exec(ctx, markQuery, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	o.logger.Debug("outbox entry processed",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))

	return nil
}

// CleanupProcessed removes processed entries older than olderThan
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM padnext_outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`

	result, err := o.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeadLetter is the envelope published for entries that exhausted their retries
type DeadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	EventType     string    `json:"event_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	RetryCount    int       `json:"retry_count"`
	LastError     *string   `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MoveToDeadLetter publishes exhausted entries to the dead letter topic
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM padnext_outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range entries {
		dlPayload, err := json.Marshal(DeadLetter{
			OriginalTopic: entry.Topic,
			EventType:     entry.EventType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
			RetryCount:    entry.RetryCount,
			LastError:     entry.LastError,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			continue
		}

		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.Key, dlPayload); err != nil {
			o.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}

		if _, err := o.pool.Exec(ctx, "UPDATE padnext_outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("failed to mark dead letter entry", zap.Error(err))
			continue
		}

		o.logger.Warn("outbox entry moved to dead letter",
			zap.Int64("id", entry.ID),
			zap.String("transfer_number", entry.AggregateID),
			zap.Int("retries", entry.RetryCount))
		count++
	}

	return count, nil
}

func scanEntries(rows pgx.Rows) ([]*OutboxEntry, error) {
	defer rows.Close()
	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic,
			&entry.Key, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// OutboxStats summarizes the outbox
type OutboxStats struct {
	Pending       int64      `json:"pending"`
	Processed     int64      `json:"processed_24h"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// GetStats returns current outbox statistics
func (o *Outbox) GetStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}

	err := o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM padnext_outbox WHERE processed_at IS NULL AND retry_count < $1", o.config.MaxRetries).Scan(&stats.Pending)
	if err != nil {
		return nil, err
	}

	err = o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM padnext_outbox WHERE processed_at IS NOT NULL AND processed_at > NOW() - INTERVAL '24 hours'").Scan(&stats.Processed)
	if err != nil {
		return nil, err
	}

	err = o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM padnext_outbox WHERE processed_at IS NULL AND retry_count >= $1", o.config.MaxRetries).Scan(&stats.Failed)
	if err != nil {
		return nil, err
	}

	if err := o.pool.QueryRow(ctx, "SELECT MIN(created_at) FROM padnext_outbox WHERE processed_at IS NULL").Scan(&stats.OldestPending); err != nil {
		return nil, err
	}

	return stats, nil
}
