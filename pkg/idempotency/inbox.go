// Package idempotency provides a Postgres inbox that applies each message
// once. Keys are deterministic hashes of the fields that identify a
// message, so a redelivered Quittung maps to the row of its first arrival.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox row
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Schema creates the inbox table
const Schema = `
CREATE TABLE IF NOT EXISTS message_inbox (
	message_key  TEXT PRIMARY KEY,
	handler      TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INT NOT NULL DEFAULT 1,
	payload      JSONB,
	result       JSONB,
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_inbox_expiry ON message_inbox(expires_at);
CREATE INDEX IF NOT EXISTS idx_message_inbox_started ON message_inbox(updated_at) WHERE status = 'STARTED';
`

// InboxConfig holds inbox settings
type InboxConfig struct {
	// Retention is how long a handled message is remembered
	Retention time.Duration `yaml:"retention"`
	// SweepInterval is how often expired rows are removed
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ClaimTimeout is how long a STARTED row blocks redelivery before it
	// is taken over
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

// DefaultInboxConfig keeps receipts for 30 days
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		Retention:     30 * 24 * time.Hour,
		SweepInterval: time.Hour,
		ClaimTimeout:  5 * time.Minute,
	}
}

var (
	// ErrDuplicateMessage is returned for a message whose first delivery
	// was already handled
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress is returned while another consumer holds the claim
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed is returned for a message that failed terminally
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// TerminalError marks a handler failure that must not be retried
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so that the inbox records it as failed for good
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

func isTerminalError(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// ProcessResult is the outcome of Process
type ProcessResult struct {
	// IsNew is false when a finished earlier delivery was found
	IsNew bool
	// WasRecovered is set when a recoverable or stale row was taken over
	WasRecovered bool
	// Attempts counts the claims made on the key, this one included
	Attempts int
	Result   json.RawMessage
}

// ProcessFunc handles one message
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Inbox applies messages at most once per key
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox on pool
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultInboxConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Migrate creates the inbox table if it does not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply inbox schema: %w", err)
	}
	return nil
}

// claimQuery inserts a new row or takes over a recoverable or stale one.
// No row comes back when the key is finished, failed or held elsewhere.
const claimQuery = `
	INSERT INTO message_inbox (message_key, handler, status, payload, expires_at)
	VALUES ($1, $2, 'STARTED', $3, NOW() + $4::interval)
	ON CONFLICT (message_key) DO UPDATE
	SET status = 'STARTED',
	    attempts = message_inbox.attempts + 1,
	    updated_at = NOW(),
	    expires_at = EXCLUDED.expires_at
	WHERE message_inbox.status = 'RECOVERABLE'
	   OR (message_inbox.status = 'STARTED' AND message_inbox.updated_at < NOW() - $5::interval)
	RETURNING attempts`

// Process runs fn for key unless an earlier delivery already did. A
// finished key returns the stored result with IsNew false.
func (i *Inbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox.process",
		trace.WithAttributes(
			attribute.String("inbox.key", key),
			attribute.String("inbox.handler", handler),
		))
	defer span.End()

	var attempts int
	err := i.pool.QueryRow(ctx, claimQuery,
		key, handler, payload, interval(i.config.Retention), interval(i.config.ClaimTimeout)).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return i.settled(ctx, span, key)
	}
	if err != nil {
		span.SetStatus(codes.Error, "claim failed")
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	span.SetAttributes(attribute.Int("inbox.attempts", attempts))

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if isTerminalError(handlerErr) {
			status = StatusFailed
		}
		if err := i.release(ctx, key, status, nil, handlerErr.Error()); err != nil {
			i.logger.Error("failed to record handler error", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		span.SetStatus(codes.Error, string(status))
		return nil, handlerErr
	}

	// the handler's effect is committed; a lost update only costs a rerun
	if err := i.release(ctx, key, StatusFinished, result, ""); err != nil {
		i.logger.Error("failed to record result", zap.String("key", key), zap.Error(err))
	}
	return &ProcessResult{
		IsNew:        attempts == 1,
		WasRecovered: attempts > 1,
		Attempts:     attempts,
		Result:       result,
	}, nil
}

// settled explains why a key could not be claimed
func (i *Inbox) settled(ctx context.Context, span trace.Span, key string) (*ProcessResult, error) {
	var (
		status   Status
		attempts int
		result   json.RawMessage
	)
	err := i.pool.QueryRow(ctx,
		`SELECT status, attempts, result FROM message_inbox WHERE message_key = $1`, key).
		Scan(&status, &attempts, &result)
	if err != nil {
		// removed by the sweeper between the two statements
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageInProgress
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	span.SetAttributes(attribute.String("inbox.status", string(status)))
	switch status {
	case StatusFinished:
		return &ProcessResult{IsNew: false, Attempts: attempts, Result: result}, nil
	case StatusFailed:
		return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)
	}
	return nil, ErrMessageInProgress
}

// release ends a claim
func (i *Inbox) release(ctx context.Context, key string, status Status, result json.RawMessage, lastError string) error {
	_, err := i.pool.Exec(ctx, `
		UPDATE message_inbox
		SET status = $2, result = $3, last_error = NULLIF($4, ''), updated_at = NOW()
		WHERE message_key = $1`,
		key, status, result, lastError)
	return err
}

// GenerateKey hashes the fields that identify a message. Surrounding
// whitespace is ignored.
func GenerateKey(parts ...string) string {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.TrimSpace(p)
	}
	hash := sha256.Sum256([]byte(strings.Join(trimmed, "|")))
	return hex.EncodeToString(hash[:])
}

// ReceiptKey identifies a receipt by transfer number, arrival time and status
func ReceiptKey(transferNumber int, receivedAt time.Time, status int) string {
	return GenerateKey(
		fmt.Sprintf("%06d", transferNumber),
		receivedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		strconv.Itoa(status),
	)
}

// StartCleanup releases stale claims and starts the expiry sweeper
func (i *Inbox) StartCleanup() {
	if _, err := i.RecoverStaleEntries(i.ctx); err != nil {
		i.logger.Warn("failed to recover stale inbox entries", zap.Error(err))
	}
	go i.sweep()
	i.logger.Info("inbox sweeper started", zap.Duration("interval", i.config.SweepInterval))
}

// Stop stops the sweeper
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
}

func (i *Inbox) sweep() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			tag, err := i.pool.Exec(i.ctx, `DELETE FROM message_inbox WHERE expires_at < NOW()`)
			if err != nil {
				i.logger.Error("inbox sweep failed", zap.Error(err))
				continue
			}
			if n := tag.RowsAffected(); n > 0 {
				i.logger.Info("expired inbox entries removed", zap.Int64("deleted", n))
			}
		}
	}
}

// RecoverStaleEntries turns claims older than the claim timeout into
// RECOVERABLE rows
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE message_inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED' AND updated_at < NOW() - $1::interval`,
		interval(i.config.ClaimTimeout))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InboxStats counts inbox rows by status
type InboxStats struct {
	TotalEntries int64 `json:"total"`
	Started      int64 `json:"started"`
	Finished     int64 `json:"finished"`
	Recoverable  int64 `json:"recoverable"`
	Failed       int64 `json:"failed"`
}

// GetStats returns current inbox statistics
func (i *Inbox) GetStats(ctx context.Context) (*InboxStats, error) {
	rows, err := i.pool.Query(ctx, `SELECT status, COUNT(*) FROM message_inbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &InboxStats{}
	for rows.Next() {
		var (
			status Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.TotalEntries += n
		switch status {
		case StatusStarted:
			stats.Started = n
		case StatusFinished:
			stats.Finished = n
		case StatusRecoverable:
			stats.Recoverable = n
		case StatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// interval renders d as a Postgres interval literal
func interval(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + " milliseconds"
}
