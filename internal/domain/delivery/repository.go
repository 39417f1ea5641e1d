package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/infrastructure/postgres"
)

const uniqueViolation = "23505"

// Repository persists delivery events and their outbound messages in
// PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Append stores events and outbox entries in one transaction
func (r *Repository) Append(ctx context.Context, events []*Event, outbound []Outbound) error {
	if len(events) == 0 && len(outbound) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range events {
		if err := r.insertEvent(ctx, tx, event); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s version %d", ErrVersionConflict, event.AggregateID, event.Version)
			}
			return fmt.Errorf("insert event %s: %w", event.EventType, err)
		}
	}

	for _, m := range outbound {
		entry := &postgres.OutboxEntry{
			AggregateID:   m.Key,
			AggregateType: AggregateType,
			EventType:     string(m.EventType),
			Payload:       m.Payload,
			Topic:         m.Topic,
			Key:           m.Key,
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("delivery events stored",
		zap.Int("events", len(events)),
		zap.Int("outbound", len(outbound)))
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO delivery_events
		(id, aggregate_id, event_type, event_data, version, timestamp, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.Timestamp,
		event.CorrelationID,
	)
	return err
}

// LoadAll returns every stored event in insertion order
func (r *Repository) LoadAll(ctx context.Context) ([]*Event, error) {
	query := `
		SELECT id, aggregate_id, event_type, event_data, version, timestamp, COALESCE(correlation_id, '')
		FROM delivery_events
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// GetEvents returns the history of one transfer number
func (r *Repository) GetEvents(ctx context.Context, transferNumber int) ([]*Event, error) {
	query := `
		SELECT id, aggregate_id, event_type, event_data, version, timestamp, COALESCE(correlation_id, '')
		FROM delivery_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`
	rows, err := r.pool.Query(ctx, query, strconv.Itoa(transferNumber))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		e := &Event{AggregateType: AggregateType}
		err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version, &e.Timestamp, &e.CorrelationID)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
