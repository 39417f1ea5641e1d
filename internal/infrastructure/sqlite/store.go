// Package sqlite provides a single-file delivery event store for local
// tooling.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/drfirst/go-padnext/internal/domain/delivery"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     BLOB NOT NULL,
	version        INTEGER NOT NULL,
	timestamp      TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	UNIQUE (aggregate_id, version)
);

CREATE TABLE IF NOT EXISTS outbound (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	topic       TEXT NOT NULL,
	message_key TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     BLOB NOT NULL,
	created_at  TEXT NOT NULL
);
`

var pragmas = []string{
	"PRAGMA foreign_keys=ON",
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// Store keeps delivery events in an SQLite database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	logger.Debug("delivery store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error { return s.db.Close() }

// Append stores events and outbound messages in one transaction
func (s *Store) Append(ctx context.Context, events []*delivery.Event, outbound []delivery.Outbound) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO delivery_events (id, aggregate_id, event_type, event_data, version, timestamp, correlation_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, string(e.EventType), []byte(e.EventData), e.Version,
			e.Timestamp.UTC().Format(time.RFC3339Nano), e.CorrelationID)
		if err != nil {
			var sqlErr *sqlite.Error
			if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
				return fmt.Errorf("%w: %s version %d", delivery.ErrVersionConflict, e.AggregateID, e.Version)
			}
			return fmt.Errorf("insert event %s: %w", e.EventType, err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range outbound {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbound (topic, message_key, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.Topic, m.Key, string(m.EventType), m.Payload, now)
		if err != nil {
			return fmt.Errorf("insert outbound: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadAll returns every stored event in insertion order
func (s *Store) LoadAll(ctx context.Context) ([]*delivery.Event, error) {
	return s.query(ctx,
		`SELECT id, aggregate_id, event_type, event_data, version, timestamp, correlation_id
		 FROM delivery_events ORDER BY seq ASC`)
}

// GetEvents returns the history of one transfer number
func (s *Store) GetEvents(ctx context.Context, transferNumber int) ([]*delivery.Event, error) {
	return s.query(ctx,
		`SELECT id, aggregate_id, event_type, event_data, version, timestamp, correlation_id
		 FROM delivery_events WHERE aggregate_id = ? ORDER BY version ASC`,
		strconv.Itoa(transferNumber))
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*delivery.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*delivery.Event
	for rows.Next() {
		var (
			e     = &delivery.Event{AggregateType: delivery.AggregateType}
			typ   string
			data  []byte
			stamp string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &typ, &data, &e.Version, &stamp, &e.CorrelationID); err != nil {
			return nil, err
		}
		e.EventType = delivery.EventType(typ)
		e.EventData = data
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Outbound returns the stored outbound messages, oldest first
func (s *Store) Outbound(ctx context.Context) ([]delivery.Outbound, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, message_key, event_type, payload FROM outbound ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Outbound
	for rows.Next() {
		var (
			m   delivery.Outbound
			typ string
		)
		if err := rows.Scan(&m.Topic, &m.Key, &typ, &m.Payload); err != nil {
			return nil, err
		}
		m.EventType = delivery.EventType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}
