// Package exchange ties the codec, the validator and the correlation
// tracker to persistence: orders are encoded and registered, receipts are
// decoded, checked and applied, and every resulting event is stored together
// with the messages it announces.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/internal/padnext/validate"
)

// EventStore persists delivery events with their outbound messages. Append
// fails with delivery.ErrVersionConflict when an event's transfer number and
// version are already taken.
type EventStore interface {
	Append(ctx context.Context, events []*delivery.Event, outbound []delivery.Outbound) error
	LoadAll(ctx context.Context) ([]*delivery.Event, error)
	GetEvents(ctx context.Context, transferNumber int) ([]*delivery.Event, error)
}

// Config holds the exchange settings
type Config struct {
	// Version is the schema revision used when a request names none
	Version string `yaml:"version"`
	// OrdersTopic receives encoded orders
	OrdersTopic string `yaml:"orders_topic"`
	// EventsTopic receives delivery events
	EventsTopic string `yaml:"events_topic"`
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	return Config{
		Version:     schema.Latest.String(),
		OrdersTopic: redpanda.TopicAuftragOutbound,
		EventsTopic: redpanda.TopicDeliveryEvents,
	}
}

// Service is the exchange's application service
type Service struct {
	cfg     Config
	codec   *codec.Codec
	tracker *delivery.Tracker
	store   EventStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewService wires a service. A nil codec uses the default codec, nil
// metrics a private registry.
func NewService(cfg Config, c *codec.Codec, tracker *delivery.Tracker, store EventStore, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = codec.Default()
	}
	if m == nil {
		m = metrics.NewWithRegistry(prometheus.NewRegistry())
	}
	if cfg.Version == "" {
		cfg.Version = schema.Latest.String()
	}
	if _, err := schema.ParseVersion(cfg.Version); err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	if store == nil {
		return nil, errors.New("exchange: event store is required")
	}

	s := &Service{
		cfg:     cfg,
		codec:   c,
		tracker: tracker,
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("exchange"),
	}
	tracker.Subscribe(s.observe)
	return s, nil
}

// Submission is the outcome of SubmitOrder
type Submission struct {
	TransferNumber int               `json:"transfer_number"`
	Version        string            `json:"version"`
	Delivery       delivery.Delivery `json:"delivery"`
	Document       []byte            `json:"-"`
}

// SubmitOrder validates and encodes an order for version, starts tracking
// its transfer number and stores the order for publishing. An order that
// declares no version is stamped with the target version.
func (s *Service) SubmitOrder(ctx context.Context, a *document.Auftrag, version string) (*Submission, error) {
	start := time.Now()
	if version == "" {
		version = s.cfg.Version
	}
	ctx, span := s.tracer.Start(ctx, "submit_order",
		trace.WithAttributes(
			attribute.String("transfer_number", a.Transfernr),
			attribute.String("version", version),
		))
	defer span.End()

	if a.Nachrichtentyp != nil && a.Nachrichtentyp.Version == "" {
		stamped, typ := *a, *a.Nachrichtentyp
		typ.Version = version
		stamped.Nachrichtentyp = &typ
		a = &stamped
	}
	data, err := s.codec.EncodeAuftrag(a, version)
	if err != nil {
		s.rejected(codec.RootAuftrag, err)
		span.RecordError(err)
		return nil, err
	}

	n := a.TransferNumber()
	order := delivery.Outbound{Topic: s.cfg.OrdersTopic, Key: transferKey(n), EventType: delivery.EventOrderRegistered, Payload: data}
	tr, err := s.record(ctx, n, func() (*delivery.Transition, error) {
		return s.tracker.RegisterOrder(a)
	}, order)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.OrdersSubmitted.Inc()
	s.metrics.ProcessingDuration.WithLabelValues("submit_order").Observe(time.Since(start).Seconds())
	s.logger.Info("order submitted",
		zap.Int("transfer_number", tr.TransferNumber),
		zap.String("version", version),
		zap.Int("files", a.FileCount()),
		zap.Int("bytes", len(data)))

	return &Submission{
		TransferNumber: tr.TransferNumber,
		Version:        version,
		Delivery:       tr.Delivery,
		Document:       data,
	}, nil
}

// SubmitDocument decodes an order from its wire form and submits it. An
// empty version targets the revision the order declares.
func (s *Service) SubmitDocument(ctx context.Context, data []byte, version string) (*Submission, error) {
	a, err := s.codec.DecodeAuftrag(data, version)
	if err != nil {
		s.rejected(codec.RootAuftrag, err)
		return nil, err
	}
	if version == "" {
		version = a.SchemaVersion()
	}
	return s.SubmitOrder(ctx, a, version)
}

// ReceiptOutcome is the result of processing a receipt
type ReceiptOutcome struct {
	TransferNumber int               `json:"transfer_number"`
	Orphan         bool              `json:"orphan"`
	State          delivery.State    `json:"state"`
	Delivery       delivery.Delivery `json:"delivery"`
}

// ProcessReceipt decodes and validates a receipt and applies it. The
// version hint may be empty.
func (s *Service) ProcessReceipt(ctx context.Context, data []byte, versionHint string) (*ReceiptOutcome, error) {
	q, err := s.DecodeReceipt(data, versionHint)
	if err != nil {
		return nil, err
	}
	return s.ApplyReceipt(ctx, q)
}

// DecodeReceipt decodes a receipt and checks it against its declared version
func (s *Service) DecodeReceipt(data []byte, versionHint string) (*document.Quittung, error) {
	q, err := s.codec.DecodeQuittung(data, versionHint)
	if err != nil {
		s.rejected(codec.RootQuittung, err)
		return nil, err
	}
	v, err := schema.ParseVersion(q.Version)
	if err != nil {
		return nil, err
	}
	res, err := validate.Document(q, v)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		err := res.Err()
		s.rejected(codec.RootQuittung, err)
		return nil, err
	}
	return q, nil
}

// ApplyReceipt correlates an already validated receipt and stores the result
func (s *Service) ApplyReceipt(ctx context.Context, q *document.Quittung) (*ReceiptOutcome, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "apply_receipt",
		trace.WithAttributes(attribute.String("transfer_number", q.Transfernr)))
	defer span.End()

	tr, err := s.record(ctx, q.TransferNumber(), func() (*delivery.Transition, error) {
		return s.tracker.ApplyReceipt(q)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("orphan", tr.Orphan), attribute.String("state", string(tr.To)))
	s.metrics.ProcessingDuration.WithLabelValues("apply_receipt").Observe(time.Since(start).Seconds())
	if tr.Orphan {
		s.metrics.OrphanReceipts.Inc()
		s.logger.Warn("receipt for unknown transfer number",
			zap.Int("transfer_number", tr.TransferNumber),
			zap.Int("receipts", tr.Delivery.Receipts))
	} else {
		s.metrics.ReceiptsProcessed.WithLabelValues(strconv.Itoa(tr.Delivery.Status)).Inc()
		s.logger.Info("receipt applied",
			zap.Int("transfer_number", tr.TransferNumber),
			zap.Int("status", tr.Delivery.Status),
			zap.Bool("file_count_mismatch", tr.Delivery.FileCountMismatch))
	}

	return &ReceiptOutcome{
		TransferNumber: tr.TransferNumber,
		Orphan:         tr.Orphan,
		State:          tr.To,
		Delivery:       tr.Delivery,
	}, nil
}

// Check decodes any PADnext document and validates it. The version may be
// empty when the document declares one.
func (s *Service) Check(data []byte, version string) (*codec.Message, *validate.Result, error) {
	m, err := s.codec.Decode(data, version)
	if m == nil {
		return nil, nil, err
	}
	var parseErr *codec.ParseError
	if err != nil && !(errors.As(err, &parseErr) && errors.Is(err, codec.ErrMissingRequired)) {
		return m, nil, err
	}
	v := m.Version
	if version != "" {
		if v, err = schema.ParseVersion(version); err != nil {
			return m, nil, err
		}
	}
	res, err := validate.Document(m.Document(), v)
	if err != nil {
		return m, nil, err
	}
	if !res.Valid() {
		s.rejected(m.Root, res.Err())
	}
	return m, res, nil
}

// Status returns the tracked state of a transfer number
func (s *Service) Status(transferNumber int) (delivery.Delivery, bool) {
	return s.tracker.Get(transferNumber)
}

// Pending lists orders waiting at least olderThan for their receipt
func (s *Service) Pending(olderThan time.Duration) []delivery.Delivery {
	return s.tracker.Pending(olderThan)
}

// Deliveries lists every tracked transfer number
func (s *Service) Deliveries() []delivery.Delivery {
	return s.tracker.List()
}

// Lookup returns the state of a transfer number after catching up with
// events stored by other writers
func (s *Service) Lookup(ctx context.Context, transferNumber int) (delivery.Delivery, bool, error) {
	if err := s.Refresh(ctx, transferNumber); err != nil {
		return delivery.Delivery{}, false, err
	}
	d, ok := s.tracker.Get(transferNumber)
	return d, ok, nil
}

// Refresh applies the stored events of one transfer number that the
// tracker has not seen yet
func (s *Service) Refresh(ctx context.Context, transferNumber int) error {
	events, err := s.store.GetEvents(ctx, transferNumber)
	if err != nil {
		return fmt.Errorf("failed to load events of %s: %w", transferKey(transferNumber), err)
	}
	if _, err := s.tracker.Sync(events); err != nil {
		return err
	}
	return nil
}

// HandleEvent applies a delivery event published by another writer. It is
// the handler for the delivery events topic; an event that arrives out of
// sequence triggers a refresh from the store.
func (s *Service) HandleEvent(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var e delivery.Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		s.logger.Warn("undecodable delivery event skipped",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	_, err := s.tracker.Sync([]*delivery.Event{&e})
	if errors.Is(err, delivery.ErrOutOfSequence) {
		return s.Refresh(ctx, e.TransferNumber())
	}
	return err
}

// Restore replays the stored history into the tracker
func (s *Service) Restore(ctx context.Context) (int, error) {
	events, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load delivery events: %w", err)
	}
	if err := s.tracker.Restore(events); err != nil {
		return 0, err
	}
	s.updateGauges()
	s.logger.Info("delivery state restored", zap.Int("events", len(events)))
	return len(events), nil
}

// record runs a tracker step and stores the resulting event with the
// outbound messages. The step is reverted when storing fails. If another
// writer stored the same version first, the transfer number is refreshed
// from the store and the step runs once more.
func (s *Service) record(ctx context.Context, n int, step func() (*delivery.Transition, error), outbound ...delivery.Outbound) (*delivery.Transition, error) {
	for attempt := 0; ; attempt++ {
		tr, err := step()
		if err != nil {
			return nil, err
		}
		event, err := s.eventMessage(tr)
		if err != nil {
			s.revert(tr)
			return nil, err
		}
		msgs := append(append([]delivery.Outbound(nil), outbound...), event)
		err = s.store.Append(ctx, []*delivery.Event{tr.Event}, msgs)
		if err == nil {
			return tr, nil
		}
		s.revert(tr)
		if attempt > 0 || !errors.Is(err, delivery.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to store %s for %s: %w", tr.Event.EventType, transferKey(n), err)
		}
		s.logger.Info("delivery changed by another writer, refreshing", zap.Int("transfer_number", n))
		if err := s.Refresh(ctx, n); err != nil {
			return nil, err
		}
	}
}

func (s *Service) revert(tr *delivery.Transition) {
	s.tracker.Revert(tr)
	s.updateGauges()
}

// eventMessage wraps a transition's event for the events topic
func (s *Service) eventMessage(tr *delivery.Transition) (delivery.Outbound, error) {
	payload, err := json.Marshal(tr.Event)
	if err != nil {
		return delivery.Outbound{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return delivery.Outbound{
		Topic:     s.cfg.EventsTopic,
		Key:       transferKey(tr.TransferNumber),
		EventType: tr.Event.EventType,
		Payload:   payload,
	}, nil
}

func (s *Service) observe(tr delivery.Transition) {
	s.logger.Debug("delivery transition",
		zap.Int("transfer_number", tr.TransferNumber),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)))
	s.updateGauges()
}

func (s *Service) updateGauges() {
	counts := s.tracker.Counts()
	for _, state := range []delivery.State{delivery.StateSent, delivery.StateAcknowledged, delivery.StateOrphaned} {
		s.metrics.Deliveries.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// rejected records a document that failed decoding or validation
func (s *Service) rejected(root string, err error) {
	s.metrics.ValidationFailures.WithLabelValues(root).Inc()
	for _, v := range Violations(err) {
		s.metrics.Violations.WithLabelValues(string(v.Kind)).Inc()
	}
}

// Violations extracts the violations carried by a codec or validation error
func Violations(err error) []schema.Violation {
	var encErr *codec.EncodeError
	if errors.As(err, &encErr) {
		return encErr.Violations
	}
	var valErr *validate.Error
	if errors.As(err, &valErr) {
		return valErr.Violations
	}
	var parseErr *codec.ParseError
	if errors.As(err, &parseErr) {
		out := make([]schema.Violation, 0, len(parseErr.Missing))
		for _, p := range parseErr.Missing {
			out = append(out, schema.Structural(p, "required", "element present", ""))
		}
		return out
	}
	return nil
}

func transferKey(n int) string { return fmt.Sprintf("%06d", n) }
