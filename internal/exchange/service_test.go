package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/padnexttest"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/pkg/idempotency"
)

type memoryStore struct {
	mu       sync.Mutex
	events   []*delivery.Event
	outbound []delivery.Outbound
	fail     error
}

func (s *memoryStore) Append(_ context.Context, events []*delivery.Event, outbound []delivery.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for _, e := range events {
		for _, have := range s.events {
			if have.AggregateID == e.AggregateID && have.Version == e.Version {
				return delivery.ErrVersionConflict
			}
		}
	}
	s.events = append(s.events, events...)
	s.outbound = append(s.outbound, outbound...)
	return nil
}

func (s *memoryStore) LoadAll(context.Context) ([]*delivery.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*delivery.Event(nil), s.events...), nil
}

func (s *memoryStore) GetEvents(_ context.Context, transferNumber int) ([]*delivery.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*delivery.Event
	for _, e := range s.events {
		if e.TransferNumber() == transferNumber {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryInbox struct {
	mu   sync.Mutex
	seen map[string]json.RawMessage
}

func (i *memoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if res, ok := i.seen[key]; ok {
		return &idempotency.ProcessResult{Result: res}, nil
	}
	res, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	i.seen[key] = res
	return &idempotency.ProcessResult{IsNew: true, Result: res}, nil
}

type recordingPublisher struct {
	topics []string
	values [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, value []byte) error {
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

var sentAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, store *memoryStore) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	tracker := delivery.NewTracker(delivery.WithClock(func() time.Time { return sentAt }))
	s, err := NewService(DefaultConfig(), nil, tracker, store, m, nil)
	require.NoError(t, err)
	return s, m
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, g.Write(&out))
	return out.GetGauge().GetValue()
}

func receipt(t *testing.T, q *document.Quittung) []byte {
	t.Helper()
	data, err := codec.EncodeQuittung(q, q.Version)
	require.NoError(t, err)
	return data
}

func TestSubmitOrder(t *testing.T) {
	store := &memoryStore{}
	s, m := newService(t, store)

	sub, err := s.SubmitOrder(context.Background(), padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)
	assert.Equal(t, 123456, sub.TransferNumber)
	assert.Equal(t, schema.Latest.String(), sub.Version)
	assert.Equal(t, delivery.StateSent, sub.Delivery.State)
	assert.NotEmpty(t, sub.Document)

	require.Len(t, store.events, 1)
	assert.Equal(t, delivery.EventOrderRegistered, store.events[0].EventType)
	require.Len(t, store.outbound, 2)
	assert.Equal(t, redpanda.TopicAuftragOutbound, store.outbound[0].Topic)
	assert.Equal(t, "123456", store.outbound[0].Key)
	assert.Equal(t, sub.Document, store.outbound[0].Payload)
	assert.Equal(t, redpanda.TopicDeliveryEvents, store.outbound[1].Topic)

	got, err := codec.DecodeAuftrag(store.outbound[0].Payload, "")
	require.NoError(t, err)
	assert.Equal(t, 123456, got.TransferNumber())

	assert.Equal(t, 1.0, counterValue(t, m.OrdersSubmitted))
	assert.Equal(t, 1.0, gaugeValue(t, m.Deliveries.WithLabelValues(string(delivery.StateSent))))

	_, err = s.SubmitOrder(context.Background(), padnexttest.Auftrag(schema.Latest, 123456), "")
	assert.ErrorIs(t, err, delivery.ErrDuplicateTransferNumber)
	assert.Len(t, store.events, 1)
}

func TestSubmitOrderStampsMissingVersion(t *testing.T) {
	s, _ := newService(t, &memoryStore{})
	a := padnexttest.Auftrag(schema.V(2, 10), 100001)
	a.Nachrichtentyp.Version = ""

	sub, err := s.SubmitOrder(context.Background(), a, "2.10")
	require.NoError(t, err)
	assert.Equal(t, "2.10", sub.Delivery.SchemaVersion)
	assert.Contains(t, string(sub.Document), `<nachrichtentyp version="2.10">`)
	assert.Empty(t, a.Nachrichtentyp.Version, "caller's order is left as passed")
}

func TestSubmitInvalidOrder(t *testing.T) {
	store := &memoryStore{}
	s, m := newService(t, store)
	a := padnexttest.Auftrag(schema.Latest, 123456)
	a.Absender = nil

	_, err := s.SubmitOrder(context.Background(), a, "")
	var encErr *codec.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.True(t, IsRejection(err))
	assert.NotEmpty(t, Violations(err))

	assert.Empty(t, store.events)
	_, ok := s.Status(123456)
	assert.False(t, ok)
	assert.Equal(t, 1.0, counterValue(t, m.ValidationFailures.WithLabelValues(codec.RootAuftrag)))
	assert.GreaterOrEqual(t, counterValue(t, m.Violations.WithLabelValues(string(schema.KindStructural))), 1.0)
}

func TestSubmitOrderRevertsOnStoreFailure(t *testing.T) {
	store := &memoryStore{fail: errors.New("disk full")}
	s, _ := newService(t, store)

	_, err := s.SubmitOrder(context.Background(), padnexttest.Auftrag(schema.Latest, 123456), "")
	require.Error(t, err)
	assert.False(t, IsRejection(err))

	_, ok := s.Status(123456)
	assert.False(t, ok)

	store.fail = nil
	_, err = s.SubmitOrder(context.Background(), padnexttest.Auftrag(schema.Latest, 123456), "")
	assert.NoError(t, err)
}

func TestProcessReceipt(t *testing.T) {
	store := &memoryStore{}
	s, m := newService(t, store)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)

	out, err := s.ProcessReceipt(ctx, receipt(t, padnexttest.Quittung(schema.Latest, 123456)), "")
	require.NoError(t, err)
	assert.False(t, out.Orphan)
	assert.Equal(t, delivery.StateAcknowledged, out.State)
	assert.Equal(t, document.StatusAngenommen, out.Delivery.Status)
	assert.False(t, out.Delivery.FileCountMismatch)

	assert.Len(t, store.events, 2)
	assert.Len(t, store.outbound, 3)
	assert.Equal(t, 1.0, counterValue(t, m.ReceiptsProcessed.WithLabelValues("1")))
	assert.Equal(t, 0.0, gaugeValue(t, m.Deliveries.WithLabelValues(string(delivery.StateSent))))
	assert.Equal(t, 1.0, gaugeValue(t, m.Deliveries.WithLabelValues(string(delivery.StateAcknowledged))))
	assert.Empty(t, s.Pending(0))

	_, err = s.ProcessReceipt(ctx, receipt(t, padnexttest.Quittung(schema.Latest, 123456)), "")
	assert.ErrorIs(t, err, delivery.ErrDuplicateReceipt)
}

func TestProcessOrphanReceipt(t *testing.T) {
	s, m := newService(t, &memoryStore{})

	out, err := s.ProcessReceipt(context.Background(), receipt(t, padnexttest.Quittung(schema.Latest, 999999)), "")
	require.NoError(t, err)
	assert.True(t, out.Orphan)
	assert.Equal(t, delivery.StateOrphaned, out.State)
	assert.Equal(t, 1.0, counterValue(t, m.OrphanReceipts))
}

func TestProcessReceiptVersionMismatch(t *testing.T) {
	s, _ := newService(t, &memoryStore{})
	data := receipt(t, padnexttest.Quittung(schema.Latest, 123456))

	_, err := s.ProcessReceipt(context.Background(), data, "2.0")
	assert.ErrorIs(t, err, codec.ErrVersionMismatch)
	assert.True(t, IsRejection(err))
}

func TestProcessInvalidReceipt(t *testing.T) {
	s, m := newService(t, &memoryStore{})
	q := padnexttest.Quittung(schema.Latest, 123456)
	data := receipt(t, q)
	data = []byte(strings.Replace(string(data), "<status>1</status>", "<status>0</status>", 1))

	_, err := s.ProcessReceipt(context.Background(), data, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrConstraintViolation)
	assert.True(t, IsRejection(err))
	assert.Equal(t, 1.0, counterValue(t, m.ValidationFailures.WithLabelValues(codec.RootQuittung)))
}

func TestRestore(t *testing.T) {
	store := &memoryStore{}
	s, _ := newService(t, store)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)
	_, err = s.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 234567), "")
	require.NoError(t, err)
	_, err = s.ProcessReceipt(ctx, receipt(t, padnexttest.Quittung(schema.Latest, 123456)), "")
	require.NoError(t, err)

	restored, m := newService(t, store)
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d, ok := restored.Status(123456)
	require.True(t, ok)
	assert.Equal(t, delivery.StateAcknowledged, d.State)
	pending := restored.Pending(0)
	require.Len(t, pending, 1)
	assert.Equal(t, 234567, pending[0].TransferNumber)
	assert.Len(t, restored.Deliveries(), 2)
	assert.Equal(t, 1.0, gaugeValue(t, m.Deliveries.WithLabelValues(string(delivery.StateSent))))
}

func TestConcurrentWritersConverge(t *testing.T) {
	store := &memoryStore{}
	api, _ := newService(t, store)
	consumer, m := newService(t, store)
	ctx := context.Background()

	_, err := api.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)

	// the consumer has not seen the order; its first attempt collides with
	// the stored registration and is retried after a refresh
	out, err := consumer.ProcessReceipt(ctx, receipt(t, padnexttest.Quittung(schema.Latest, 123456)), "")
	require.NoError(t, err)
	assert.False(t, out.Orphan)
	assert.Equal(t, delivery.StateAcknowledged, out.State)
	assert.Equal(t, 2, out.Delivery.Version)
	assert.Equal(t, 0.0, counterValue(t, m.OrphanReceipts))

	d, ok, err := api.Lookup(ctx, 123456)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, delivery.StateAcknowledged, d.State)

	_, err = consumer.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	assert.ErrorIs(t, err, delivery.ErrDuplicateTransferNumber)
}

func TestHandleEvent(t *testing.T) {
	store := &memoryStore{}
	writer, _ := newService(t, store)
	reader, _ := newService(t, store)
	ctx := context.Background()

	_, err := writer.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)
	_, err = writer.ProcessReceipt(ctx, receipt(t, padnexttest.Quittung(schema.Latest, 123456)), "")
	require.NoError(t, err)

	events := store.outbound
	require.Len(t, events, 3)
	assert.Equal(t, redpanda.TopicDeliveryEvents, events[2].Topic)

	// the receipt event arrives first; the gap is closed from the store
	require.NoError(t, reader.HandleEvent(ctx, &redpanda.ConsumedMessage{Value: events[2].Payload}))
	d, ok := reader.Status(123456)
	require.True(t, ok)
	assert.Equal(t, delivery.StateAcknowledged, d.State)

	require.NoError(t, reader.HandleEvent(ctx, &redpanda.ConsumedMessage{Value: events[1].Payload}))
	require.NoError(t, reader.HandleEvent(ctx, &redpanda.ConsumedMessage{Value: []byte("not json")}))
	assert.Len(t, reader.Deliveries(), 1)
}

func TestCheck(t *testing.T) {
	s, _ := newService(t, &memoryStore{})

	data, err := codec.EncodeRechnungen(padnexttest.Rechnungen(schema.Latest), schema.Latest.String())
	require.NoError(t, err)
	msg, res, err := s.Check(data, "")
	require.NoError(t, err)
	assert.Equal(t, codec.RootRechnungen, msg.Root)
	assert.True(t, res.Valid())

	broken := []byte(strings.Replace(string(data), `anzahl="3"`, `anzahl="4"`, 1))
	_, res, err = s.Check(broken, "")
	require.NoError(t, err)
	assert.False(t, res.Valid())
}

func TestReceiptHandler(t *testing.T) {
	store := &memoryStore{}
	s, m := newService(t, store)
	ctx := context.Background()
	_, err := s.SubmitOrder(ctx, padnexttest.Auftrag(schema.Latest, 123456), "")
	require.NoError(t, err)

	dl := &recordingPublisher{}
	h := NewReceiptHandler(s, &memoryInbox{seen: map[string]json.RawMessage{}}, dl, "", nil)
	msg := &redpanda.ConsumedMessage{
		Topic: redpanda.TopicQuittungInbound,
		Key:   []byte("123456"),
		Value: receipt(t, padnexttest.Quittung(schema.Latest, 123456)),
	}

	require.NoError(t, h.Handle(ctx, msg))
	d, _ := s.Status(123456)
	assert.Equal(t, delivery.StateAcknowledged, d.State)

	require.NoError(t, h.Handle(ctx, msg))
	assert.Equal(t, 1.0, counterValue(t, m.DuplicateMessages))
	assert.Len(t, store.events, 2)
	assert.Empty(t, dl.topics)
}

func TestReceiptHandlerDeadLetters(t *testing.T) {
	s, _ := newService(t, &memoryStore{})
	dl := &recordingPublisher{}
	h := NewReceiptHandler(s, nil, dl, "", nil)

	msg := &redpanda.ConsumedMessage{
		Topic:  redpanda.TopicQuittungInbound,
		Offset: 7,
		Value:  []byte(`<Quittung xmlns="http://padinfo.de/ns/pad" version="2.12" transfernr="123456"/>`),
	}
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Equal(t, []string{redpanda.TopicDeadLetter}, dl.topics)
	var got DeadLetter
	require.NoError(t, json.Unmarshal(dl.values[0], &got))
	assert.Equal(t, int64(7), got.Offset)
	assert.Equal(t, msg.Value, got.Payload)
	assert.NotEmpty(t, got.Violations)
	for _, v := range got.Violations {
		assert.Equal(t, schema.KindStructural, v.Kind)
	}
}
