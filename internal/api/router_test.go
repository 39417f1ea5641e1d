package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-padnext/internal/api/handlers"
	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/exchange"
	"github.com/drfirst/go-padnext/internal/observability/metrics"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/padnexttest"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

const apiKey = "test-api-key"

type memoryStore struct {
	mu     sync.Mutex
	events []*delivery.Event
}

func (s *memoryStore) Append(_ context.Context, events []*delivery.Event, _ []delivery.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memoryStore) LoadAll(context.Context) ([]*delivery.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, nil
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

type fixture struct {
	handler http.Handler
	clock   *time.Time
}

func newFixture(t *testing.T, ready error) *fixture {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}
	tracker := delivery.NewTracker(delivery.WithClock(func() time.Time { return *f.clock }))
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	svc, err := exchange.NewService(exchange.DefaultConfig(), nil, tracker, &memoryStore{}, m, nil)
	require.NoError(t, err)

	f.handler = NewRouter(RouterConfig{
		ServiceName:  "padnext-api",
		APIKeys:      map[string]string{apiKey: "test-client"},
		MaxBodyBytes: 64 << 10,
		Checks: map[string]handlers.ReadinessCheck{
			"database": func(context.Context) error { return ready },
		},
		Metrics: m.Handler(),
	}, handlers.NewDeliveryHandler(svc, nil), nil)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func orderXML(t *testing.T, n int) []byte {
	t.Helper()
	data, err := codec.EncodeAuftrag(padnexttest.Auftrag(schema.Latest, n), schema.Latest.String())
	require.NoError(t, err)
	return data
}

func receiptXML(t *testing.T, n int) []byte {
	t.Helper()
	data, err := codec.EncodeQuittung(padnexttest.Quittung(schema.Latest, n), schema.Latest.String())
	require.NoError(t, err)
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestHealthNeedsNoKey(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp handlers.HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "padnext-api", resp.Service)
}

func TestReadyReportsFailingCheck(t *testing.T) {
	f := newFixture(t, errors.New("connection refused"))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp handlers.HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "connection refused", resp.Checks["database"])
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deliveries", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/deliveries", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/auftraege", orderXML(t, 123456))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "123456", rec.Header().Get("X-Padnext-Transfernr"))

	var sub exchange.Submission
	decode(t, rec, &sub)
	assert.Equal(t, 123456, sub.TransferNumber)
	assert.Equal(t, delivery.StateSent, sub.Delivery.State)

	rec = f.do(t, http.MethodPost, "/api/v1/auftraege", orderXML(t, 123456))
	assert.Equal(t, http.StatusConflict, rec.Code)

	*f.clock = f.clock.Add(3 * time.Hour)
	rec = f.do(t, http.MethodGet, "/api/v1/deliveries?pending_older_than=2h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []delivery.Delivery
	decode(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, 123456, pending[0].TransferNumber)

	rec = f.do(t, http.MethodPost, "/api/v1/quittungen", receiptXML(t, 123456))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out exchange.ReceiptOutcome
	decode(t, rec, &out)
	assert.False(t, out.Orphan)
	assert.Equal(t, delivery.StateAcknowledged, out.State)

	rec = f.do(t, http.MethodPost, "/api/v1/quittungen", receiptXML(t, 123456))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries/123456", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d delivery.Delivery
	decode(t, rec, &d)
	assert.Equal(t, delivery.StateAcknowledged, d.State)
	assert.Equal(t, 1, d.Receipts)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries?pending_older_than=0s", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestOrphanReceipt(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/quittungen", receiptXML(t, 999999))
	require.Equal(t, http.StatusOK, rec.Code)
	var out exchange.ReceiptOutcome
	decode(t, rec, &out)
	assert.True(t, out.Orphan)
	assert.Equal(t, delivery.StateOrphaned, out.State)
}

func TestInvalidOrderIsUnprocessable(t *testing.T) {
	f := newFixture(t, nil)
	body := bytes.Replace(orderXML(t, 123456), []byte(`dateianzahl="2"`), []byte(`dateianzahl="5"`), 1)

	rec := f.do(t, http.MethodPost, "/api/v1/auftraege", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp handlers.ErrorResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Violations)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries/123456", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedAndMismatchedBodies(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/auftraege", []byte("<auftrag"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auftraege?version=2.0", orderXML(t, 123456))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "declared")

	rec = f.do(t, http.MethodPost, "/api/v1/quittungen", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/deliveries?pending_older_than=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/validate", bytes.Repeat([]byte("x"), 65<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	data, err := codec.EncodeRechnungen(padnexttest.Rechnungen(schema.Latest), schema.Latest.String())
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/api/v1/validate", data)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.ValidateResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Valid)
	assert.Equal(t, "rechnungen", resp.Root)
	assert.Equal(t, schema.Latest.String(), resp.Version)

	broken := bytes.Replace(data, []byte("<gesamt>150.00</gesamt>"), []byte("<gesamt>149.00</gesamt>"), 1)
	rec = f.do(t, http.MethodPost, "/api/v1/validate", broken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.False(t, resp.Valid)
	assert.Equal(t, 1, resp.Kinds[schema.KindStructural])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/v1/auftraege", orderXML(t, 123456))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "padnext_orders_submitted_total 1"))
}
