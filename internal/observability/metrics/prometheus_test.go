package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsAreIsolatedPerRegistry(t *testing.T) {
	a := NewWithRegistry(prometheus.NewRegistry())
	b := NewWithRegistry(prometheus.NewRegistry())

	a.OrdersSubmitted.Inc()
	a.ReceiptsProcessed.WithLabelValues("1").Inc()

	assert.Equal(t, 1.0, value(t, a.OrdersSubmitted))
	assert.Equal(t, 0.0, value(t, b.OrdersSubmitted))
	assert.Equal(t, 1.0, value(t, a.ReceiptsProcessed.WithLabelValues("1")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.OrphanReceipts.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "padnext_receipts_orphaned_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestConsumerLagByTopic(t *testing.T) {
	m := New()
	m.ConsumerLag.WithLabelValues("padnext.quittung.inbound").Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `kafka_consumer_lag{topic="padnext.quittung.inbound"} 7`)
}
