package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicQuittungInbound}
	injectTraceHeaders(ctx, record)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headerCarrier{record}.Get("traceparent"))

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestSetHeadersReplacesExisting(t *testing.T) {
	record := &kgo.Record{}
	setHeaders(record, map[string]string{HeaderTransferNumber: "123456"})
	setHeaders(record, map[string]string{HeaderTransferNumber: "654321", HeaderVersion: "2.12"})

	c := headerCarrier{record}
	assert.Equal(t, "654321", c.Get(HeaderTransferNumber))
	assert.Equal(t, "2.12", c.Get(HeaderVersion))
	assert.Len(t, record.Headers, 2)
	assert.ElementsMatch(t, []string{HeaderTransferNumber, HeaderVersion}, c.Keys())
}
