package redpanda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProducerOptions(t *testing.T) {
	cfg := DefaultProducerConfig()
	opts, err := cfg.opts()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.RequiredAcks = 0
	_, err = cfg.opts()
	assert.NoError(t, err)

	cfg.Compression = "brotli"
	_, err = cfg.opts()
	assert.ErrorContains(t, err, "brotli")

	cfg = DefaultProducerConfig()
	cfg.RequiredAcks = 2
	_, err = cfg.opts()
	assert.Error(t, err)
}

func TestTopicSettings(t *testing.T) {
	topics := DefaultTopicConfigs()
	require.Len(t, topics, 4)

	orders := topics[0].configs()
	assert.Equal(t, TopicAuftragOutbound, topics[0].Name)
	assert.Equal(t, "1209600000", *orders["retention.ms"])
	assert.Equal(t, "10485760", *orders["max.message.bytes"])

	receipts := topics[1].configs()
	assert.NotContains(t, receipts, "max.message.bytes")
	assert.Equal(t, "delete", *receipts["cleanup.policy"])
}

func TestConsumerOptions(t *testing.T) {
	cfg := DefaultConsumerConfig()
	_, err := cfg.opts(zap.NewNop())
	require.NoError(t, err)

	cfg.StartOffset = "middle"
	_, err = cfg.opts(zap.NewNop())
	assert.ErrorContains(t, err, "middle")

	cfg = DefaultConsumerConfig()
	cfg.Topics = nil
	_, err = cfg.opts(zap.NewNop())
	assert.Error(t, err)
}
