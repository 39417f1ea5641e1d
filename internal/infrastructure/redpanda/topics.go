package redpanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics used by the PADnext exchange
const (
	TopicAuftragOutbound = "padnext.auftrag.outbound"
	TopicQuittungInbound = "padnext.quittung.inbound"
	TopicDeliveryEvents  = "padnext.delivery.events"
	TopicDeadLetter      = "padnext.dead.letter"
)

// TopicConfig describes one topic. Records are keyed by transfer number, so
// all messages of a delivery share a partition.
type TopicConfig struct {
	Name              string        `yaml:"name"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	Retention         time.Duration `yaml:"retention"`
	// MaxMessageBytes raises the broker limit for packed archives; zero
	// keeps the broker default
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// configs renders the topic-level settings
func (t TopicConfig) configs() map[string]*string {
	set := func(v string) *string { return &v }
	c := map[string]*string{
		"cleanup.policy":   set("delete"),
		"compression.type": set("lz4"),
	}
	if t.Retention > 0 {
		c["retention.ms"] = set(strconv.FormatInt(t.Retention.Milliseconds(), 10))
	}
	if t.MaxMessageBytes > 0 {
		c["max.message.bytes"] = set(strconv.Itoa(t.MaxMessageBytes))
	}
	return c
}

// DefaultTopicConfigs returns the single-broker layout. Production clusters
// raise ReplicationFactor to 3.
func DefaultTopicConfigs() []TopicConfig {
	const day = 24 * time.Hour
	return []TopicConfig{
		{Name: TopicAuftragOutbound, Partitions: 6, ReplicationFactor: 1, Retention: 14 * day, MaxMessageBytes: 10 << 20},
		{Name: TopicQuittungInbound, Partitions: 6, ReplicationFactor: 1, Retention: 14 * day},
		{Name: TopicDeliveryEvents, Partitions: 6, ReplicationFactor: 1, Retention: 30 * day},
		{Name: TopicDeadLetter, Partitions: 3, ReplicationFactor: 1, Retention: 30 * day},
	}
}

// Admin manages topics and reads consumer group lag
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// CreateTopics creates every missing topic. Existing topics are left as
// they are.
func (a *Admin) CreateTopics(ctx context.Context, topics []TopicConfig) error {
	var errs []error
	for _, t := range topics {
		err := a.createTopic(ctx, t)
		switch {
		case err == nil:
			a.logger.Info("topic created", zap.String("topic", t.Name), zap.Int32("partitions", t.Partitions))
		case errors.Is(err, kerr.TopicAlreadyExists):
			a.logger.Debug("topic exists", zap.String("topic", t.Name))
		default:
			errs = append(errs, fmt.Errorf("create topic %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Admin) createTopic(ctx context.Context, t TopicConfig) error {
	resps, err := a.client.CreateTopics(ctx, t.Partitions, t.ReplicationFactor, t.configs(), t.Name)
	if err != nil {
		return err
	}
	for _, r := range resps {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// GetConsumerGroupLag returns the lag of group per topic and partition
func (a *Admin) GetConsumerGroupLag(ctx context.Context, group string) (map[string]map[int32]int64, error) {
	lags, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer group lag: %w", err)
	}
	described, ok := lags[group]
	if !ok {
		return map[string]map[int32]int64{}, nil
	}
	if err := errors.Join(described.DescribeErr, described.FetchErr); err != nil {
		return nil, fmt.Errorf("consumer group %s: %w", group, err)
	}

	out := make(map[string]map[int32]int64, len(described.Lag))
	for topic, partitions := range described.Lag {
		out[topic] = make(map[int32]int64, len(partitions))
		for p, l := range partitions {
			out[topic][p] = l.Lag
		}
	}
	return out, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck pings the brokers
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	if err := cl.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
