// Package circuitbreaker guards calls to the broker. It wraps
// sony/gobreaker and reports every call to OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Value returns the numeric gauge value of the state
func (s State) Value() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

// ErrOpen is returned when the breaker rejects a call
var ErrOpen = errors.New("circuit breaker open")

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the breaker in logs and metrics
	Name string `yaml:"name"`
	// MaxRequests is the number of trial calls let through when half-open
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval clears the closed-state counts; zero never clears them
	Interval time.Duration `yaml:"interval"`
	// Timeout is how long the breaker stays open
	Timeout time.Duration `yaml:"timeout"`
	// FailureThreshold trips the breaker after this many consecutive failures
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// FailureRatio trips the breaker once MinRequests calls were counted
	FailureRatio float64 `yaml:"failure_ratio"`
	MinRequests  uint32  `yaml:"min_requests"`

	// OnStateChange is called after every transition
	OnStateChange func(name string, to State) `yaml:"-"`
}

// DefaultConfig returns defaults for publishing to the broker
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// tripper decides when the breaker opens
func (cfg Config) tripper() func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.FailureThreshold {
			return true
		}
		if counts.Requests < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
	}
}

// CircuitBreaker guards a downstream dependency
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter
}

// New creates a breaker from cfg
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	calls, err := otel.Meter("circuit-breaker").Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through the circuit breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}

	c := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger.With(zap.String("breaker", cfg.Name)),
		tracer: otel.Tracer("circuit-breaker"),
		calls:  calls,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.tripper(),
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(cfg.Name, stateOf(to))
			}
		},
		IsSuccessful: func(err error) bool {
			// cancellations say nothing about the downstream's health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c, nil
}

// Do runs fn unless the breaker is open. Rejections wrap ErrOpen.
func (c *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker.do",
		trace.WithAttributes(
			attribute.String("breaker.name", c.name),
			attribute.String("breaker.state", string(c.GetState())),
		))
	defer span.End()

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
		err = fmt.Errorf("%w: %s: %v", ErrOpen, c.name, err)
	default:
		outcome = "failure"
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", c.name),
		attribute.String("outcome", outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return err
}

// GetState returns the current state
func (c *CircuitBreaker) GetState() State {
	return stateOf(c.cb.State())
}

// IsOpen reports whether calls are being rejected
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

// IsClosed reports whether calls pass normally
func (c *CircuitBreaker) IsClosed() bool {
	return c.GetState() == StateClosed
}
