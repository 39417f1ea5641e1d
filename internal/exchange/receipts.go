package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/infrastructure/redpanda"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
	"github.com/drfirst/go-padnext/internal/padnext/validate"
	"github.com/drfirst/go-padnext/pkg/idempotency"
)

// Inbox deduplicates message handling by key
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Publisher publishes a message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

const receiptHandlerName = "apply_receipt"

// DeadLetter is published for a receipt that can never be applied
type DeadLetter struct {
	SourceTopic string             `json:"source_topic"`
	Partition   int32              `json:"partition"`
	Offset      int64              `json:"offset"`
	Key         string             `json:"key,omitempty"`
	Error       string             `json:"error"`
	Violations  []schema.Violation `json:"violations,omitempty"`
	Payload     []byte             `json:"payload"`
	RejectedAt  time.Time          `json:"rejected_at"`
}

// ReceiptHandler consumes receipts from the broker. Receipts are
// deduplicated through the inbox when one is configured; rejected receipts
// go to the dead letter topic.
type ReceiptHandler struct {
	service         *Service
	inbox           Inbox
	deadLetter      Publisher
	deadLetterTopic string
	logger          *zap.Logger
}

// NewReceiptHandler creates a handler. inbox and deadLetter may be nil.
func NewReceiptHandler(service *Service, inbox Inbox, deadLetter Publisher, deadLetterTopic string, logger *zap.Logger) *ReceiptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deadLetterTopic == "" {
		deadLetterTopic = redpanda.TopicDeadLetter
	}
	return &ReceiptHandler{
		service:         service,
		inbox:           inbox,
		deadLetter:      deadLetter,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
	}
}

// Handle processes one consumed receipt. It fails only when the message
// should be redelivered.
func (h *ReceiptHandler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	q, err := h.service.DecodeReceipt(msg.Value, msg.Headers[redpanda.HeaderVersion])
	if err != nil {
		return h.reject(ctx, msg, err)
	}

	if h.inbox == nil {
		_, err = h.service.ApplyReceipt(ctx, q)
		return h.settle(ctx, msg, err)
	}

	key := idempotency.ReceiptKey(q.TransferNumber(), q.ReceivedAt(), q.StatusCode())
	payload, err := json.Marshal(receiptRef(q))
	if err != nil {
		return fmt.Errorf("failed to marshal receipt reference: %w", err)
	}

	applied := false
	_, err = h.inbox.Process(ctx, key, receiptHandlerName, payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			out, err := h.service.ApplyReceipt(ctx, q)
			if err != nil {
				if IsRejection(err) || errors.Is(err, delivery.ErrDuplicateReceipt) {
					return nil, idempotency.Terminal(err)
				}
				return nil, err
			}
			applied = true
			return json.Marshal(out)
		})
	if err == nil && !applied {
		err = idempotency.ErrDuplicateMessage
	}
	return h.settle(ctx, msg, err)
}

// settle maps the outcome of applying a receipt to the consumer's view
func (h *ReceiptHandler) settle(ctx context.Context, msg *redpanda.ConsumedMessage, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, idempotency.ErrDuplicateMessage),
		errors.Is(err, idempotency.ErrPreviouslyFailed),
		errors.Is(err, delivery.ErrDuplicateReceipt):
		h.service.metrics.DuplicateMessages.Inc()
		h.logger.Info("duplicate receipt skipped",
			zap.String("key", string(msg.Key)),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	case IsRejection(err):
		return h.reject(ctx, msg, err)
	}
	return err
}

// reject sends a receipt that can never be applied to the dead letter topic
func (h *ReceiptHandler) reject(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) error {
	h.logger.Warn("receipt rejected",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	if h.deadLetter == nil {
		return nil
	}

	dl := DeadLetter{
		SourceTopic: msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Key:         string(msg.Key),
		Error:       cause.Error(),
		Violations:  Violations(cause),
		Payload:     msg.Value,
		RejectedAt:  time.Now().UTC(),
	}
	value, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := h.deadLetter.Publish(ctx, h.deadLetterTopic, string(msg.Key), value); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}

// IsRejection reports whether err marks a document that no retry can fix
func IsRejection(err error) bool {
	var (
		parseErr *codec.ParseError
		encErr   *codec.EncodeError
		valErr   *validate.Error
	)
	return errors.As(err, &parseErr) ||
		errors.As(err, &encErr) ||
		errors.As(err, &valErr) ||
		errors.Is(err, schema.ErrUnsupportedVersion) ||
		errors.Is(err, delivery.ErrInvalidTransferNumber)
}

type receiptReference struct {
	TransferNumber int       `json:"transfer_number"`
	Status         int       `json:"status"`
	ReceivedAt     time.Time `json:"received_at"`
	Version        string    `json:"version"`
}

func receiptRef(q *document.Quittung) receiptReference {
	return receiptReference{
		TransferNumber: q.TransferNumber(),
		Status:         q.StatusCode(),
		ReceivedAt:     q.ReceivedAt(),
		Version:        q.Version,
	}
}
