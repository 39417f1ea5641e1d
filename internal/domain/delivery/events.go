// Package delivery tracks the lifecycle of delivery orders by transfer
// number and correlates incoming receipts with them.
package delivery

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of delivery event
type EventType string

const (
	EventOrderRegistered EventType = "OrderRegistered"
	EventReceiptApplied  EventType = "ReceiptApplied"
	EventReceiptOrphaned EventType = "ReceiptOrphaned"
)

// AggregateType names the delivery aggregate in the event store
const AggregateType = "Delivery"

// Event represents a delivery event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event for a transfer number
func NewEvent(transferNumber int, eventType EventType, data interface{}, at time.Time) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   strconv.Itoa(transferNumber),
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     at,
	}, nil
}

// TransferNumber returns the transfer number the event belongs to
func (e *Event) TransferNumber() int {
	n, _ := strconv.Atoi(e.AggregateID)
	return n
}

// WithCorrelationID sets the correlation id
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// OrderRegisteredData contains the order details kept by the tracker
type OrderRegisteredData struct {
	TransferNumber int       `json:"transfer_number"`
	SenderID       int       `json:"sender_id"`
	RecipientID    int       `json:"recipient_id"`
	MessageType    string    `json:"message_type"`
	SchemaVersion  string    `json:"schema_version"`
	DeclaredFiles  int       `json:"declared_files"`
	CreatedAt      time.Time `json:"created_at"`
	SentAt         time.Time `json:"sent_at"`
}

// ReceiptData contains the receipt details kept by the tracker
type ReceiptData struct {
	TransferNumber int            `json:"transfer_number"`
	SchemaVersion  string         `json:"schema_version"`
	Status         int            `json:"status"`
	ReceivedAt     time.Time      `json:"received_at"`
	ReceivedFiles  int            `json:"received_files"`
	Invoices       int            `json:"invoices"`
	Errors         []ReceiptError `json:"errors,omitempty"`
	AppliedAt      time.Time      `json:"applied_at"`
}

// ReceiptError is one error entry reported by the receiver
type ReceiptError struct {
	Art          string `json:"art"`
	Beschreibung string `json:"beschreibung,omitempty"`
}

// Outbound is a message published after the events that caused it are
// stored
type Outbound struct {
	Topic     string
	Key       string
	EventType EventType
	Payload   []byte
}
