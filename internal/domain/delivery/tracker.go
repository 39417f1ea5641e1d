package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// State represents the lifecycle state of a transfer number
type State string

const (
	StateSent         State = "sent"
	StateAcknowledged State = "acknowledged"
	StateOrphaned     State = "orphaned"
)

var (
	ErrDuplicateTransferNumber = errors.New("transfer number already tracked")
	ErrDuplicateReceipt        = errors.New("receipt already applied")
	ErrInvalidTransferNumber   = errors.New("invalid transfer number")
	// ErrVersionConflict is returned by stores when another writer already
	// stored an event with the same transfer number and version
	ErrVersionConflict = errors.New("delivery version conflict")
	ErrOutOfSequence   = errors.New("delivery event out of sequence")
)

// Delivery is a snapshot of one tracked transfer number
type Delivery struct {
	TransferNumber int       `json:"transfer_number"`
	State          State     `json:"state"`
	Version        int       `json:"version"`
	SenderID       int       `json:"sender_id,omitempty"`
	RecipientID    int       `json:"recipient_id,omitempty"`
	MessageType    string    `json:"message_type,omitempty"`
	SchemaVersion  string    `json:"schema_version,omitempty"`
	DeclaredFiles  int       `json:"declared_files,omitempty"`
	SentAt         time.Time `json:"sent_at,omitempty"`

	Status            int            `json:"status,omitempty"`
	ReceivedAt        time.Time      `json:"received_at,omitempty"`
	ReceivedFiles     int            `json:"received_files,omitempty"`
	Invoices          int            `json:"invoices,omitempty"`
	Errors            []ReceiptError `json:"errors,omitempty"`
	FileCountMismatch bool           `json:"file_count_mismatch,omitempty"`
	AcknowledgedAt    time.Time      `json:"acknowledged_at,omitempty"`
	Receipts          int            `json:"receipts"`
}

// Transition describes one state change. From is empty for a transfer
// number seen for the first time.
type Transition struct {
	TransferNumber int
	From           State
	To             State
	// Orphan is set when a receipt referenced no registered order
	Orphan   bool
	Delivery Delivery
	Event    *Event

	prev *Delivery
}

// Observer is notified of every transition after it took effect
type Observer func(Transition)

// Tracker correlates orders and receipts by transfer number. All methods
// are safe for concurrent use; changes to one transfer number are
// serialized by a single lock over the map.
type Tracker struct {
	mu         sync.Mutex
	deliveries map[int]*Delivery
	observers  []Observer
	now        func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		deliveries: make(map[int]*Delivery),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers an observer. Observers run synchronously on the
// caller's goroutine, outside the tracker's lock.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// RegisterOrder starts tracking an order in state Sent
func (t *Tracker) RegisterOrder(a *document.Auftrag) (*Transition, error) {
	n, err := checkTransferNumber(a.TransferNumber())
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if _, ok := t.deliveries[n]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %06d", ErrDuplicateTransferNumber, n)
	}
	now := t.now()
	event, err := NewEvent(n, EventOrderRegistered, &OrderRegisteredData{
		TransferNumber: n,
		SenderID:       a.SenderID(),
		RecipientID:    a.RecipientID(),
		MessageType:    a.MessageType(),
		SchemaVersion:  a.SchemaVersion(),
		DeclaredFiles:  a.FileCount(),
		CreatedAt:      a.CreatedAt(),
		SentAt:         now,
	}, now)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	tr, err := t.applyLocked(event)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	t.notify(*tr)
	return tr, nil
}

// ApplyReceipt correlates a receipt with its order. A receipt for an
// unknown transfer number is not an error: the number becomes Orphaned and
// the transition reports it. A second receipt for an acknowledged order
// fails with ErrDuplicateReceipt.
func (t *Tracker) ApplyReceipt(q *document.Quittung) (*Transition, error) {
	n, err := checkTransferNumber(q.TransferNumber())
	if err != nil {
		return nil, err
	}
	errs := make([]ReceiptError, 0, len(q.Fehler))
	for _, f := range q.Fehler {
		errs = append(errs, ReceiptError{Art: f.Art, Beschreibung: f.Beschreibung})
	}
	if len(errs) == 0 {
		errs = nil
	}

	t.mu.Lock()
	eventType := EventReceiptApplied
	if d, ok := t.deliveries[n]; !ok || d.State == StateOrphaned {
		eventType = EventReceiptOrphaned
	} else if d.State == StateAcknowledged {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %06d", ErrDuplicateReceipt, n)
	}
	now := t.now()
	event, err := NewEvent(n, eventType, &ReceiptData{
		TransferNumber: n,
		SchemaVersion:  q.Version,
		Status:         q.StatusCode(),
		ReceivedAt:     q.ReceivedAt(),
		ReceivedFiles:  q.FileCount(),
		Invoices:       q.InvoiceCount(),
		Errors:         errs,
		AppliedAt:      now,
	}, now)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	tr, err := t.applyLocked(event)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	t.notify(*tr)
	return tr, nil
}

// Restore rebuilds state from stored events, oldest first. Observers are
// not notified.
func (t *Tracker) Restore(events []*Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range events {
		if _, err := t.applyLocked(e); err != nil {
			return fmt.Errorf("failed to restore event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Sync applies events recorded elsewhere, such as by another process.
// Events at or below the known version of their transfer number are
// skipped; an event that leaves a gap fails with ErrOutOfSequence. Observers
// are notified of every applied event.
func (t *Tracker) Sync(events []*Event) (int, error) {
	var (
		applied []Transition
		err     error
	)
	t.mu.Lock()
	for _, e := range events {
		n := e.TransferNumber()
		known := 0
		if d, ok := t.deliveries[n]; ok {
			known = d.Version
		}
		if e.Version <= known {
			continue
		}
		if e.Version != known+1 {
			err = fmt.Errorf("%w: %06d is at version %d, event has %d", ErrOutOfSequence, n, known, e.Version)
			break
		}
		var tr *Transition
		if tr, err = t.applyLocked(e); err != nil {
			err = fmt.Errorf("failed to sync event %s: %w", e.ID, err)
			break
		}
		applied = append(applied, *tr)
	}
	t.mu.Unlock()

	for _, tr := range applied {
		t.notify(tr)
	}
	return len(applied), err
}

// Revert undoes a transition whose event could not be persisted. It is a
// no-op if the transfer number has moved on since.
func (t *Tracker) Revert(tr *Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.deliveries[tr.TransferNumber]
	if !ok || cur.Version != tr.Delivery.Version {
		return
	}
	if tr.prev == nil {
		delete(t.deliveries, tr.TransferNumber)
		return
	}
	prev := *tr.prev
	t.deliveries[tr.TransferNumber] = &prev
}

// Get returns the current snapshot for a transfer number
func (t *Tracker) Get(transferNumber int) (Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.deliveries[transferNumber]
	if !ok {
		return Delivery{}, false
	}
	return d.snapshot(), true
}

// PendingSince returns how long an order has been waiting for its receipt.
// The second result is false unless the transfer number is in state Sent.
func (t *Tracker) PendingSince(transferNumber int) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.deliveries[transferNumber]
	if !ok || d.State != StateSent {
		return 0, false
	}
	return t.now().Sub(d.SentAt), true
}

// Pending lists orders waiting at least olderThan, longest waiting first
func (t *Tracker) Pending(olderThan time.Duration) []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []Delivery
	for _, d := range t.deliveries {
		if d.State == StateSent && now.Sub(d.SentAt) >= olderThan {
			out = append(out, d.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].TransferNumber < out[j].TransferNumber
	})
	return out
}

// List returns all tracked deliveries ordered by transfer number
func (t *Tracker) List() []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Delivery, 0, len(t.deliveries))
	for _, d := range t.deliveries {
		out = append(out, d.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferNumber < out[j].TransferNumber })
	return out
}

// Counts returns the number of transfer numbers per state
func (t *Tracker) Counts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[State]int{StateSent: 0, StateAcknowledged: 0, StateOrphaned: 0}
	for _, d := range t.deliveries {
		out[d.State]++
	}
	return out
}

// applyLocked applies an event to the map and describes the transition
func (t *Tracker) applyLocked(e *Event) (*Transition, error) {
	n := e.TransferNumber()
	cur, exists := t.deliveries[n]
	tr := &Transition{TransferNumber: n, Event: e}
	var next Delivery
	if exists {
		prev := cur.snapshot()
		tr.prev = &prev
		tr.From = cur.State
		next = cur.snapshot()
	} else {
		next = Delivery{TransferNumber: n}
	}

	switch e.EventType {
	case EventOrderRegistered:
		if exists {
			return nil, fmt.Errorf("%w: %06d", ErrDuplicateTransferNumber, n)
		}
		var data OrderRegisteredData
		if err := json.Unmarshal(e.EventData, &data); err != nil {
			return nil, err
		}
		next.State = StateSent
		next.SenderID = data.SenderID
		next.RecipientID = data.RecipientID
		next.MessageType = data.MessageType
		next.SchemaVersion = data.SchemaVersion
		next.DeclaredFiles = data.DeclaredFiles
		next.SentAt = data.SentAt

	case EventReceiptApplied, EventReceiptOrphaned:
		if exists && cur.State == StateAcknowledged {
			return nil, fmt.Errorf("%w: %06d", ErrDuplicateReceipt, n)
		}
		var data ReceiptData
		if err := json.Unmarshal(e.EventData, &data); err != nil {
			return nil, err
		}
		next.Status = data.Status
		next.ReceivedAt = data.ReceivedAt
		next.ReceivedFiles = data.ReceivedFiles
		next.Invoices = data.Invoices
		next.Errors = data.Errors
		next.Receipts++
		if e.EventType == EventReceiptOrphaned {
			next.State = StateOrphaned
			tr.Orphan = true
		} else {
			next.State = StateAcknowledged
			next.AcknowledgedAt = data.AppliedAt
			next.FileCountMismatch = data.ReceivedFiles != next.DeclaredFiles
		}

	default:
		return nil, fmt.Errorf("unknown event type %q", e.EventType)
	}

	next.Version++
	e.Version = next.Version
	t.deliveries[n] = &next
	tr.To = next.State
	tr.Delivery = next.snapshot()
	return tr, nil
}

func (t *Tracker) notify(tr Transition) {
	t.mu.Lock()
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()
	for _, o := range observers {
		o(tr)
	}
}

func (d *Delivery) snapshot() Delivery {
	c := *d
	if d.Errors != nil {
		c.Errors = append([]ReceiptError(nil), d.Errors...)
	}
	return c
}

func checkTransferNumber(n int) (int, error) {
	if _, v := schema.TransferNr.AcceptInt(int64(n)); v != nil {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTransferNumber, n)
	}
	return n, nil
}
