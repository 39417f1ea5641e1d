package delivery

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/padnexttest"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker() (*Tracker, *clock) {
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewTracker(WithClock(c.Now)), c
}

func TestRegisterThenAcknowledge(t *testing.T) {
	tr, _ := newTracker()

	reg, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	require.NoError(t, err)
	assert.Equal(t, State(""), reg.From)
	assert.Equal(t, StateSent, reg.To)
	assert.Equal(t, EventOrderRegistered, reg.Event.EventType)
	assert.Equal(t, "123456", reg.Event.AggregateID)
	assert.Equal(t, 1, reg.Event.Version)

	ack, err := tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.NoError(t, err)
	assert.False(t, ack.Orphan)
	assert.Equal(t, StateSent, ack.From)
	assert.Equal(t, StateAcknowledged, ack.To)
	assert.Equal(t, 2, ack.Event.Version)

	d, ok := tr.Get(123456)
	require.True(t, ok)
	assert.Equal(t, StateAcknowledged, d.State)
	assert.Equal(t, document.StatusAngenommen, d.Status)
	assert.Equal(t, 87654321, d.SenderID)
	assert.Equal(t, 12345678, d.RecipientID)
	assert.Equal(t, 2, d.DeclaredFiles)
	assert.Equal(t, 2, d.ReceivedFiles)
	assert.Equal(t, 1, d.Invoices)
	assert.False(t, d.FileCountMismatch)
	assert.Equal(t, padnexttest.Created.Add(2*time.Hour), d.ReceivedAt)
}

func TestReceiptWithErrorsAndCountMismatch(t *testing.T) {
	tr, _ := newTracker()
	_, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 200001))
	require.NoError(t, err)

	q := document.NewQuittung(200001).
		Status(document.StatusTeilweise).
		Counts(1, 0).
		AddError("DATEI", "befund.pdf fehlt").
		Build()
	ack, err := tr.ApplyReceipt(q)
	require.NoError(t, err)
	assert.Equal(t, StateAcknowledged, ack.To)
	assert.True(t, ack.Delivery.FileCountMismatch)
	assert.Equal(t, document.StatusTeilweise, ack.Delivery.Status)
	assert.Equal(t, []ReceiptError{{Art: "DATEI", Beschreibung: "befund.pdf fehlt"}}, ack.Delivery.Errors)
}

func TestOrphanReceipt(t *testing.T) {
	tr, _ := newTracker()

	first, err := tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 999999))
	require.NoError(t, err)
	assert.True(t, first.Orphan)
	assert.Equal(t, State(""), first.From)
	assert.Equal(t, StateOrphaned, first.To)
	assert.Equal(t, EventReceiptOrphaned, first.Event.EventType)

	second, err := tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 999999))
	require.NoError(t, err)
	assert.True(t, second.Orphan)
	assert.Equal(t, StateOrphaned, second.From)
	assert.Equal(t, StateOrphaned, second.To)
	assert.Equal(t, 2, second.Delivery.Receipts)

	_, ok := tr.PendingSince(999999)
	assert.False(t, ok)

	_, err = tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 999999))
	assert.ErrorIs(t, err, ErrDuplicateTransferNumber)
}

func TestDuplicates(t *testing.T) {
	tr, _ := newTracker()
	_, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	require.NoError(t, err)

	_, err = tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	assert.ErrorIs(t, err, ErrDuplicateTransferNumber)

	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.NoError(t, err)
	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	assert.ErrorIs(t, err, ErrDuplicateReceipt)

	d, _ := tr.Get(123456)
	assert.Equal(t, 1, d.Receipts)
	assert.Equal(t, 2, d.Version)
}

func TestInvalidTransferNumber(t *testing.T) {
	tr, _ := newTracker()
	_, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 4711))
	assert.ErrorIs(t, err, ErrInvalidTransferNumber)

	_, err = tr.ApplyReceipt(&document.Quittung{Transfernr: "abc"})
	assert.ErrorIs(t, err, ErrInvalidTransferNumber)
	assert.Empty(t, tr.List())
}

func TestPending(t *testing.T) {
	tr, c := newTracker()
	_, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100001))
	require.NoError(t, err)
	c.Advance(time.Hour)
	_, err = tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100002))
	require.NoError(t, err)
	_, err = tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100003))
	require.NoError(t, err)
	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 100003))
	require.NoError(t, err)
	c.Advance(30 * time.Minute)

	since, ok := tr.PendingSince(100001)
	require.True(t, ok)
	assert.Equal(t, 90*time.Minute, since)
	_, ok = tr.PendingSince(100003)
	assert.False(t, ok, "acknowledged orders are not pending")
	_, ok = tr.PendingSince(424242)
	assert.False(t, ok)

	pending := tr.Pending(time.Hour)
	require.Len(t, pending, 1)
	assert.Equal(t, 100001, pending[0].TransferNumber)

	pending = tr.Pending(0)
	require.Len(t, pending, 2)
	assert.Equal(t, 100001, pending[0].TransferNumber)
	assert.Equal(t, 100002, pending[1].TransferNumber)

	assert.Equal(t, map[State]int{StateSent: 2, StateAcknowledged: 1, StateOrphaned: 0}, tr.Counts())
}

func TestObserversSeeEveryTransition(t *testing.T) {
	tr, _ := newTracker()
	var seen []Transition
	tr.Subscribe(func(tn Transition) { seen = append(seen, tn) })

	_, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	require.NoError(t, err)
	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.NoError(t, err)
	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 654321))
	require.NoError(t, err)
	_, err = tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.Error(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, StateSent, seen[0].To)
	assert.Equal(t, StateAcknowledged, seen[1].To)
	assert.True(t, seen[2].Orphan)
}

func TestRestoreReplaysEvents(t *testing.T) {
	src, _ := newTracker()
	var events []*Event
	src.Subscribe(func(tn Transition) { events = append(events, tn.Event) })

	_, err := src.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100001))
	require.NoError(t, err)
	_, err = src.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100002))
	require.NoError(t, err)
	_, err = src.ApplyReceipt(padnexttest.Quittung(schema.Latest, 100001))
	require.NoError(t, err)
	_, err = src.ApplyReceipt(padnexttest.Quittung(schema.Latest, 999999))
	require.NoError(t, err)

	dst, _ := newTracker()
	require.NoError(t, dst.Restore(events))
	assert.Equal(t, src.List(), dst.List())

	_, err = dst.RegisterOrder(padnexttest.Auftrag(schema.Latest, 100002))
	assert.ErrorIs(t, err, ErrDuplicateTransferNumber)
}

func TestRestoreRejectsBrokenHistory(t *testing.T) {
	tr, _ := newTracker()
	e, err := NewEvent(100001, EventType("Unknown"), struct{}{}, time.Now())
	require.NoError(t, err)
	assert.Error(t, tr.Restore([]*Event{e}))
}

func TestRevert(t *testing.T) {
	tr, _ := newTracker()

	reg, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	require.NoError(t, err)
	ack, err := tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.NoError(t, err)

	tr.Revert(reg)
	d, ok := tr.Get(123456)
	require.True(t, ok, "stale transitions are ignored")
	assert.Equal(t, StateAcknowledged, d.State)

	tr.Revert(ack)
	d, _ = tr.Get(123456)
	assert.Equal(t, StateSent, d.State)
	assert.Equal(t, 1, d.Version)

	tr.Revert(reg)
	_, ok = tr.Get(123456)
	assert.False(t, ok)
}

func TestConcurrentRegistrationAndReceipts(t *testing.T) {
	tr, _ := newTracker()
	const workers = 32

	var registered, acknowledged atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456)); err == nil {
				registered.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrDuplicateTransferNumber)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), registered.Load())

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456)); err == nil {
				acknowledged.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrDuplicateReceipt)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acknowledged.Load())

	d, _ := tr.Get(123456)
	assert.Equal(t, StateAcknowledged, d.State)
	assert.Equal(t, 2, d.Version)
}

func TestSyncAppliesForeignEvents(t *testing.T) {
	source, _ := newTracker()
	reg, err := source.RegisterOrder(padnexttest.Auftrag(schema.Latest, 123456))
	require.NoError(t, err)
	ack, err := source.ApplyReceipt(padnexttest.Quittung(schema.Latest, 123456))
	require.NoError(t, err)

	replica, _ := newTracker()
	var seen []State
	replica.Subscribe(func(tr Transition) { seen = append(seen, tr.To) })

	n, err := replica.Sync([]*Event{reg.Event})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// already known events are skipped
	n, err = replica.Sync([]*Event{reg.Event, ack.Event})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []State{StateSent, StateAcknowledged}, seen)

	d, ok := replica.Get(123456)
	require.True(t, ok)
	assert.Equal(t, StateAcknowledged, d.State)
	assert.Equal(t, 2, d.Version)

	gap, _ := newTracker()
	_, err = gap.Sync([]*Event{ack.Event})
	assert.ErrorIs(t, err, ErrOutOfSequence)
	_, ok = gap.Get(123456)
	assert.False(t, ok)
}
