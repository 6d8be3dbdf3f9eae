package invoice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/audit"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/invoicefile"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/memory"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const twoInvoices = `[
  {"invoiceNumber":"INV-1","customerName":"acme","productId":"p1","quantity":2,"totalValue":"20.50"},
  {"invoiceNumber":"INV-2","customerName":"acme","productId":"p2","quantity":1,"totalValue":10}
]`

type recordingNotifier struct {
	mu     sync.Mutex
	msgs   []connection.Message
	err    error
	onSend func(connection.Message)
}

func (n *recordingNotifier) Send(_ context.Context, _ string, msg connection.Message) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	hook, err := n.onSend, n.err
	n.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Type
		if m.Type == connection.TypeStatus {
			out[i] += ":" + m.Status
		}
	}
	return out
}

func (n *recordingNotifier) last() connection.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.msgs[len(n.msgs)-1]
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.msgs = nil
	n.mu.Unlock()
}

type recordingBus struct {
	mu     sync.Mutex
	events []audit.Event
}

func (b *recordingBus) Publish(_ context.Context, events ...audit.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

type fixture struct {
	svc      *ImportService
	txs      *memory.TransactionRepository
	ledger   *memory.LedgerStore
	blobs    *storage.MemoryObjectStorage
	notifier *recordingNotifier
	bus      *recordingBus
	clock    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		txs:      memory.NewTransactionRepository(),
		ledger:   memory.NewLedgerStore(),
		blobs:    storage.NewMemoryObjectStorage("http://localhost:8080"),
		notifier: &recordingNotifier{},
		bus:      &recordingBus{},
		clock:    fixedNow,
	}
	f.svc = NewImportService(f.txs, f.ledger, f.blobs, invoicefile.NewParser(), f.notifier, f.bus, cfg, zap.NewNop(), nil)
	f.svc.now = func() time.Time { return f.clock }
	ids := 0
	f.svc.newID = func() string {
		ids++
		return "tx-" + string(rune('0'+ids))
	}
	return f
}

func (f *fixture) request(t *testing.T, format string) *invoice.ImportTransaction {
	t.Helper()
	tx, err := f.svc.RequestImport(context.Background(), "conn-1", "req-1", format)
	require.NoError(t, err)
	return tx
}

func TestRequestImport_IssuesURL(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	tx := f.request(t, "")
	assert.Equal(t, invoice.StatusURLIssued, tx.Status)
	assert.Equal(t, "uploads/tx-1.json", tx.ResourceKey)
	assert.Equal(t, fixedNow.Add(5*time.Minute), tx.ExpiresAt)

	msg := f.notifier.last()
	assert.Equal(t, connection.TypeUploadURL, msg.Type)
	assert.Equal(t, "tx-1", msg.TransactionID)
	assert.Equal(t, "req-1", msg.RequestID)
	assert.Contains(t, msg.URL, "/uploads/uploads/tx-1.json")
	assert.False(t, msg.Expires.IsZero())

	_, err := f.svc.RequestImport(context.Background(), "conn-1", "", "xml")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandleUploadCompleted_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))

	done, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Processed)
	assert.Equal(t, 0, done.Skipped)

	assert.Equal(t, []string{
		connection.TypeUploadURL,
		"STATUS:PROCESSING",
		connection.TypeProgress,
		connection.TypeProgress,
		"STATUS:COMPLETED",
	}, f.notifier.types())
	assert.Equal(t, 2, f.notifier.last().Processed)

	entry, err := f.ledger.Get(ctx, "invoice#acme", "INV-1")
	require.NoError(t, err)
	assert.Contains(t, string(entry.Payload), `"transactionId":"tx-1"`)
	assert.Equal(t, 2, f.ledger.Len())
	assert.Len(t, f.bus.events, 2)
	assert.False(t, f.blobs.Exists(tx.ResourceKey))

	// A duplicated notification finds the transaction past URL_ISSUED.
	f.notifier.reset()
	_, err = f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	assert.ErrorIs(t, err, shared.ErrConditionFailed)
	assert.Equal(t, 2, f.ledger.Len())
	assert.Empty(t, f.notifier.types())
}

func TestHandleUploadCompleted_ConcurrentNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, shared.ErrConditionFailed)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, f.ledger.Len())
	assert.Len(t, f.bus.events, 2)
}

func TestHandleUploadCompleted_CSVWithRejectedRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatCSV)
	assert.Equal(t, "uploads/tx-1.csv", tx.ResourceKey)

	csv := "invoiceNumber,customerName,productId,quantity,totalValue\n" +
		"INV-1,acme,p1,2,20.50\n" +
		"INV-2,acme,p2,zero,1\n" +
		"INV-3,globex,p3,1,5\n"
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(csv)))

	done, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Processed)
	assert.Equal(t, 1, done.Skipped)

	_, err = f.ledger.Get(ctx, "invoice#globex", "INV-3")
	assert.NoError(t, err)
}

func TestHandleUploadCompleted_AlreadyStoredInvoiceCountsAsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	first := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, first.ResourceKey, []byte(twoInvoices)))
	_, err := f.svc.HandleUploadCompleted(ctx, first.ResourceKey)
	require.NoError(t, err)

	second := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, second.ResourceKey, []byte(twoInvoices)))
	done, err := f.svc.HandleUploadCompleted(ctx, second.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, 0, done.Processed)
	assert.Equal(t, 2, done.Skipped)
	assert.Equal(t, 2, f.ledger.Len())
}

func TestHandleUploadCompleted_ParseFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("pushed to client", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)
		require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(`{"not":"an array"}`)))

		failed, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusFailed, failed.Status)
		assert.Equal(t, invoice.ReasonParse, failed.Reason)
		assert.Equal(t, invoice.ReasonParse, f.notifier.last().Reason)
		assert.True(t, f.blobs.Exists(tx.ResourceKey))
		assert.Equal(t, 0, f.ledger.Len())
	})
}

// cancellingStorage cuts the run's context off while the file is read.
type cancellingStorage struct {
	invoice.ObjectStorage
	cancel context.CancelFunc
}

func (s cancellingStorage) Get(ctx context.Context, _ string) ([]byte, error) {
	s.cancel()
	return nil, ctx.Err()
}

func TestHandleUploadCompleted_CancelledRunStillReachesFailed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.storage = cancellingStorage{ObjectStorage: f.blobs, cancel: cancel}

	failed, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, failed)
	assert.Equal(t, invoice.StatusFailed, failed.Status)

	stored, err := f.txs.Get(context.Background(), tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, stored.Status)
	assert.Equal(t, invoice.ReasonStorage, stored.Reason)
	assert.Equal(t, []string{connection.TypeUploadURL, "STATUS:PROCESSING", "STATUS:FAILED"}, f.notifier.types())
}

func TestHandleUploadCompleted_StampsProcessingDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))

	var deadline time.Time
	f.notifier.onSend = func(msg connection.Message) {
		if msg.Type == connection.TypeStatus && msg.Status == string(invoice.StatusProcessing) {
			stored, err := f.txs.Get(ctx, tx.TransactionID)
			require.NoError(t, err)
			deadline = stored.ExpiresAt
		}
	}

	_, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(10*time.Minute), deadline)
}

func uploadMessage(key string, receiveCount int, last bool) event.Message {
	return event.Message{
		ID:           "m-1",
		Body:         []byte(`{"key":"` + key + `"}`),
		ReceiveCount: receiveCount,
		LastAttempt:  last,
	}
}

func TestHandleUploadMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the import", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)
		require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))

		require.NoError(t, f.svc.HandleUploadMessage(ctx, uploadMessage(tx.ResourceKey, 1, false)))
		stored, err := f.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCompleted, stored.Status)
		assert.Equal(t, 2, f.ledger.Len())

		// redelivery is acknowledged without writes
		require.NoError(t, f.svc.HandleUploadMessage(ctx, uploadMessage(tx.ResourceKey, 2, false)))
		assert.Equal(t, 2, f.ledger.Len())
	})

	t.Run("failed parse is retried before the transaction moves", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)
		require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(`not json`)))

		err := f.svc.HandleUploadMessage(ctx, uploadMessage(tx.ResourceKey, 1, false))
		assert.ErrorIs(t, err, invoicefile.ErrMalformed)
		stored, err := f.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusURLIssued, stored.Status)
		assert.Equal(t, []string{connection.TypeUploadURL}, f.notifier.types())

		err = f.svc.HandleUploadMessage(ctx, uploadMessage(tx.ResourceKey, 3, true))
		assert.ErrorIs(t, err, invoicefile.ErrMalformed)
		stored, err = f.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusFailed, stored.Status)
		assert.Equal(t, invoice.ReasonParse, stored.Reason)
		assert.True(t, f.blobs.Exists(tx.ResourceKey))
	})

	t.Run("bad bodies and unknown transactions", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())

		err := f.svc.HandleUploadMessage(ctx, event.Message{ID: "m-1", Body: []byte(`{}`)})
		assert.ErrorIs(t, err, shared.ErrValidation)
		assert.NoError(t, f.svc.HandleUploadMessage(ctx, uploadMessage("uploads/tx-9.json", 1, false)))
	})
}

func TestUploadQueue_BadFileIsDeadLetteredOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	source := memory.NewQueue("invoice-events", time.Minute)
	dlq := memory.NewQueue("invoice-events-dlq", time.Minute)
	uploads := NewUploadQueue(source)
	consumer := event.NewQueueConsumer(source, dlq, f.svc.HandleUploadMessage,
		queue.Policy{MaxReceiveCount: 3, VisibilityTimeout: time.Minute},
		event.ConsumerConfig{BatchSize: 5, HandlerTimeout: 5 * time.Second},
		zap.NewNop(), nil)

	bad := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, bad.ResourceKey, []byte(`{"not":"an array"}`)))
	good := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, good.ResourceKey, []byte(twoInvoices)))

	for _, key := range []string{bad.ResourceKey, good.ResourceKey} {
		_, err := uploads.Enqueue(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, "invoice-events", uploads.Name())

	for range 5 {
		_, err := consumer.ProcessBatch(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, source.Len())
	require.Equal(t, 1, dlq.Len(), "dead-lettered exactly once")
	parked, err := dlq.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bad.ResourceKey, parked[0].Attributes[AttrObjectKey])

	stored, err := f.txs.Get(ctx, bad.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, stored.Status)
	assert.Equal(t, invoice.ReasonParse, stored.Reason)

	stored, err = f.txs.Get(ctx, good.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, stored.Status)

	failures := 0
	for _, typ := range f.notifier.types() {
		if typ == "STATUS:FAILED" {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "the client hears about the failure once")
}

func TestHandleUploadCompleted_MissingBlob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)

	failed, err := f.svc.HandleUploadCompleted(context.Background(), tx.ResourceKey)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	require.NotNil(t, failed)
	assert.Equal(t, invoice.ReasonStorage, failed.Reason)
}

func TestHandleUploadCompleted_UnknownKey(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.svc.HandleUploadCompleted(context.Background(), "elsewhere/tx-9.json")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.HandleUploadCompleted(context.Background(), "uploads/tx-9.json")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelImport(t *testing.T) {
	ctx := context.Background()

	t.Run("from URL_ISSUED", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)

		cancelled, err := f.svc.CancelImport(ctx, "conn-1", tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCancelled, cancelled.Status)
		assert.Equal(t, "STATUS:CANCELLED", f.notifier.types()[len(f.notifier.types())-1])

		// The upload arriving afterwards is not processed.
		require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))
		_, err = f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
		assert.ErrorIs(t, err, shared.ErrConditionFailed)
		assert.Equal(t, 0, f.ledger.Len())
	})

	t.Run("after COMPLETED is a no-op", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)
		require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))
		_, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
		require.NoError(t, err)

		got, err := f.svc.CancelImport(ctx, "conn-1", tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCompleted, got.Status)
		assert.Equal(t, string(invoice.StatusCompleted), f.notifier.last().Status)

		stored, err := f.txs.Get(ctx, tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCompleted, stored.Status)
		assert.Equal(t, 2, stored.Processed)
	})

	t.Run("foreign and unknown transactions", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		tx := f.request(t, FormatJSON)

		_, err := f.svc.CancelImport(ctx, "conn-2", tx.TransactionID)
		assert.ErrorIs(t, err, shared.ErrForbidden)
		_, err = f.svc.CancelImport(ctx, "conn-1", "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		_, err = f.svc.CancelImport(ctx, "conn-1", "")
		assert.ErrorIs(t, err, shared.ErrValidation)

		stored, err := f.svc.Status(ctx, "conn-1", tx.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusURLIssued, stored.Status)
	})
}

func TestCancelDuringProcessingKeepsCommittedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))

	var once sync.Once
	f.notifier.onSend = func(msg connection.Message) {
		if msg.Type != connection.TypeProgress {
			return
		}
		once.Do(func() {
			_, err := f.svc.CancelImport(ctx, "conn-1", tx.TransactionID)
			assert.NoError(t, err)
		})
	}

	got, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, got.Status)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	stale := f.request(t, FormatJSON)

	f.clock = fixedNow.Add(3 * time.Minute)
	fresh := f.request(t, FormatJSON)

	n, err := f.svc.ExpireStale(ctx, fixedNow.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.txs.Get(ctx, stale.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	assert.Equal(t, invoice.ReasonTimeout, got.Reason)
	assert.Equal(t, invoice.ReasonTimeout, f.notifier.last().Reason)
	assert.Equal(t, audit.DetailImportTimeout, f.bus.events[len(f.bus.events)-1].DetailType)

	got, err = f.txs.Get(ctx, fresh.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusURLIssued, got.Status)

	n, err = f.svc.ExpireStale(ctx, fixedNow.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireStale_FailsStuckProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	tx := f.request(t, FormatJSON)

	_, err := f.txs.Transition(ctx, tx.TransactionID, []invoice.Status{invoice.StatusURLIssued}, invoice.StatusProcessing,
		invoice.WithDeadline(fixedNow.Add(10*time.Minute)))
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, fixedNow.Add(9*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the processing deadline")

	n, err = f.svc.ExpireStale(ctx, fixedNow.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.txs.Get(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	assert.Equal(t, invoice.ReasonTimeout, got.Reason)
	assert.Equal(t, "STATUS:FAILED", f.notifier.types()[len(f.notifier.types())-1])
	assert.Equal(t, string(invoice.StatusProcessing), f.bus.events[len(f.bus.events)-1].Detail["expiredIn"])
}

func TestImportSurvivesGoneChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.notifier.err = shared.ErrChannelGone.Wrap(errors.New("gone"))

	tx := f.request(t, FormatJSON)
	require.NoError(t, f.blobs.Put(ctx, tx.ResourceKey, []byte(twoInvoices)))
	done, err := f.svc.HandleUploadCompleted(ctx, tx.ResourceKey)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCompleted, done.Status)
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	s := NewSweeper(f.svc, 10*time.Millisecond, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
