package invoice

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/audit"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/invoicefile"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/retry"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
)

// Notifier pushes status messages to a client channel.
type Notifier interface {
	Send(ctx context.Context, connectionID string, msg connection.Message) error
}

// FileParser turns an uploaded file into invoices.
type FileParser interface {
	Parse(key string, data []byte) (invoicefile.Result, error)
}

// Supported upload formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds the import workflow settings
type Config struct {
	URLExpiration time.Duration
	KeyPrefix     string

	// ProcessingTimeout bounds a PROCESSING run; past it the sweeper fails
	// the transaction with reason TIMEOUT.
	ProcessingTimeout time.Duration
	SweepBatch        int
}

// DefaultConfig returns the import defaults.
func DefaultConfig() Config {
	return Config{
		URLExpiration:     5 * time.Minute,
		KeyPrefix:         "uploads/",
		ProcessingTimeout: 10 * time.Minute,
		SweepBatch:        100,
	}
}

// failureTimeout bounds recording a failure once the run's own context is gone.
const failureTimeout = 10 * time.Second

// ImportService drives an invoice import from URL issuance to a terminal
// state. Every step is a conditional transition on the stored transaction,
// so duplicated notifications and concurrent cancels resolve against the
// stored state rather than in memory.
type ImportService struct {
	transactions invoice.TransactionRepository
	ledger       ledger.Store
	storage      invoice.ObjectStorage
	parser       FileParser
	notifier     Notifier
	bus          audit.Bus
	config       Config
	retry        retry.Policy
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	now          func() time.Time
	newID        func() string
}

// NewImportService creates a new import service. Invoice appends go
// through a ledger scope limited to the invoice and transaction
// namespaces. metrics may be nil.
func NewImportService(
	transactions invoice.TransactionRepository,
	store ledger.Store,
	storage invoice.ObjectStorage,
	parser FileParser,
	notifier Notifier,
	bus audit.Bus,
	config Config,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *ImportService {
	if config.URLExpiration <= 0 {
		config.URLExpiration = DefaultConfig().URLExpiration
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = DefaultConfig().ProcessingTimeout
	}
	if config.SweepBatch <= 0 {
		config.SweepBatch = DefaultConfig().SweepBatch
	}
	return &ImportService{
		transactions: transactions,
		ledger:       ledger.NewScopedStore(store, ledger.NamespaceInvoice, ledger.NamespaceTransaction),
		storage:      storage,
		parser:       parser,
		notifier:     notifier,
		bus:          bus,
		config:       config,
		retry:        retry.DefaultPolicy(),
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// ResourceKey is the blob key an upload for transactionID is written to.
func (s *ImportService) ResourceKey(transactionID, format string) string {
	return s.config.KeyPrefix + transactionID + "." + format
}

// TransactionIDFromKey reverses ResourceKey.
func (s *ImportService) TransactionIDFromKey(key string) (string, error) {
	name, ok := strings.CutPrefix(key, s.config.KeyPrefix)
	if !ok {
		return "", shared.ErrValidation.Withf("object %q is outside the import prefix", key)
	}
	id := strings.TrimSuffix(name, path.Ext(name))
	if id == "" || strings.Contains(id, "/") {
		return "", shared.ErrValidation.Withf("object %q does not name a transaction", key)
	}
	return id, nil
}

// RequestImport opens a transaction for connectionID, issues an upload URL
// and pushes it to the client. format selects the file type the client
// will upload; empty means JSON.
func (s *ImportService) RequestImport(ctx context.Context, connectionID, requestID, format string) (*invoice.ImportTransaction, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "import", "request",
		telemetry.WithAttribute(telemetry.SpanAttrConnectionID, connectionID))
	defer span.End()

	switch format = strings.ToLower(strings.TrimSpace(format)); format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatCSV:
	default:
		return nil, shared.ErrValidation.Withf("unsupported import format %q", format)
	}

	now := s.now()
	id := s.newID()
	ctx = logger.WithTransactionID(logger.WithConnectionID(ctx, connectionID), id)
	log := logger.L(ctx, s.logger)

	tx, err := invoice.NewImportTransaction(id, connectionID, s.ResourceKey(id, format), requestID, now, now.Add(s.config.URLExpiration))
	if err != nil {
		return nil, err
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to create import transaction", zap.Error(err))
		return nil, err
	}

	target, err := s.storage.GenerateUploadURL(ctx, tx.ResourceKey, s.config.URLExpiration)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to issue upload URL", zap.Error(err))
		if failed, ferr := s.transition(ctx, tx.TransactionID, []invoice.Status{invoice.StatusStarted}, invoice.StatusFailed, invoice.WithReason(invoice.ReasonStorage)); ferr == nil {
			s.notify(ctx, failed, connection.Message{Type: connection.TypeError, Reason: invoice.ReasonStorage})
		}
		return nil, err
	}

	tx, err = s.transition(ctx, tx.TransactionID, []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.notify(ctx, tx, connection.Message{
		Type:    connection.TypeUploadURL,
		URL:     target.URL,
		Expires: target.ExpiresAt,
	})
	log.Info("Upload URL issued", zap.String("resource_key", tx.ResourceKey))
	return tx, nil
}

// HandleUploadCompleted processes the file uploaded for key. A transaction
// that is no longer URL_ISSUED makes it return shared.ErrConditionFailed
// without any writes, which is how a repeated notification is recognised.
// A parse failure is pushed to the client and is not an error.
func (s *ImportService) HandleUploadCompleted(ctx context.Context, key string) (*invoice.ImportTransaction, error) {
	id, err := s.TransactionIDFromKey(key)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTransactionID(ctx, id)
	ctx, span := telemetry.StartServiceSpan(ctx, "import", "process",
		telemetry.WithAttribute(telemetry.SpanAttrTransactionID, id))
	defer span.End()
	log := logger.L(ctx, s.logger)

	tx, err := s.startProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrConditionFailed) {
			log.Info("Upload notification already handled", zap.String("resource_key", key))
		} else {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}
	ctx = logger.WithConnectionID(ctx, tx.ConnectionID)

	result, reason, err := s.load(ctx, key)
	if err != nil {
		telemetry.RecordError(span, err)
		failed, ferr := s.fail(ctx, tx, invoice.StatusProcessing, reason, err)
		if reason == invoice.ReasonParse && failed != nil {
			return failed, nil
		}
		return failed, ferr
	}
	done, err := s.store(ctx, tx, key, result)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return done, err
}

// HandleUploadMessage handles one message of the import queue, whose body
// is {"key": "<object key>"}. The file is read and parsed before the
// transaction leaves URL_ISSUED, so a failed delivery leaves the
// transaction untouched and the redelivery repeats the attempt. The
// delivery that exhausts the redrive budget fails the transaction and
// returns the error, and the consumer dead-letters the message.
// Notifications for transactions past URL_ISSUED are acknowledged.
func (s *ImportService) HandleUploadMessage(ctx context.Context, msg event.Message) error {
	key := gjson.GetBytes(msg.Body, "key").String()
	id, err := s.TransactionIDFromKey(key)
	if err != nil {
		return err
	}
	ctx = logger.WithTransactionID(ctx, id)
	ctx, span := telemetry.StartServiceSpan(ctx, "import", "process",
		telemetry.WithAttribute(telemetry.SpanAttrTransactionID, id),
		telemetry.WithAttribute(telemetry.SpanAttrMessageID, msg.ID))
	defer span.End()
	log := logger.L(ctx, s.logger).With(zap.Int("receive_count", msg.ReceiveCount))

	current, err := s.transactions.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		log.Warn("Upload notification for unknown transaction", zap.String("resource_key", key))
		return nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if current.Status != invoice.StatusURLIssued {
		log.Info("Upload notification already handled", zap.String("status", string(current.Status)))
		return nil
	}
	ctx = logger.WithConnectionID(ctx, current.ConnectionID)

	result, reason, err := s.load(ctx, key)
	if err != nil {
		telemetry.RecordError(span, err)
		if !msg.LastAttempt {
			log.Warn("Upload could not be loaded, leaving it for redelivery", zap.Error(err))
			return err
		}
		_, err = s.fail(ctx, current, invoice.StatusURLIssued, reason, err)
		return err
	}

	tx, err := s.startProcessing(ctx, id)
	if errors.Is(err, shared.ErrConditionFailed) {
		log.Info("Upload notification already handled")
		return nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if _, err := s.store(ctx, tx, key, result); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// startProcessing moves id from URL_ISSUED to PROCESSING with a processing
// deadline, after which ExpireStale fails it, and tells the client.
func (s *ImportService) startProcessing(ctx context.Context, id string) (*invoice.ImportTransaction, error) {
	tx, err := s.transition(ctx, id, []invoice.Status{invoice.StatusURLIssued}, invoice.StatusProcessing,
		invoice.WithDeadline(s.now().Add(s.config.ProcessingTimeout)))
	if err != nil {
		return nil, err
	}
	s.notify(ctx, tx, connection.Message{Type: connection.TypeStatus, Status: string(invoice.StatusProcessing)})
	return tx, nil
}

// load reads and parses the uploaded file. On error it also returns the
// failure reason to record.
func (s *ImportService) load(ctx context.Context, key string) (invoicefile.Result, string, error) {
	log := logger.L(ctx, s.logger)
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		log.Error("Failed to read uploaded file", zap.Error(err))
		return invoicefile.Result{}, invoice.ReasonStorage, err
	}
	var result invoicefile.Result
	telemetry.WithProfilingLabels(ctx, importLabels(key, "parse"), func(context.Context) {
		result, err = s.parser.Parse(key, data)
	})
	if err != nil {
		log.Warn("Uploaded file could not be parsed", zap.Error(err))
		return invoicefile.Result{}, invoice.ReasonParse, err
	}
	return result, "", nil
}

// store writes the parsed invoices of a PROCESSING transaction and
// completes it.
func (s *ImportService) store(ctx context.Context, tx *invoice.ImportTransaction, key string, result invoicefile.Result) (*invoice.ImportTransaction, error) {
	log := logger.L(ctx, s.logger)
	rejected := 0
	if result.Rejected != nil {
		rejected = result.Rejected.TotalCount()
		if rejected > 0 {
			log.Warn("Invoice records rejected", zap.Int("rejected", rejected), zap.String("errors", result.Rejected.String()))
		}
	}

	var processed, duplicates int
	var err error
	telemetry.WithProfilingLabels(ctx, importLabels(key, "write"), func(ctx context.Context) {
		processed, duplicates, err = s.writeInvoices(ctx, tx, result.Invoices)
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			log.Info("Import left PROCESSING while records were written", zap.Int("processed", processed))
			return s.transactions.Get(ctx, tx.TransactionID)
		}
		log.Error("Failed to store invoices", zap.Int("processed", processed), zap.Error(err))
		return s.fail(ctx, tx, invoice.StatusProcessing, invoice.ReasonStorage, err)
	}

	done, err := s.transition(ctx, tx.TransactionID, []invoice.Status{invoice.StatusProcessing}, invoice.StatusCompleted,
		invoice.WithCounts(processed, duplicates+rejected))
	if err != nil {
		if errors.Is(err, shared.ErrConditionFailed) {
			// Cancelled or timed out after the last record; the records stay.
			current, gerr := s.transactions.Get(ctx, tx.TransactionID)
			if gerr == nil {
				s.notify(ctx, current, connection.Message{Type: connection.TypeStatus, Status: string(current.Status), Reason: current.Reason})
			}
			return current, gerr
		}
		return nil, err
	}

	if err := s.storage.Delete(ctx, key); err != nil {
		log.Warn("Failed to delete processed file", zap.Error(err))
	}
	s.notify(ctx, done, connection.Message{
		Type:      connection.TypeStatus,
		Status:    string(invoice.StatusCompleted),
		Processed: processed,
	})
	log.Info("Import completed",
		zap.Int("processed", processed),
		zap.Int("duplicates", duplicates),
		zap.Int("rejected", rejected))
	return done, nil
}

var errCancelled = errors.New("import cancelled")

// writeInvoices appends each invoice write-once. An invoice number that is
// already stored counts as a duplicate. Cancellation is checked before each
// record; records written before it stay.
func (s *ImportService) writeInvoices(ctx context.Context, tx *invoice.ImportTransaction, invoices []invoice.Invoice) (processed, duplicates int, err error) {
	for _, inv := range invoices {
		current, err := s.transactions.Get(ctx, tx.TransactionID)
		if err != nil {
			return processed, duplicates, err
		}
		if current.Status != invoice.StatusProcessing {
			return processed, duplicates, errCancelled
		}

		entry, err := inv.LedgerEntry(tx.TransactionID, s.now().UTC())
		if err != nil {
			return processed, duplicates, err
		}
		_, err = retry.Do(ctx, s.retry, shared.IsRetryable, func(ctx context.Context) error {
			return s.ledger.Append(ctx, entry, ledger.WriteOnce)
		})
		if errors.Is(err, shared.ErrConditionFailed) {
			duplicates++
			continue
		}
		if err != nil {
			return processed, duplicates, fmt.Errorf("store invoice %s: %w", inv.InvoiceNumber, err)
		}

		processed++
		s.audit(ctx, audit.Event{
			Source:     audit.SourceInvoiceImport,
			DetailType: audit.DetailInvoiceImported,
			Detail: map[string]any{
				"transactionId": tx.TransactionID,
				"invoiceNumber": inv.InvoiceNumber,
				"customerName":  inv.CustomerName,
				"totalValue":    inv.TotalValue.String(),
			},
			Time: s.now().UTC(),
		})
		s.notify(ctx, tx, connection.Message{
			Type:          connection.TypeProgress,
			InvoiceNumber: inv.InvoiceNumber,
			Processed:     processed,
		})
	}
	return processed, duplicates, nil
}

// CancelImport cancels the caller's transaction. A transaction already in a
// terminal state is left alone and its status is pushed back instead.
func (s *ImportService) CancelImport(ctx context.Context, connectionID, transactionID string) (*invoice.ImportTransaction, error) {
	ctx = logger.WithTransactionID(logger.WithConnectionID(ctx, connectionID), transactionID)
	ctx, span := telemetry.StartServiceSpan(ctx, "import", "cancel",
		telemetry.WithAttribute(telemetry.SpanAttrTransactionID, transactionID))
	defer span.End()

	if transactionID == "" {
		return nil, shared.ErrValidation.Withf("transaction id is required")
	}
	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.ConnectionID != connectionID {
		return nil, shared.ErrForbidden.Withf("transaction %s belongs to another connection", transactionID)
	}

	if !tx.Status.IsTerminal() {
		cancelled, err := s.transition(ctx, transactionID, invoice.Cancellable, invoice.StatusCancelled)
		switch {
		case err == nil:
			tx = cancelled
			logger.L(ctx, s.logger).Info("Import cancelled")
		case errors.Is(err, shared.ErrConditionFailed):
			if tx, err = s.transactions.Get(ctx, transactionID); err != nil {
				return nil, err
			}
		default:
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	s.notify(ctx, tx, connection.Message{Type: connection.TypeStatus, Status: string(tx.Status), Reason: tx.Reason})
	return tx, nil
}

// ExpireStale fails transactions whose deadline passed before now with
// reason TIMEOUT and tells their clients: URL_ISSUED ones whose upload
// window closed, and PROCESSING ones whose run never finished. It returns
// how many it expired.
func (s *ImportService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "import", "expire")
	defer span.End()

	expired := 0
	for _, status := range []invoice.Status{invoice.StatusURLIssued, invoice.StatusProcessing} {
		stale, err := s.transactions.FindExpired(ctx, status, now, s.config.SweepBatch)
		if err != nil {
			telemetry.RecordError(span, err)
			return expired, err
		}
		for _, candidate := range stale {
			txCtx := logger.WithTransactionID(ctx, candidate.TransactionID)
			tx, err := s.transition(txCtx, candidate.TransactionID, []invoice.Status{status}, invoice.StatusFailed,
				invoice.WithReason(invoice.ReasonTimeout))
			if errors.Is(err, shared.ErrConditionFailed) {
				continue
			}
			if err != nil {
				return expired, err
			}
			expired++
			s.audit(txCtx, audit.Event{
				Source:     audit.SourceInvoiceImport,
				DetailType: audit.DetailImportTimeout,
				Detail: map[string]any{
					"transactionId": tx.TransactionID,
					"resourceKey":   tx.ResourceKey,
					"expiredIn":     string(status),
				},
				Time: now.UTC(),
			})
			s.notify(txCtx, tx, connection.Message{
				Type:   connection.TypeStatus,
				Status: string(invoice.StatusFailed),
				Reason: invoice.ReasonTimeout,
			})
		}
	}
	if expired > 0 {
		logger.L(ctx, s.logger).Info("Expired stale imports", zap.Int("count", expired))
	}
	return expired, nil
}

// Status returns the transaction if it belongs to connectionID.
func (s *ImportService) Status(ctx context.Context, connectionID, transactionID string) (*invoice.ImportTransaction, error) {
	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.ConnectionID != connectionID {
		return nil, shared.ErrForbidden.Withf("transaction %s belongs to another connection", transactionID)
	}
	return tx, nil
}

func (s *ImportService) transition(ctx context.Context, id string, from []invoice.Status, to invoice.Status, mutations ...invoice.Mutation) (*invoice.ImportTransaction, error) {
	var tx *invoice.ImportTransaction
	_, err := retry.Do(ctx, s.retry, shared.IsRetryable, func(ctx context.Context) error {
		var err error
		tx, err = s.transactions.Transition(ctx, id, from, to, mutations...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(from) == 1 {
		s.metrics.Transition(string(from[0]), string(to))
	} else {
		s.metrics.Transition("ANY", string(to))
	}
	return tx, nil
}

// fail moves tx from `from` to FAILED and tells the client. The uploaded
// file is kept for inspection. cause is returned wrapped. The transition
// runs detached from ctx: a cancelled or timed-out run must still reach a
// terminal state.
func (s *ImportService) fail(ctx context.Context, tx *invoice.ImportTransaction, from invoice.Status, reason string, cause error) (*invoice.ImportTransaction, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	failed, err := s.transition(ctx, tx.TransactionID, []invoice.Status{from}, invoice.StatusFailed, invoice.WithReason(reason))
	if err != nil {
		if !errors.Is(err, shared.ErrConditionFailed) {
			logger.L(ctx, s.logger).Error("Failed to record import failure", zap.Error(err))
		}
		return nil, errors.Join(cause, err)
	}
	s.notify(ctx, failed, connection.Message{
		Type:   connection.TypeStatus,
		Status: string(invoice.StatusFailed),
		Reason: reason,
	})
	return failed, fmt.Errorf("import %s failed (%s): %w", tx.TransactionID, reason, cause)
}

// notify pushes msg to tx's connection. A client that went away does not
// affect the import; the status stays queryable in the transaction.
func (s *ImportService) notify(ctx context.Context, tx *invoice.ImportTransaction, msg connection.Message) {
	msg.TransactionID = tx.TransactionID
	if msg.RequestID == "" {
		msg.RequestID = tx.RequestID
	}
	if err := s.notifier.Send(ctx, tx.ConnectionID, msg); err != nil {
		log := logger.L(ctx, s.logger).With(zap.String("message_type", msg.Type))
		if errors.Is(err, shared.ErrChannelGone) {
			log.Info("Client channel gone, status not delivered")
			return
		}
		log.Warn("Failed to push import status", zap.Error(err))
	}
}

// importLabels tags profile samples of one import step with the file format.
func importLabels(key, region string) map[string]string {
	return telemetry.OperationLabels("import.process", map[string]string{
		telemetry.ProfilingLabelRegion: region,
		telemetry.ProfilingLabelFormat: strings.TrimPrefix(path.Ext(key), "."),
	})
}

func (s *ImportService) audit(ctx context.Context, e audit.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, e); err != nil {
		logger.L(ctx, s.logger).Warn("Failed to publish audit event",
			zap.String("detail_type", e.DetailType),
			zap.Error(err))
	}
}
