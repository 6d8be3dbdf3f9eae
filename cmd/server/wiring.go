package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	connectionapp "github.com/carlosmonteiro/serverless-commerce/internal/application/connection"
	identityapp "github.com/carlosmonteiro/serverless-commerce/internal/application/identity"
	invoiceapp "github.com/carlosmonteiro/serverless-commerce/internal/application/invoice"
	orderapp "github.com/carlosmonteiro/serverless-commerce/internal/application/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/audit"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/order"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/auditbus"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/cache"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/config"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/dynamo"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/gateway"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/invoicefile"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/memory"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/messaging"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/notification"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/retry"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/storage"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/telemetry"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/handler"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/router"
)

// worker is a background loop owned by the application.
type worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// application holds everything main needs after wiring: the HTTP handlers,
// the workers to run beside them, and the resources to release on exit.
type application struct {
	log      *zap.Logger
	metrics  *telemetry.Metrics
	blocked  *identityapp.BlockedUserService
	handlers router.Handlers
	workers  []worker
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (a *application) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *application) start(ctx context.Context) error {
	for i, w := range a.workers {
		if err := w.Start(ctx); err != nil {
			for _, started := range a.workers[:i] {
				_ = started.Stop(ctx)
			}
			return err
		}
	}
	return nil
}

// stop drains workers in reverse start order, then releases resources in
// reverse acquisition order.
func (a *application) stop(ctx context.Context) {
	for i := len(a.workers) - 1; i >= 0; i-- {
		if err := a.workers[i].Stop(ctx); err != nil {
			a.log.Warn("Worker did not stop cleanly", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn("Failed to release resource", zap.String("resource", c.name), zap.Error(err))
		}
	}
}

// stores are the persistence ports selected by store.driver.
type stores struct {
	ledger       ledger.Store
	transactions invoice.TransactionRepository
	connections  connection.Directory
	blocked      identity.BlockedUserRepository
}

// infra carries the shared clients opened once and handed to each builder.
type infra struct {
	aws   aws.Config
	db    *persistence.Database
	redis *redis.Client
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *application, err error) {
	app := &application{log: log}
	defer func() {
		if err != nil {
			app.stop(context.WithoutCancel(ctx))
		}
	}()
	if cfg.Telemetry.MetricsEnabled {
		app.metrics = telemetry.NewMetrics()
	}

	var in infra
	if usesAWS(cfg) {
		if in.aws, err = loadAWSConfig(ctx, cfg.AWS); err != nil {
			return nil, err
		}
	}
	if cfg.Store.Driver == "sql" || cfg.Queue.Driver == "sql" {
		in.db, err = persistence.NewDatabase(&cfg.Database,
			persistence.WithLogger(log),
			persistence.WithTracing(cfg.Telemetry.DBTraceEnabled),
		)
		if err != nil {
			return nil, err
		}
		app.onClose("database", in.db.Close)
		// Postgres schemas are owned by cmd/migrate.
		if cfg.Database.Driver == "sqlite" {
			if err = in.db.AutoMigrate(); err != nil {
				return nil, err
			}
		}
	}
	if cfg.Gateway.Directory == "redis" || (cfg.Idempotency.Enabled && cfg.Idempotency.Driver == "redis") {
		if in.redis, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		app.onClose("redis", in.redis.Close)
	}

	st := buildStores(cfg, in)
	app.blocked = identityapp.NewBlockedUserService(st.blocked, log)

	bus := buildAuditBus(cfg, in, log)
	serializer := event.NewSerializer(cfg.Topic.MaxMessageBytes)

	source, deadLetter, err := buildQueues(cfg, in)
	if err != nil {
		return nil, err
	}

	emailHandle, err := buildEmailHandler(ctx, app, cfg, in, serializer, log)
	if err != nil {
		return nil, err
	}
	billing := orderapp.NewBillingHandler(serializer, bus, log)

	targets := event.NewTargetRegistry(retry.Policy{
		MaxAttempts:     cfg.Fanout.MaxAttempts,
		InitialInterval: cfg.Fanout.InitialBackoff,
		MaxInterval:     cfg.Fanout.MaxBackoff,
	})
	targets.RegisterHandler("billing", billing.Handle)
	targets.RegisterHandler("email", emailHandle)
	targets.RegisterQueue(source)
	targets.RegisterLedger(
		ledger.NewScopedStore(st.ledger, ledger.NamespaceOrder),
		orderapp.LedgerEntryBuilder(serializer, cfg.Ledger.OrderTTL),
	)

	table, err := event.BuildRoutingTable(cfg.Fanout.Subscriptions, targets)
	if err != nil {
		return nil, fmt.Errorf("invalid fan-out configuration: %w", err)
	}
	fanout := event.NewRouter(table, log,
		event.WithDeliveryTimeout(cfg.Fanout.DeliveryTimeout),
		event.WithRouterMetrics(app.metrics),
	)

	topic, err := buildTopic(app, cfg, in, fanout, log)
	if err != nil {
		return nil, err
	}
	app.onClose("topic", topic.Close)

	app.workers = append(app.workers, event.NewQueueConsumer(
		source, deadLetter, emailHandle,
		queue.Policy{
			MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			RetryDelay:        cfg.Queue.RetryDelay,
		},
		event.ConsumerConfig{
			BatchSize:      cfg.Queue.BatchSize,
			PollInterval:   cfg.Queue.PollInterval,
			HandlerTimeout: cfg.Queue.HandlerTimeout,
		},
		log, app.metrics,
	))

	publisher := orderapp.NewEventPublisher(topic, serializer, log,
		orderapp.WithBlocklist(app.blocked),
		orderapp.WithPublisherMetrics(app.metrics),
	)
	query := orderapp.NewQueryService(st.ledger, log)

	// The registry pushes through the gateway, and the websocket gateway
	// reports lifecycle events back to the registry through the dispatcher,
	// so the pusher is bound once the gateway exists.
	pusher := &deferredPusher{}
	registry := connectionapp.NewRegistry(st.connections, pusher, log, app.metrics)
	dispatcher := gateway.NewDispatcher(registry, log)

	blobs, uploads, err := buildStorage(ctx, cfg, in, log)
	if err != nil {
		return nil, err
	}
	imports := invoiceapp.NewImportService(
		st.transactions,
		st.ledger,
		blobs,
		invoicefile.NewParser(),
		registry,
		bus,
		invoiceapp.Config{
			URLExpiration:     cfg.Import.URLExpiration,
			KeyPrefix:         cfg.Import.KeyPrefix,
			ProcessingTimeout: cfg.Import.ProcessingTimeout,
		},
		log,
		app.metrics,
	)
	handler.RegisterImportActions(dispatcher, imports)

	var uploadQueue *invoiceapp.UploadQueue
	system := handler.NewSystemHandler(cfg.App.Name, version, deadLetter)
	if cfg.Import.QueueMediated {
		importSource, importDLQ, err := buildImportQueues(cfg, in)
		if err != nil {
			return nil, err
		}
		uploadQueue = invoiceapp.NewUploadQueue(importSource)
		system.AddDeadLetterQueue(importDLQ)
		app.workers = append(app.workers, event.NewQueueConsumer(
			importSource, importDLQ, imports.HandleUploadMessage,
			queue.Policy{
				MaxReceiveCount:   cfg.Import.MaxReceiveCount,
				VisibilityTimeout: cfg.Import.ProcessingTimeout,
				RetryDelay:        cfg.Queue.RetryDelay,
			},
			event.ConsumerConfig{
				BatchSize:      cfg.Import.BatchSize,
				PollInterval:   cfg.Queue.PollInterval,
				HandlerTimeout: cfg.Import.ProcessingTimeout,
			},
			log, app.metrics,
		))
	}
	if uploads != nil {
		if uploadQueue != nil {
			uploads.OnUpload(enqueueUpload(uploadQueue, log))
		} else {
			uploads.OnUpload(uploadCompleted(imports, log))
		}
	}
	app.workers = append(app.workers, invoiceapp.NewSweeper(imports, cfg.Import.SweepInterval, log))

	if in.db != nil {
		system.AddCheck("database", in.db.Ping)
	}
	if in.redis != nil {
		system.AddCheck("redis", func(ctx context.Context) error { return in.redis.Ping(ctx).Err() })
	}

	app.handlers = router.Handlers{
		System:       system,
		Orders:       handler.NewOrderEventHandler(publisher, query),
		BlockedUsers: handler.NewBlockedUserHandler(app.blocked),
		Gateway:      handler.NewGatewayHandler(dispatcher, registry),
	}
	var objects handler.ObjectWriter
	if uploads != nil {
		objects = uploads
	}
	app.handlers.Imports = handler.NewInvoiceImportHandler(imports, objects, cfg.Import.MaxFileBytes)
	if uploadQueue != nil {
		app.handlers.Imports.WithUploadQueue(uploadQueue)
	}

	switch cfg.Gateway.Driver {
	case "apigateway":
		pusher.bind(gateway.NewAPIGatewayPusherFromConfig(in.aws, cfg.Gateway.Endpoint))
	default:
		ws := gateway.NewWebSocketGateway(dispatcher, cfg.Gateway.PushTimeout, log)
		pusher.bind(ws)
		app.handlers.WebSocket = ws
	}
	return app, nil
}

func usesAWS(cfg *config.Config) bool {
	return cfg.Store.Driver == "dynamodb" ||
		cfg.Storage.Driver == "s3" ||
		cfg.Topic.Driver == "sns" ||
		cfg.Queue.Driver == "sqs" ||
		cfg.Gateway.Driver == "apigateway" ||
		cfg.Audit.Driver == "eventbridge" ||
		cfg.Email.Driver == "ses"
}

// loadAWSConfig resolves the SDK configuration. Static keys and a custom
// endpoint are only set for local emulators; deployed instances use the
// default credential chain.
func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if c.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return awsCfg, nil
}

func buildStores(cfg *config.Config, in infra) stores {
	var st stores
	switch cfg.Store.Driver {
	case "dynamodb":
		tables := dynamo.DefaultTables()
		tables.Main = cfg.Store.Table
		tables.EmailIndex = cfg.Store.EmailIndex
		tables.Connections = cfg.Store.ConnectionsTable
		tables.BlockedUsers = cfg.Store.BlockedUsersTable
		client := dynamodb.NewFromConfig(in.aws)
		st = stores{
			ledger:       dynamo.NewLedgerStore(client, tables),
			transactions: dynamo.NewTransactionRepository(client, tables),
			connections:  dynamo.NewConnectionDirectory(client, tables, cfg.Gateway.ConnectionTTL),
			blocked:      dynamo.NewBlockedUserRepository(client, tables),
		}
	case "memory":
		st = stores{
			ledger:       memory.NewLedgerStore(),
			transactions: memory.NewTransactionRepository(),
			connections:  memory.NewConnectionDirectory(),
			blocked:      memory.NewBlockedUserRepository(),
		}
	default:
		st = stores{
			ledger:       persistence.NewLedgerStore(in.db.DB),
			transactions: persistence.NewTransactionRepository(in.db.DB),
			connections:  persistence.NewConnectionDirectory(in.db.DB),
			blocked:      persistence.NewBlockedUserRepository(in.db.DB),
		}
	}
	switch {
	case cfg.Gateway.Directory == "redis":
		st.connections = cache.NewRedisConnectionDirectory(in.redis, cfg.Gateway.ConnectionTTL)
	case cfg.Gateway.Driver == "websocket":
		// A socket can only be pushed to by the instance holding it, so the
		// directory must not be shared with other instances.
		st.connections = memory.NewConnectionDirectory()
	}
	return st
}

func buildQueues(cfg *config.Config, in infra) (source, deadLetter queue.Queue, err error) {
	switch cfg.Queue.Driver {
	case "sqs":
		client := sqs.NewFromConfig(in.aws)
		return messaging.NewSQSQueue(client, cfg.Queue.Name, cfg.Queue.SQSURL),
			messaging.NewSQSQueue(client, cfg.Queue.DeadLetterName, cfg.Queue.DeadLetterSQSURL),
			nil
	case "sql":
		return messaging.NewSQLQueue(in.db.DB, cfg.Queue.Name, cfg.Queue.VisibilityTimeout),
			messaging.NewSQLQueue(in.db.DB, cfg.Queue.DeadLetterName, cfg.Queue.VisibilityTimeout),
			nil
	}
	return nil, nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
}

// buildImportQueues opens the upload-notification queue and its DLQ on the
// same driver as the order-events queue.
func buildImportQueues(cfg *config.Config, in infra) (source, deadLetter queue.Queue, err error) {
	switch cfg.Queue.Driver {
	case "sqs":
		client := sqs.NewFromConfig(in.aws)
		return messaging.NewSQSQueue(client, cfg.Import.QueueName, cfg.Import.SQSURL),
			messaging.NewSQSQueue(client, cfg.Import.DeadLetterName, cfg.Import.DeadLetterSQSURL),
			nil
	case "sql":
		return messaging.NewSQLQueue(in.db.DB, cfg.Import.QueueName, cfg.Import.ProcessingTimeout),
			messaging.NewSQLQueue(in.db.DB, cfg.Import.DeadLetterName, cfg.Import.ProcessingTimeout),
			nil
	}
	return nil, nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
}

func buildAuditBus(cfg *config.Config, in infra, log *zap.Logger) audit.Bus {
	if cfg.Audit.Driver == "eventbridge" {
		return auditbus.NewEventBridgeBus(eventbridge.NewFromConfig(in.aws), cfg.Audit.BusName)
	}
	return auditbus.NewLogBus(log)
}

func buildEmailer(cfg *config.Config, in infra, log *zap.Logger) order.Emailer {
	if cfg.Email.Driver == "ses" {
		return notification.NewSESEmailer(sesv2.NewFromConfig(in.aws), cfg.Email.From)
	}
	return notification.NewLogEmailer(log)
}

// buildEmailHandler returns the order e-mail handler, guarded against
// redelivered messages when idempotency is enabled. Outside production a
// missing redis degrades to the in-memory store.
func buildEmailHandler(
	ctx context.Context,
	app *application,
	cfg *config.Config,
	in infra,
	serializer *event.Serializer,
	log *zap.Logger,
) (event.Handler, error) {
	emails := orderapp.NewEmailHandler(serializer, buildEmailer(cfg, in, log), log)
	if !cfg.Idempotency.Enabled {
		return emails.Handle, nil
	}
	store, err := cache.NewIdempotencyStore(ctx, cfg.Idempotency, in.redis, cfg.App.Env != "production", log)
	if err != nil {
		return nil, err
	}
	app.onClose("idempotency", store.Close)
	guarded := event.NewIdempotentHandler(emails.Handle, store, log, event.WithIdempotencyTTL(cfg.Idempotency.TTL))
	return guarded.Handle, nil
}

// buildTopic selects the order-events bus. The memory and kafka topics
// feed the in-process router; an SNS topic fans out through its own
// subscriptions, so only the queue consumer runs here.
func buildTopic(app *application, cfg *config.Config, in infra, fanout *event.Router, log *zap.Logger) (event.Topic, error) {
	switch cfg.Topic.Driver {
	case "kafka":
		topic, err := event.NewKafkaTopic(cfg.Topic.KafkaBrokers, cfg.Topic.Name)
		if err != nil {
			return nil, err
		}
		sub, err := event.NewKafkaSubscriber(cfg.Topic.KafkaBrokers, cfg.Topic.KafkaGroupID, cfg.Topic.Name, fanout.Handle, log)
		if err != nil {
			_ = topic.Close()
			return nil, err
		}
		app.workers = append(app.workers, &subscriberWorker{sub: sub, log: log})
		return topic, nil
	case "sns":
		log.Info("Fan-out delegated to SNS subscriptions", zap.String("topic_arn", cfg.Topic.SNSTopicARN))
		return event.NewSNSTopic(sns.NewFromConfig(in.aws), cfg.Topic.SNSTopicARN), nil
	default:
		return event.NewMemoryTopic(fanout.Handle, 4, log), nil
	}
}

// buildStorage returns the blob store, and the memory store again when this
// instance also serves uploads.
func buildStorage(ctx context.Context, cfg *config.Config, in infra, log *zap.Logger) (invoice.ObjectStorage, *storage.MemoryObjectStorage, error) {
	if cfg.Storage.Driver != "s3" {
		blobs := storage.NewMemoryObjectStorage(cfg.Storage.PublicBaseURL)
		return blobs, blobs, nil
	}
	s3, err := storage.NewS3ObjectStorage(in.aws, cfg.Storage.Bucket, cfg.Storage.UsePathStyle,
		storage.WithLogger(log),
		storage.WithPresignExpiration(cfg.Import.URLExpiration),
		storage.WithMaxObjectBytes(cfg.Import.MaxFileBytes),
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AWS.Endpoint != "" {
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
	}
	return s3, nil, nil
}

// uploadCompleted plays the part of the bucket notification for the memory
// store. The upload request returns without waiting for the import.
func uploadCompleted(imports *invoiceapp.ImportService, log *zap.Logger) storage.UploadHook {
	return func(ctx context.Context, key string) {
		ctx = context.WithoutCancel(ctx)
		go func() {
			if _, err := imports.HandleUploadCompleted(ctx, key); err != nil {
				log.Warn("Upload processing failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}
}

// enqueueUpload is the queue-mediated variant: the notification is queued
// and the import consumer applies the retry and dead-letter policy.
func enqueueUpload(uploads *invoiceapp.UploadQueue, log *zap.Logger) storage.UploadHook {
	return func(ctx context.Context, key string) {
		if _, err := uploads.Enqueue(context.WithoutCancel(ctx), key); err != nil {
			log.Error("Failed to queue upload notification", zap.String("key", key), zap.Error(err))
		}
	}
}

// deferredPusher forwards to a pusher bound after construction.
type deferredPusher struct {
	mu     sync.RWMutex
	target connection.Pusher
}

func (p *deferredPusher) bind(target connection.Pusher) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()
}

func (p *deferredPusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	p.mu.RLock()
	target := p.target
	p.mu.RUnlock()
	if target == nil {
		return errors.New("channel gateway not ready")
	}
	return target.Push(ctx, connectionID, payload)
}

// subscriberWorker adapts the kafka consumer-group loop to start/stop.
type subscriberWorker struct {
	sub  *event.KafkaSubscriber
	log  *zap.Logger
	done chan struct{}
	stop context.CancelFunc
}

func (w *subscriberWorker) Start(ctx context.Context) error {
	ctx, w.stop = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		if err := w.sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("Kafka subscriber stopped", zap.Error(err))
		}
	}()
	return nil
}

func (w *subscriberWorker) Stop(ctx context.Context) error {
	if w.stop == nil {
		return nil
	}
	w.stop()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.sub.Close()
}
