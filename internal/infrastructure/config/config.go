package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Store       StoreConfig
	Storage     StorageConfig
	Topic       TopicConfig
	Queue       QueueConfig
	Fanout      FanoutConfig
	Ledger      LedgerConfig
	Import      ImportConfig
	Gateway     GatewayConfig
	Audit       AuditConfig
	Email       EmailConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server limits
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxBodySize     int64
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds SQL connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AWSConfig holds the shared SDK settings. Endpoint points every client at a
// local emulator when set.
type AWSConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// StoreConfig selects where ledger entries, transactions, connections and
// blocked users are kept.
type StoreConfig struct {
	Driver            string // sql, dynamodb, memory
	Table             string // dynamodb: ledger and transactions
	EmailIndex        string
	ConnectionsTable  string
	BlockedUsersTable string
}

// StorageConfig selects the blob store for uploaded invoices
type StorageConfig struct {
	Driver       string // s3, memory
	Bucket       string
	UsePathStyle bool
	// PublicBaseURL prefixes upload URLs issued by the memory store.
	PublicBaseURL string
}

// TopicConfig selects the order-events bus
type TopicConfig struct {
	Driver          string // memory, kafka, sns
	Name            string
	SNSTopicARN     string
	KafkaBrokers    []string
	KafkaGroupID    string
	MaxMessageBytes int
}

// QueueConfig configures the durable order-events queue and its DLQ
type QueueConfig struct {
	Driver            string // sql, sqs
	Name              string
	DeadLetterName    string
	SQSURL            string
	DeadLetterSQSURL  string
	MaxReceiveCount   int
	VisibilityTimeout time.Duration
	RetryDelay        time.Duration
	BatchSize         int
	PollInterval      time.Duration
	HandlerTimeout    time.Duration
}

// SubscriptionConfig is one row of the routing table.
type SubscriptionConfig struct {
	Name   string `mapstructure:"name"`
	Filter string `mapstructure:"filter"`
	// Target is "direct:<handler>", "queue:<queue>" or "ledger".
	Target string `mapstructure:"target"`
}

// FanoutConfig holds the routing table and direct-target retry policy
type FanoutConfig struct {
	Subscriptions   []SubscriptionConfig
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
}

// LedgerConfig controls order ledger entries
type LedgerConfig struct {
	OrderTTL time.Duration
}

// ImportConfig controls the invoice import workflow. With QueueMediated set,
// upload notifications go through their own queue and DLQ (driven by
// queue.driver) instead of being processed inline.
type ImportConfig struct {
	URLExpiration     time.Duration
	ProcessingTimeout time.Duration
	KeyPrefix         string
	SweepInterval     time.Duration
	MaxFileBytes      int64

	QueueMediated    bool
	QueueName        string
	DeadLetterName   string
	SQSURL           string
	DeadLetterSQSURL string
	MaxReceiveCount  int
	BatchSize        int
}

// GatewayConfig selects how client channels are tracked and pushed to
type GatewayConfig struct {
	Driver        string // websocket, apigateway
	Endpoint      string // API Gateway management endpoint
	Directory     string // store, redis
	PushTimeout   time.Duration
	ConnectionTTL time.Duration
}

// AuditConfig selects the audit bus
type AuditConfig struct {
	Driver  string // log, eventbridge
	BusName string
}

// EmailConfig selects the order notification sender
type EmailConfig struct {
	Driver string // log, ses
	From   string
}

// IdempotencyConfig controls duplicate suppression for side-effecting handlers
type IdempotencyConfig struct {
	Enabled bool
	Driver  string // memory, redis
	TTL     time.Duration
}

// TelemetryConfig holds OpenTelemetry and Prometheus configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	MetricsEnabled    bool

	ProfilingEnabled bool
	PyroscopeAddress string
	SpanProfiles     bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with COMMERCE_ prefix (e.g., COMMERCE_QUEUE_DRIVER)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("COMMERCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		AWS: AWSConfig{
			Region:          v.GetString("aws.region"),
			Endpoint:        v.GetString("aws.endpoint"),
			AccessKeyID:     v.GetString("aws.access_key_id"),
			SecretAccessKey: v.GetString("aws.secret_access_key"),
		},
		Store: StoreConfig{
			Driver:            v.GetString("store.driver"),
			Table:             v.GetString("store.table"),
			EmailIndex:        v.GetString("store.email_index"),
			ConnectionsTable:  v.GetString("store.connections_table"),
			BlockedUsersTable: v.GetString("store.blocked_users_table"),
		},
		Storage: StorageConfig{
			Driver:        v.GetString("storage.driver"),
			Bucket:        v.GetString("storage.bucket"),
			UsePathStyle:  v.GetBool("storage.use_path_style"),
			PublicBaseURL: v.GetString("storage.public_base_url"),
		},
		Topic: TopicConfig{
			Driver:          v.GetString("topic.driver"),
			Name:            v.GetString("topic.name"),
			SNSTopicARN:     v.GetString("topic.sns_topic_arn"),
			KafkaBrokers:    v.GetStringSlice("topic.kafka_brokers"),
			KafkaGroupID:    v.GetString("topic.kafka_group_id"),
			MaxMessageBytes: v.GetInt("topic.max_message_bytes"),
		},
		Queue: QueueConfig{
			Driver:            v.GetString("queue.driver"),
			Name:              v.GetString("queue.name"),
			DeadLetterName:    v.GetString("queue.dead_letter_name"),
			SQSURL:            v.GetString("queue.sqs_url"),
			DeadLetterSQSURL:  v.GetString("queue.dead_letter_sqs_url"),
			MaxReceiveCount:   v.GetInt("queue.max_receive_count"),
			VisibilityTimeout: v.GetDuration("queue.visibility_timeout"),
			RetryDelay:        v.GetDuration("queue.retry_delay"),
			BatchSize:         v.GetInt("queue.batch_size"),
			PollInterval:      v.GetDuration("queue.poll_interval"),
			HandlerTimeout:    v.GetDuration("queue.handler_timeout"),
		},
		Fanout: FanoutConfig{
			MaxAttempts:     v.GetInt("fanout.max_attempts"),
			InitialBackoff:  v.GetDuration("fanout.initial_backoff"),
			MaxBackoff:      v.GetDuration("fanout.max_backoff"),
			DeliveryTimeout: v.GetDuration("fanout.delivery_timeout"),
		},
		Ledger: LedgerConfig{
			OrderTTL: v.GetDuration("ledger.order_ttl"),
		},
		Import: ImportConfig{
			URLExpiration:     v.GetDuration("import.url_expiration"),
			ProcessingTimeout: v.GetDuration("import.processing_timeout"),
			KeyPrefix:         v.GetString("import.key_prefix"),
			SweepInterval:     v.GetDuration("import.sweep_interval"),
			MaxFileBytes:      v.GetInt64("import.max_file_bytes"),
			QueueMediated:     v.GetBool("import.queue_mediated"),
			QueueName:         v.GetString("import.queue_name"),
			DeadLetterName:    v.GetString("import.dead_letter_name"),
			SQSURL:            v.GetString("import.sqs_url"),
			DeadLetterSQSURL:  v.GetString("import.dead_letter_sqs_url"),
			MaxReceiveCount:   v.GetInt("import.max_receive_count"),
			BatchSize:         v.GetInt("import.batch_size"),
		},
		Gateway: GatewayConfig{
			Driver:        v.GetString("gateway.driver"),
			Endpoint:      v.GetString("gateway.endpoint"),
			Directory:     v.GetString("gateway.directory"),
			PushTimeout:   v.GetDuration("gateway.push_timeout"),
			ConnectionTTL: v.GetDuration("gateway.connection_ttl"),
		},
		Audit: AuditConfig{
			Driver:  v.GetString("audit.driver"),
			BusName: v.GetString("audit.bus_name"),
		},
		Email: EmailConfig{
			Driver: v.GetString("email.driver"),
			From:   v.GetString("email.from"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: v.GetBool("idempotency.enabled"),
			Driver:  v.GetString("idempotency.driver"),
			TTL:     v.GetDuration("idempotency.ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeAddress:  v.GetString("telemetry.pyroscope_address"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
	}

	if err := v.UnmarshalKey("fanout.subscriptions", &cfg.Fanout.Subscriptions); err != nil {
		return nil, fmt.Errorf("error reading fanout.subscriptions: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultSubscriptions mirrors the order-events wiring: billing is invoked
// directly for created orders, e-mail goes through the durable queue, and
// every event is persisted to the ledger.
func DefaultSubscriptions() []SubscriptionConfig {
	return []SubscriptionConfig{
		{Name: "billing", Filter: "eventType == ORDER_CREATED", Target: "direct:billing"},
		{Name: "order-emails", Filter: "eventType == ORDER_CREATED", Target: "queue:order-events"},
		{Name: "order-ledger", Target: "ledger"},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	setDefault(&cfg.App.Name, "serverless-commerce")
	setDefault(&cfg.App.Env, "development")
	setDefault(&cfg.App.Port, "8080")

	setDefault(&cfg.Log.Level, "info")
	setDefault(&cfg.Log.Format, "console")
	setDefault(&cfg.Log.Output, "stdout")

	setDefault(&cfg.HTTP.ReadTimeout, 15*time.Second)
	setDefault(&cfg.HTTP.WriteTimeout, 15*time.Second)
	setDefault(&cfg.HTTP.IdleTimeout, 60*time.Second)
	setDefault(&cfg.HTTP.MaxBodySize, int64(1<<20))
	setDefault(&cfg.HTTP.ShutdownTimeout, 30*time.Second)

	setDefault(&cfg.Database.Driver, "sqlite")
	setDefault(&cfg.Database.Host, "localhost")
	setDefault(&cfg.Database.Port, 5432)
	setDefault(&cfg.Database.User, "postgres")
	setDefault(&cfg.Database.DBName, "commerce")
	setDefault(&cfg.Database.SSLMode, "disable")
	setDefault(&cfg.Database.SQLitePath, "commerce.db")
	setDefault(&cfg.Database.MaxOpenConns, 25)
	setDefault(&cfg.Database.MaxIdleConns, 5)
	setDefault(&cfg.Database.ConnMaxLifetime, 60)
	setDefault(&cfg.Database.LogLevel, "warn")

	setDefault(&cfg.Redis.Host, "localhost")
	setDefault(&cfg.Redis.Port, 6379)

	setDefault(&cfg.AWS.Region, "us-east-1")

	setDefault(&cfg.Store.Driver, "sql")
	setDefault(&cfg.Store.Table, "events")
	setDefault(&cfg.Store.EmailIndex, "emailIndex")
	setDefault(&cfg.Store.ConnectionsTable, "connections")
	setDefault(&cfg.Store.BlockedUsersTable, "blocked-users")

	setDefault(&cfg.Storage.Driver, "memory")
	setDefault(&cfg.Storage.Bucket, "invoices")
	setDefault(&cfg.Storage.PublicBaseURL, "http://localhost:8080")

	setDefault(&cfg.Topic.Driver, "memory")
	setDefault(&cfg.Topic.Name, "order-events")
	setDefault(&cfg.Topic.KafkaGroupID, "order-fanout")
	setDefault(&cfg.Topic.MaxMessageBytes, 256*1024)

	setDefault(&cfg.Queue.Driver, "sql")
	setDefault(&cfg.Queue.Name, "order-events")
	setDefault(&cfg.Queue.DeadLetterName, "order-events-dlq")
	setDefault(&cfg.Queue.MaxReceiveCount, 3)
	setDefault(&cfg.Queue.VisibilityTimeout, 30*time.Second)
	setDefault(&cfg.Queue.RetryDelay, 5*time.Second)
	setDefault(&cfg.Queue.BatchSize, 5)
	setDefault(&cfg.Queue.PollInterval, time.Second)
	setDefault(&cfg.Queue.HandlerTimeout, 10*time.Second)

	if len(cfg.Fanout.Subscriptions) == 0 {
		cfg.Fanout.Subscriptions = DefaultSubscriptions()
	}
	setDefault(&cfg.Fanout.MaxAttempts, 3)
	setDefault(&cfg.Fanout.InitialBackoff, 100*time.Millisecond)
	setDefault(&cfg.Fanout.MaxBackoff, 2*time.Second)
	setDefault(&cfg.Fanout.DeliveryTimeout, 10*time.Second)

	setDefault(&cfg.Ledger.OrderTTL, 5*time.Minute)

	setDefault(&cfg.Import.URLExpiration, 5*time.Minute)
	setDefault(&cfg.Import.ProcessingTimeout, 10*time.Minute)
	setDefault(&cfg.Import.KeyPrefix, "uploads/")
	setDefault(&cfg.Import.SweepInterval, time.Minute)
	setDefault(&cfg.Import.MaxFileBytes, int64(10<<20))
	setDefault(&cfg.Import.QueueName, "invoice-events")
	setDefault(&cfg.Import.DeadLetterName, "invoice-events-dlq")
	setDefault(&cfg.Import.MaxReceiveCount, 3)
	setDefault(&cfg.Import.BatchSize, 5)

	setDefault(&cfg.Gateway.Driver, "websocket")
	setDefault(&cfg.Gateway.Directory, "store")
	setDefault(&cfg.Gateway.PushTimeout, 5*time.Second)
	setDefault(&cfg.Gateway.ConnectionTTL, 2*time.Hour)

	setDefault(&cfg.Audit.Driver, "log")
	setDefault(&cfg.Audit.BusName, "audit")

	setDefault(&cfg.Email.Driver, "log")
	setDefault(&cfg.Email.From, "orders@example.com")

	setDefault(&cfg.Idempotency.Driver, "memory")
	setDefault(&cfg.Idempotency.TTL, 24*time.Hour)

	setDefault(&cfg.Telemetry.CollectorEndpoint, "localhost:4317")
	setDefault(&cfg.Telemetry.SamplingRatio, 1.0)
	setDefault(&cfg.Telemetry.ServiceName, "serverless-commerce")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func oneOf(field, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
	}
	return nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	checks := []error{
		oneOf("database.driver", c.Database.Driver, "postgres", "sqlite"),
		oneOf("store.driver", c.Store.Driver, "sql", "dynamodb", "memory"),
		oneOf("storage.driver", c.Storage.Driver, "s3", "memory"),
		oneOf("topic.driver", c.Topic.Driver, "memory", "kafka", "sns"),
		oneOf("queue.driver", c.Queue.Driver, "sql", "sqs"),
		oneOf("gateway.driver", c.Gateway.Driver, "websocket", "apigateway"),
		oneOf("gateway.directory", c.Gateway.Directory, "store", "redis"),
		oneOf("audit.driver", c.Audit.Driver, "log", "eventbridge"),
		oneOf("email.driver", c.Email.Driver, "log", "ses"),
		oneOf("idempotency.driver", c.Idempotency.Driver, "memory", "redis"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Queue.MaxReceiveCount < 1 {
		return fmt.Errorf("queue.max_receive_count must be at least 1")
	}
	if c.Queue.BatchSize < 1 || c.Queue.BatchSize > 10 {
		return fmt.Errorf("queue.batch_size must be between 1 and 10, got %d", c.Queue.BatchSize)
	}
	if c.Fanout.MaxAttempts < 1 {
		return fmt.Errorf("fanout.max_attempts must be at least 1")
	}
	for _, s := range c.Fanout.Subscriptions {
		if s.Name == "" || s.Target == "" {
			return fmt.Errorf("fanout subscription needs a name and a target: %+v", s)
		}
	}
	if c.Topic.Driver == "kafka" && len(c.Topic.KafkaBrokers) == 0 {
		return fmt.Errorf("topic.kafka_brokers is required for the kafka driver")
	}
	if c.Topic.Driver == "sns" && c.Topic.SNSTopicARN == "" {
		return fmt.Errorf("topic.sns_topic_arn is required for the sns driver")
	}
	if c.Queue.Driver == "sqs" && (c.Queue.SQSURL == "" || c.Queue.DeadLetterSQSURL == "") {
		return fmt.Errorf("queue.sqs_url and queue.dead_letter_sqs_url are required for the sqs driver")
	}
	if c.Import.QueueMediated && c.Queue.Driver == "sqs" && (c.Import.SQSURL == "" || c.Import.DeadLetterSQSURL == "") {
		return fmt.Errorf("import.sqs_url and import.dead_letter_sqs_url are required for a queue-mediated import on sqs")
	}
	if c.Import.QueueMediated && (c.Import.BatchSize < 1 || c.Import.BatchSize > 10) {
		return fmt.Errorf("import.batch_size must be between 1 and 10, got %d", c.Import.BatchSize)
	}
	if c.Gateway.Driver == "apigateway" && c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required for the apigateway driver")
	}
	// Sockets live in one process, so a shared directory would let another
	// instance treat a live channel it cannot reach as gone.
	if c.Gateway.Driver == "websocket" && c.Gateway.Directory == "redis" {
		return fmt.Errorf("gateway.directory=redis needs the apigateway driver; websocket channels are local to one instance")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "sqlite" && (c.Store.Driver == "sql" || c.Queue.Driver == "sql") {
			return fmt.Errorf("sqlite cannot back the store or queue in production")
		}
		if c.Store.Driver == "memory" || c.Storage.Driver == "memory" {
			return fmt.Errorf("memory store and storage drivers are not allowed in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.ProfilingEnabled && c.Telemetry.PyroscopeAddress == "" {
		return fmt.Errorf("telemetry.pyroscope_address is required when profiling is enabled")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
