// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"entitystore/pkg/platform/strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Event bus backends.
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusKafka  = "kafka"
	BusNATS   = "nats"
)

const devJWTSigningKey = "dev-secret-key-change-in-production"

// Config is the full service configuration.
type Config struct {
	Store      string           `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	NATS       NATSConfig       `yaml:"nats"`
	Repository RepositoryConfig `yaml:"repository"`
	Schema     SchemaConfig     `yaml:"schema"`
	Events     EventsConfig     `yaml:"events"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	JWTSigningKey     string        `yaml:"jwt_signing_key"`
	JWTIssuer         string        `yaml:"jwt_issuer"`
	JWTAudience       string        `yaml:"jwt_audience"`
	AdminToken        string        `yaml:"admin_token"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig configures the shared schema cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	ClientID          string        `yaml:"client_id"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	DeliveryTimeout   time.Duration `yaml:"delivery_timeout"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// RepositoryConfig bounds the entity write path.
type RepositoryConfig struct {
	MaxConflictRetries int           `yaml:"max_conflict_retries"`
	OpTimeout          time.Duration `yaml:"op_timeout"`
	TxTimeout          time.Duration `yaml:"tx_timeout"`
	BulkConcurrency    int           `yaml:"bulk_concurrency"`
}

type SchemaConfig struct {
	CacheTTL     time.Duration      `yaml:"cache_ttl"`
	FetchTimeout time.Duration      `yaml:"fetch_timeout"`
	RedisTTL     time.Duration      `yaml:"redis_ttl"`
	Static       []SchemaDefinition `yaml:"static"`
}

// SchemaDefinition declares an entity type in configuration. Tenant defaults
// to the root tenant.
type SchemaDefinition struct {
	TenantID        string                         `yaml:"tenant_id"`
	EntityType      string                         `yaml:"entity_type"`
	IdentifyingKeys []string                       `yaml:"identifying_keys"`
	Attributes      map[string]AttributeDefinition `yaml:"attributes"`
}

type AttributeDefinition struct {
	Kind            string `yaml:"kind"`
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

// EventsConfig configures change event generation and delivery.
type EventsConfig struct {
	Bus                string              `yaml:"bus"`
	EnabledEntityTypes []string            `yaml:"enabled_entity_types"`
	SkipAttributes     map[string][]string `yaml:"skip_attributes"`
	RelayInterval      time.Duration       `yaml:"relay_interval"`
	BatchSize          int                 `yaml:"batch_size"`
	MaxRetries         int                 `yaml:"max_retries"`
	MaxDeliveries      int                 `yaml:"max_deliveries"`
	RetryInitial       time.Duration       `yaml:"retry_initial"`
	RetryMax           time.Duration       `yaml:"retry_max"`
}

// RateLimitConfig sets per-tenant request budgets. Budgets live in Redis when
// it is configured, otherwise in process memory.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ReadRequests  int           `yaml:"read_requests"`
	WriteRequests int           `yaml:"write_requests"`
	Window        time.Duration `yaml:"window"`
}

// Default returns the configuration used when nothing overrides it: an
// in-memory store with events kept in process.
func Default() Config {
	return Config{
		Store: StoreMemory,
		Server: ServerConfig{
			Addr:              ":8080",
			JWTSigningKey:     devJWTSigningKey,
			JWTIssuer:         "entitystore",
			JWTAudience:       "entitystore-api",
			RequestTimeout:    30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Postgres: PostgresConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Topic:             "entity-change-events",
			ClientID:          "entitystore",
			Partitions:        12,
			ReplicationFactor: 1,
			DeliveryTimeout:   10 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "entitystore.changes",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Repository: RepositoryConfig{
			MaxConflictRetries: 5,
			OpTimeout:          3 * time.Second,
			TxTimeout:          5 * time.Second,
			BulkConcurrency:    8,
		},
		Schema: SchemaConfig{
			CacheTTL:     15 * time.Minute,
			FetchTimeout: 2 * time.Second,
			RedisTTL:     time.Hour,
		},
		Events: EventsConfig{
			Bus:                BusMemory,
			EnabledEntityTypes: []string{"*"},
			RelayInterval:      500 * time.Millisecond,
			BatchSize:          100,
			MaxRetries:         5,
			MaxDeliveries:      50,
			RetryInitial:       100 * time.Millisecond,
			RetryMax:           5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			ReadRequests:  6000,
			WriteRequests: 3000,
			Window:        time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Kafka.Brokers = strings.DedupeAndTrim(cfg.Kafka.Brokers)
	cfg.Events.EnabledEntityTypes = strings.DedupeAndTrim(cfg.Events.EnabledEntityTypes)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("ENTITYSTORE_ADDR", &c.Server.Addr)
	str("ENTITYSTORE_STORE", &c.Store)
	str("ENTITYSTORE_LOG_LEVEL", &c.Log.Level)
	str("ENTITYSTORE_EVENT_BUS", &c.Events.Bus)
	str("ENTITYSTORE_KAFKA_TOPIC", &c.Kafka.Topic)
	str("DATABASE_URL", &c.Postgres.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("NATS_URL", &c.NATS.URL)
	str("JWT_SIGNING_KEY", &c.Server.JWTSigningKey)
	str("JWT_ISSUER", &c.Server.JWTIssuer)
	str("JWT_AUDIENCE", &c.Server.JWTAudience)
	str("ENTITYSTORE_ADMIN_TOKEN", &c.Server.AdminToken)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.SplitList(v)
	}
	if v, ok := lookup("ENTITYSTORE_ENABLED_ENTITY_TYPES"); ok && v != "" {
		c.Events.EnabledEntityTypes = strings.SplitList(v)
	}
	if v, ok := lookup("ENTITYSTORE_RATE_LIMIT_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENTITYSTORE_RATE_LIMIT_ENABLED: %w", err)
		}
		c.RateLimit.Enabled = enabled
	}
	if v, ok := lookup("ENTITYSTORE_MAX_CONFLICT_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENTITYSTORE_MAX_CONFLICT_RETRIES: %w", err)
		}
		c.Repository.MaxConflictRetries = n
	}
	return nil
}

// Validate reports configuration that cannot start the service.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres store requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Events.Bus {
	case BusNone, BusMemory:
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka event bus requires KAFKA_BROKERS"))
		}
	case BusNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats event bus requires NATS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event bus %q", c.Events.Bus))
	}
	if c.Repository.MaxConflictRetries < 1 {
		errs = append(errs, errors.New("repository.max_conflict_retries must be at least 1"))
	}
	if c.RateLimit.Enabled && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.Server.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	for i, def := range c.Schema.Static {
		if def.EntityType == "" || len(def.IdentifyingKeys) == 0 {
			errs = append(errs, fmt.Errorf("schema.static[%d] needs entity_type and identifying_keys", i))
		}
	}
	return errors.Join(errs...)
}
