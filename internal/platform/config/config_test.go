package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entitystore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, BusMemory, cfg.Events.Bus)
	assert.Equal(t, 5, cfg.Repository.MaxConflictRetries)
	assert.Equal(t, 15*time.Minute, cfg.Schema.CacheTTL)
	assert.Equal(t, "entity-change-events", cfg.Kafka.Topic)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
store: postgres
postgres:
  url: postgres://file
repository:
  max_conflict_retries: 3
  op_timeout: 750ms
schema:
  cache_ttl: 1m
  static:
    - entity_type: SERVICE
      identifying_keys: [name, environment]
      attributes:
        name: {kind: string, case_insensitive: true}
events:
  bus: kafka
  skip_attributes:
    SERVICE: [lastSeen]
kafka:
  brokers: [" b1:9092 ", "b1:9092", "b2:9092"]
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("ENTITYSTORE_ENABLED_ENTITY_TYPES", "SERVICE, API,SERVICE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://env", cfg.Postgres.URL)
	assert.Equal(t, 3, cfg.Repository.MaxConflictRetries)
	assert.Equal(t, 750*time.Millisecond, cfg.Repository.OpTimeout)
	assert.Equal(t, time.Minute, cfg.Schema.CacheTTL)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"SERVICE", "API"}, cfg.Events.EnabledEntityTypes)
	assert.Equal(t, []string{"lastSeen"}, cfg.Events.SkipAttributes["SERVICE"])
	require.Len(t, cfg.Schema.Static, 1)
	assert.True(t, cfg.Schema.Static[0].Attributes["name"].CaseInsensitive)
	// Fields the file leaves out keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Schema.FetchTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Store = "mongo" }, "unknown store"},
		{"kafka without brokers", func(c *Config) { c.Events.Bus = BusKafka }, "KAFKA_BROKERS"},
		{"nats without url", func(c *Config) { c.Events.Bus = BusNATS }, "NATS_URL"},
		{"zero retries", func(c *Config) { c.Repository.MaxConflictRetries = 0 }, "max_conflict_retries"},
		{"rate limit without window", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit.window"},
		{"schema without keys", func(c *Config) {
			c.Schema.Static = []SchemaDefinition{{EntityType: "SERVICE"}}
		}, "identifying_keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Run("retries", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_MAX_CONFLICT_RETRIES", "many")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("rate limit switch", func(t *testing.T) {
		t.Setenv("ENTITYSTORE_RATE_LIMIT_ENABLED", "sometimes")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestRateLimitCanBeSwitchedOff(t *testing.T) {
	t.Setenv("ENTITYSTORE_RATE_LIMIT_ENABLED", "false")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}
