package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PORT", "GO_ENV", "LOG_LEVEL", "JWT_SECRET", "INTERNAL_TOKEN", "STORAGE_DRIVER",
	"DATABASE_URL", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_HOST",
	"POSTGRES_PORT", "POSTGRES_SSLMODE", "REDIS_URL", "CACHE_TTL", "KAFKA_BROKERS",
	"KAFKA_ORDER_TOPIC", "KAFKA_PAYMENT_TOPIC", "KAFKA_GROUP_ID", "OTEL_ENDPOINT", "SHUTDOWN_TIMEOUT",
}

// 空にしてから必要なものだけ入れる
func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"JWT_SECRET":        "secret",
		"INTERNAL_TOKEN":    "internal",
		"POSTGRES_USER":     "app",
		"POSTGRES_PASSWORD": "pass",
		"POSTGRES_DB":       "shop",
		"POSTGRES_HOST":     "localhost",
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, baseEnv())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.GoEnv)
	assert.False(t, cfg.IsProd())
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 5432, cfg.PostgresPort)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "orders.events", cfg.KafkaOrderTopic)
	assert.Equal(t, "payments.results", cfg.KafkaPaymentTopic)
	assert.Equal(t, "host=localhost port=5432 user=app password=pass dbname=shop sslmode=disable", cfg.DSN())
}

func TestLoad_Overrides(t *testing.T) {
	env := baseEnv()
	env["GO_ENV"] = "prod"
	env["DATABASE_URL"] = "postgres://u:p@db:5432/shop"
	env["CACHE_TTL"] = "30s"
	env["KAFKA_BROKERS"] = " k1:9092, ,k2:9092 "
	setEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "postgres://u:p@db:5432/shop", cfg.DSN())
}

func TestLoad_MemoryDriverNeedsNoDatabase(t *testing.T) {
	setEnv(t, map[string]string{
		"JWT_SECRET":     "secret",
		"INTERNAL_TOKEN": "internal",
		"STORAGE_DRIVER": "memory",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		mod  func(env map[string]string)
		want string
	}{
		{"missing jwt secret", func(env map[string]string) { delete(env, "JWT_SECRET") }, "JWT_SECRET is required"},
		{"missing internal token", func(env map[string]string) { delete(env, "INTERNAL_TOKEN") }, "INTERNAL_TOKEN is required"},
		{"missing postgres user", func(env map[string]string) { delete(env, "POSTGRES_USER") }, "POSTGRES_USER is required"},
		{"unknown go env", func(env map[string]string) { env["GO_ENV"] = "staging" }, "GO_ENV"},
		{"unknown driver", func(env map[string]string) { env["STORAGE_DRIVER"] = "mysql" }, "STORAGE_DRIVER"},
		{"bad port", func(env map[string]string) { env["POSTGRES_PORT"] = "abc" }, "POSTGRES_PORT"},
		{"bad ttl", func(env map[string]string) { env["CACHE_TTL"] = "soon" }, "CACHE_TTL"},
		{"negative timeout", func(env map[string]string) { env["SHUTDOWN_TIMEOUT"] = "-1s" }, "SHUTDOWN_TIMEOUT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			tc.mod(env)
			setEnv(t, env)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
	assert.Equal(t, []string{"a", "b"}, splitList("a,b"))
}
