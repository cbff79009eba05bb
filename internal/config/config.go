package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Configはアプリ全体の設定
type Config struct {
	Port     string // サーバーポート（8080）
	GoEnv    string // dev/prod
	LogLevel string // debug/info/warn/error

	JWTSecret     string // JWT署名シークレット
	InternalToken string // 決済通知（内部API）用の共有トークン

	StorageDriver string // postgres/memory

	DatabaseURL      string // あればこちらを優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string

	RedisURL string        // 空ならキャッシュ無し
	CacheTTL time.Duration // 読み取りキャッシュの寿命

	KafkaBrokers      []string // 空ならイベント送信・決済購読なし
	KafkaOrderTopic   string
	KafkaPaymentTopic string
	KafkaGroupID      string

	OTelEndpoint string // 空ならトレース送信なし

	ShutdownTimeout time.Duration
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

// Loadは環境変数（.env があれば先に読む）
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	pgPort, err := atoiDefault("POSTGRES_PORT", 5432)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := durationDefault("CACHE_TTL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := durationDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:     getenv("PORT", "8080"),
		GoEnv:    getenv("GO_ENV", "dev"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		InternalToken: os.Getenv("INTERNAL_TOKEN"),

		StorageDriver: getenv("STORAGE_DRIVER", StorageDriverPostgres),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		RedisURL: os.Getenv("REDIS_URL"),
		CacheTTL: cacheTTL,

		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:   getenv("KAFKA_ORDER_TOPIC", "orders.events"),
		KafkaPaymentTopic: getenv("KAFKA_PAYMENT_TOPIC", "payments.results"),
		KafkaGroupID:      getenv("KAFKA_GROUP_ID", "storefront"),

		OTelEndpoint: os.Getenv("OTEL_ENDPOINT"),

		ShutdownTimeout: shutdownTimeout,
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.InternalToken == "" {
		return Config{}, fmt.Errorf("INTERNAL_TOKEN is required")
	}
	switch cfg.GoEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("GO_ENV must be dev or prod")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			if cfg.PostgresUser == "" {
				return Config{}, fmt.Errorf("POSTGRES_USER is required")
			}
			if cfg.PostgresPassword == "" {
				return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
			}
			if cfg.PostgresDB == "" {
				return Config{}, fmt.Errorf("POSTGRES_DB is required")
			}
			if cfg.PostgresHost == "" {
				return Config{}, fmt.Errorf("POSTGRES_HOST is required")
			}
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be postgres or memory")
	}

	return cfg, nil
}

// DSN は DATABASE_URL が無ければ POSTGRES_* から組み立てる
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration (e.g. 30s): %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
