// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию движка.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Saga        SagaConfig
	Outbox      OutboxConfig
	Idempotency IdempotencyConfig
	Refund      RefundConfig
	Webhook     WebhookConfig
	Tenant      TenantConfig
	PG          PGConfig
	Jaeger      JaegerConfig
	Metrics     MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fluxpay-engine"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес для HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
type PostgresConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"fluxpay"`
	Password        string        `env:"DB_PASSWORD" envDefault:"fluxpay"`
	Database        string        `env:"DB_NAME" envDefault:"fluxpay"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к PostgreSQL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"fluxpay.events"`
}

// SagaConfig содержит настройки оркестратора саг.
type SagaConfig struct {
	Timeout               time.Duration `env:"SAGA_TIMEOUT" envDefault:"30s"`
	StepTimeout           time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"10s"`
	CompensationRetries   int           `env:"SAGA_COMPENSATION_MAX_RETRIES" envDefault:"3"`
	CompensationDelay     time.Duration `env:"SAGA_COMPENSATION_RETRY_DELAY" envDefault:"1s"`
	RecoveryInterval      time.Duration `env:"SAGA_RECOVERY_INTERVAL" envDefault:"30s"`
	RecoveryStuckAfter    time.Duration `env:"SAGA_RECOVERY_STUCK_AFTER" envDefault:"1m"`
	LeaseDuration         time.Duration `env:"SAGA_LEASE_DURATION" envDefault:"1m"`
}

// OutboxConfig содержит настройки транзакционного outbox.
type OutboxConfig struct {
	BatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries    int           `env:"OUTBOX_MAX_RETRIES" envDefault:"3"`
	RetentionDays int           `env:"OUTBOX_RETENTION_DAYS" envDefault:"7"`
	ClaimTimeout  time.Duration `env:"OUTBOX_CLAIM_TIMEOUT" envDefault:"5m"`
	PollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
}

// IdempotencyConfig содержит настройки идемпотентности запросов.
type IdempotencyConfig struct {
	TTL           time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"1h"`
}

// RefundConfig содержит бизнес-правила возвратов.
type RefundConfig struct {
	PeriodDays        int           `env:"REFUND_PERIOD_DAYS" envDefault:"14"`
	MaxPartialRefunds int           `env:"REFUND_MAX_PARTIAL" envDefault:"3"`
	ProcessInterval   time.Duration `env:"REFUND_PROCESS_INTERVAL" envDefault:"5s"`
}

// WebhookConfig содержит настройки доставки webhook.
type WebhookConfig struct {
	MaxRetries   int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"5"`
	BaseBackoff  time.Duration `env:"WEBHOOK_BASE_BACKOFF" envDefault:"30s"`
	MaxBackoff   time.Duration `env:"WEBHOOK_MAX_BACKOFF" envDefault:"1h"`
	Workers      int           `env:"WEBHOOK_WORKERS" envDefault:"4"`
	PollInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"5s"`
	HTTPTimeout  time.Duration `env:"WEBHOOK_HTTP_TIMEOUT" envDefault:"10s"`
}

// TenantConfig содержит настройки мультиарендности.
type TenantConfig struct {
	Enabled bool `env:"TENANT_ENABLED" envDefault:"true"`
}

// PGConfig содержит настройки клиента платёжного шлюза.
type PGConfig struct {
	BaseURL   string        `env:"PG_BASE_URL" envDefault:"https://api.tosspayments.com"`
	SecretKey string        `env:"PG_SECRET_KEY" envDefault:""`
	Timeout   time.Duration `env:"PG_TIMEOUT" envDefault:"10s"`
	Mock      bool          `env:"PG_MOCK" envDefault:"true"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Отсутствие .env не является ошибкой
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
