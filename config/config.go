package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"banklink-api"`
	Environment                   string   `env:"ENVIRONMENT" env-default:"development"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	OTLPEndpoint                  string   `env:"OTLP_ENDPOINT" env-default:""`

	// PostgreSQL
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"banklink"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Aggregation provider
	ProviderBaseURL        string        `env:"PROVIDER_BASE_URL" env-default:""`
	ProviderClientID       string        `env:"PROVIDER_CLIENT_ID" env-default:""`
	ProviderSecret         string        `env:"PROVIDER_SECRET" env-default:""`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT" env-default:"30s"`
	ProviderWebhookURL     string        `env:"PROVIDER_WEBHOOK_URL" env-default:""`
	ProviderRedirectURL    string        `env:"PROVIDER_REDIRECT_URL" env-default:""`
	SyncMaxRetries         int           `env:"SYNC_MAX_RETRIES" env-default:"3"`
	SyncPageSize           int           `env:"SYNC_PAGE_SIZE" env-default:"500"`

	// Credential encryption. Keys are "<key_id>:<base64 32-byte key>" pairs; the
	// first entry is the active encryption key, the rest decrypt-only.
	EncryptionKeys    []string `env:"ENCRYPTION_KEYS" env-default:""`
	ActiveKeyID       string   `env:"ACTIVE_KEY_ID" env-default:""`

	// Feature availability for the permission-revoked cascade. Deployments that
	// predate the transactions table run with this off.
	TransactionArchivalEnabled bool `env:"TRANSACTION_ARCHIVAL_ENABLED" env-default:"true"`

	// Kafka Producer settings
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"banklink-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Kafka Consumer (bulk sync triggers)
	KafkaConsumerEnabled bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`
	KafkaSyncTopic       string `env:"KAFKA_SYNC_TOPIC" env-default:"banklink-sync-requests"`
	KafkaConsumerGroup   string `env:"KAFKA_CONSUMER_GROUP" env-default:"banklink-sync-consumer"`
}

// IsProduction reports whether test-only surfaces (fired webhooks) must be disabled.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}
