package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"thistle-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	LogFile                       string   `env:"LOG_FILE" env-default:""`
	LogFileMaxSizeMB              int      `env:"LOG_FILE_MAX_SIZE_MB" env-default:"100"`
	LogFileMaxBackups             int      `env:"LOG_FILE_MAX_BACKUPS" env-default:"5"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"thistle"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path, embedded migrations are used when it does not exist
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	// Run migrations as part of serve
	DatabaseMigrateOnStart bool `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Auth mode: oidc, jwt or disabled. disabled trusts the X-User-ID header and is for local testing only
	AuthMode string `env:"AUTH_MODE" env-default:"jwt"`
	// Must be true for AUTH_MODE=disabled to start
	AuthAllowInsecureHeader bool `env:"AUTH_ALLOW_INSECURE_HEADER" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// HS256 secret used to verify bearer tokens in jwt mode
	AuthJWTSecret string `env:"AUTH_JWT_SECRET" env-default:""`

	// Vault backend: postgres or keyring
	VaultBackend string `env:"VAULT_BACKEND" env-default:"postgres"`
	// Symmetric key for the postgres vault
	VaultEncryptionKey string `env:"VAULT_ENCRYPTION_KEY" env-default:""`
	// Keychain service name for the keyring vault
	VaultKeyringService string `env:"VAULT_KEYRING_SERVICE" env-default:"thistle"`

	// Serialize credential writes per integration through redis
	RedisEnabled bool `env:"REDIS_ENABLED" env-default:"false"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// How long a credential lock is held before it expires
	CredentialLockTTL time.Duration `env:"CREDENTIAL_LOCK_TTL" env-default:"30s"`

	// Publish audit events and jobs to kafka
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for credential and integration audit events
	KafkaAuditTopic string `env:"KAFKA_AUDIT_TOPIC" env-default:"integration-audit"`
	// Kafka topic for queued AI jobs
	KafkaJobTopic string `env:"KAFKA_JOB_TOPIC" env-default:"ai-jobs"`

	// Requests per second allowed per user on the credentials endpoint
	CredentialRateLimit float64 `env:"CREDENTIAL_RATE_LIMIT" env-default:"1"`
	// Burst allowed per user on the credentials endpoint
	CredentialRateBurst int `env:"CREDENTIAL_RATE_BURST" env-default:"5"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "oidc":
		if c.AuthIssuerURL == "" || c.AuthClientID == "" {
			return errors.New("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_MODE=oidc")
		}
	case "jwt":
		if c.AuthJWTSecret == "" {
			return errors.New("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "disabled":
		if !c.AuthAllowInsecureHeader {
			return errors.New("AUTH_MODE=disabled trusts the X-User-ID header and requires AUTH_ALLOW_INSECURE_HEADER=true")
		}
	default:
		return errors.New("AUTH_MODE must be one of oidc, jwt, disabled")
	}

	switch c.VaultBackend {
	case "postgres":
		if c.VaultEncryptionKey == "" {
			return errors.New("VAULT_ENCRYPTION_KEY is required when VAULT_BACKEND=postgres")
		}
	case "keyring":
	default:
		return errors.New("VAULT_BACKEND must be one of postgres, keyring")
	}
	return nil
}

// KafkaBrokerList splits KafkaBrokers.
func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
