package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	NATS      NATSConfig
	RateLimit RateLimitConfig
	Ledger    LedgerConfig
	Storage   StorageConfig
	Tracing   TracingConfig
	Sentry    SentryConfig
	Secrets   SecretsConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string
	Environment    string
	ServiceName    string
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout int   // seconds, applied per request by the timeout middleware
	MaxBodyBytes   int64 // request body cap
	CORSOrigins    string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MaxConns      int
	MinConns      int
	MigrateOnBoot bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// NATSConfig holds the ledger event bus configuration
type NATSConfig struct {
	URL           string
	Enabled       bool
	SubjectPrefix string
	// BreakerFailures consecutive publish failures open the breaker for BreakerTimeout
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// EndpointRateLimitConfig overrides the default limits for a single route
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// RateLimitConfig holds the Redis token bucket configuration
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// Window returns the default rate limit window
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// LedgerConfig holds gift card ledger policy
type LedgerConfig struct {
	FraudThreshold          float64
	LockTimeout             time.Duration
	MaxCodeAttempts         int
	MaxBulkCount            int
	RequireOwnerForRecharge bool
	RequireCardForAssign    bool
	RequireKnownUser        bool
	SweepInterval           time.Duration
}

// StorageConfig holds object storage configuration for ledger exports
type StorageConfig struct {
	Enabled      bool
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	BaseURL      string
	ExportPrefix string
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

// SentryConfig holds Sentry error reporting configuration
type SentryConfig struct {
	DSN              string
	TracesSampleRate float64
}

// SecretsConfig holds secret manager configuration. The *Ref fields are
// references resolved at startup and take precedence over the plain values.
type SecretsConfig struct {
	Provider            string
	CacheTTL            time.Duration
	AuditEnabled        bool
	VaultAddress        string
	VaultToken          string
	VaultNamespace      string
	VaultMountPath      string
	AWSRegion           string
	AWSEndpoint         string
	GCPProjectID        string
	GCPCredentials      string
	FileBasePath        string
	DBPasswordRef       string
	JWTSecretRef        string
	RedisPasswordRef    string
	StorageSecretKeyRef string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	overrides, err := parseEndpointOverrides(getEnv("RATE_LIMIT_ENDPOINT_OVERRIDES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			ServiceName:    serviceName,
			ReadTimeout:    getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout:   getEnvAsInt("WRITE_TIMEOUT", 10),
			RequestTimeout: getEnvAsInt("REQUEST_TIMEOUT", 15),
			MaxBodyBytes:   int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
			CORSOrigins:    getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "giftcards"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxConns:      getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:      getEnvAsInt("DB_MIN_CONNS", 5),
			MigrateOnBoot: getEnvAsBool("DB_MIGRATE_ON_BOOT", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiration: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		NATS: NATSConfig{
			URL:             getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled:         getEnvAsBool("NATS_ENABLED", false),
			SubjectPrefix:   getEnv("NATS_SUBJECT_PREFIX", "giftcards"),
			BreakerFailures: getEnvAsInt("NATS_BREAKER_FAILURES", 5),
			BreakerTimeout:  getEnvAsDuration("NATS_BREAKER_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			WindowSeconds:     getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:      getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 60),
			DefaultBurst:      getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 10),
			AnonymousLimit:    getEnvAsInt("RATE_LIMIT_ANONYMOUS_LIMIT", 20),
			AnonymousBurst:    getEnvAsInt("RATE_LIMIT_ANONYMOUS_BURST", 5),
			RedisPrefix:       getEnv("RATE_LIMIT_REDIS_PREFIX", "rl"),
			EndpointOverrides: overrides,
		},
		Ledger: LedgerConfig{
			FraudThreshold:          getEnvAsFloat("LEDGER_FRAUD_THRESHOLD", 1000),
			LockTimeout:             getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 3*time.Second),
			MaxCodeAttempts:         getEnvAsInt("LEDGER_MAX_CODE_ATTEMPTS", 10),
			MaxBulkCount:            getEnvAsInt("LEDGER_MAX_BULK_COUNT", 10000),
			RequireOwnerForRecharge: getEnvAsBool("LEDGER_REQUIRE_OWNER_FOR_RECHARGE", false),
			RequireCardForAssign:    getEnvAsBool("LEDGER_REQUIRE_CARD_FOR_ASSIGN", false),
			RequireKnownUser:        getEnvAsBool("LEDGER_REQUIRE_KNOWN_USER", false),
			SweepInterval:           getEnvAsDuration("LEDGER_SWEEP_INTERVAL", time.Hour),
		},
		Storage: StorageConfig{
			Enabled:      getEnvAsBool("STORAGE_ENABLED", false),
			Bucket:       getEnv("STORAGE_BUCKET", ""),
			Region:       getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:     getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:    getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:    getEnv("STORAGE_SECRET_KEY", ""),
			BaseURL:      getEnv("STORAGE_BASE_URL", ""),
			ExportPrefix: getEnv("STORAGE_EXPORT_PREFIX", "exports/transactions"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvAsBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:   getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			TracesSampleRate: getEnvAsFloat("SENTRY_TRACES_SAMPLE_RATE", 0.1),
		},
		Secrets: SecretsConfig{
			Provider:            getEnv("SECRETS_PROVIDER", ""),
			CacheTTL:            getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
			AuditEnabled:        getEnvAsBool("SECRETS_AUDIT_ENABLED", true),
			VaultAddress:        getEnv("VAULT_ADDR", ""),
			VaultToken:          getEnv("VAULT_TOKEN", ""),
			VaultNamespace:      getEnv("VAULT_NAMESPACE", ""),
			VaultMountPath:      getEnv("VAULT_MOUNT_PATH", "secret"),
			AWSRegion:           getEnv("SECRETS_AWS_REGION", ""),
			AWSEndpoint:         getEnv("SECRETS_AWS_ENDPOINT", ""),
			GCPProjectID:        getEnv("SECRETS_GCP_PROJECT_ID", ""),
			GCPCredentials:      getEnv("SECRETS_GCP_CREDENTIALS_FILE", ""),
			FileBasePath:        getEnv("SECRETS_FILE_BASE_PATH", "/var/run/secrets"),
			DBPasswordRef:       getEnv("DB_PASSWORD_REF", ""),
			JWTSecretRef:        getEnv("JWT_SECRET_REF", ""),
			RedisPasswordRef:    getEnv("REDIS_PASSWORD_REF", ""),
			StorageSecretKeyRef: getEnv("STORAGE_SECRET_KEY_REF", ""),
		},
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// CORSOriginList splits the comma-separated CORS origins
func (c *ServerConfig) CORSOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func parseEndpointOverrides(raw string) (map[string]EndpointRateLimitConfig, error) {
	overrides := map[string]EndpointRateLimitConfig{}
	if strings.TrimSpace(raw) == "" {
		return overrides, nil
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ENDPOINT_OVERRIDES: %w", err)
	}
	return overrides, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
