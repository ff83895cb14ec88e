package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Engine    EngineConfig
	Webhook   WebhookConfig
	Recording RecordingConfig
	GC        GCConfig
	JWT       JWTConfig
	Kafka     KafkaConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // prefix for generated room access URLs
}

// RedisConfig holds Redis connection settings. Redis backs locks, the metadata cache and notification fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend       string // s3 or minio
	PresignExpiry time.Duration
	S3            S3Config
	MinIO         MinIOConfig
}

// S3Config holds AWS credentials and the bucket for the s3 backend.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	ForcePathStyle  bool
	Bucket          string
}

// MinIOConfig holds settings for the minio backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
}

// EngineConfig holds the media engine REST endpoint and API credentials.
type EngineConfig struct {
	URL        string
	APIKey     string
	APISecret  string
	RetryCount int
	Timeout    time.Duration
}

// WebhookConfig holds engine webhook verification settings.
type WebhookConfig struct {
	Secret string // defaults to the engine API secret
	MaxAge time.Duration
}

// RecordingConfig holds recording lifecycle timings.
type RecordingConfig struct {
	LockTTL      time.Duration
	StartTimeout time.Duration
}

// GCConfig holds orphaned-lock collector settings.
type GCConfig struct {
	Enabled  bool
	Interval time.Duration
	Grace    time.Duration
}

// JWTConfig holds API credential signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// KafkaConfig holds recording event publishing settings. Empty Brokers disables publishing.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	apiSecret := getEnv("ENGINE_API_SECRET", "")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvSeconds("CACHE_TTL_SEC", 3600),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", "s3")),
			PresignExpiry: time.Duration(getEnvInt("PRESIGN_EXPIRE_MINUTES", 15)) * time.Minute,
			S3: S3Config{
				Region:          getEnv("AWS_REGION", "us-east-1"),
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", false),
				Bucket:          getEnv("S3_BUCKET", "recordings"),
			},
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				UseTLS:    getEnvBool("MINIO_USE_TLS", false),
				Bucket:    getEnv("MINIO_BUCKET", "recordings"),
			},
		},
		Engine: EngineConfig{
			URL:        getEnv("ENGINE_URL", "http://localhost:7880"),
			APIKey:     getEnv("ENGINE_API_KEY", ""),
			APISecret:  apiSecret,
			RetryCount: getEnvInt("ENGINE_RETRY_COUNT", 2),
			Timeout:    getEnvSeconds("ENGINE_TIMEOUT_SEC", 10),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", apiSecret),
			MaxAge: getEnvSeconds("WEBHOOK_MAX_AGE_SEC", 120),
		},
		Recording: RecordingConfig{
			LockTTL:      getEnvSeconds("RECORDING_LOCK_TTL_SEC", 6*60*60),
			StartTimeout: getEnvSeconds("RECORDING_START_TIMEOUT_SEC", 30),
		},
		GC: GCConfig{
			Enabled:  getEnvBool("GC_ENABLED", true),
			Interval: getEnvSeconds("GC_INTERVAL_SEC", 60),
			Grace:    getEnvSeconds("GC_GRACE_SEC", 60),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_EVENTS_TOPIC", "recording.events"),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
