package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Transcoder TranscoderConfig
	Signing    SigningConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Webhook    WebhookConfig
	Worker     WorkerConfig
	Upload     UploadConfig
	Cache      CacheConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Vhost      string
	MaxRetries int
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	TempDir         string
	FFmpegPath      string
	FFprobePath     string
	SegmentSeconds  int
	ThumbnailWidth  int
	ThumbnailHeight int
	ThumbnailAt     float64 // fraction of total duration
	ParallelTiers   bool
	Preset          string
}

// SigningConfig holds signed URL configuration
type SigningConfig struct {
	DistributionDomain string
	KeyPairID          string
	PrivateKeyPath     string
	PrivateKeyPEM      string
	DefaultExpiry      time.Duration
	ThumbnailExpiry    time.Duration
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// WebhookConfig holds processing notification configuration
type WebhookConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
}

// WorkerConfig holds job consumer configuration
type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
}

// UploadConfig holds upload intake configuration
type UploadConfig struct {
	IncomingDir string
	MaxBytes    int64
}

// CacheConfig holds cache TTLs
type CacheConfig struct {
	Enabled   bool
	AccessTTL time.Duration
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would otherwise fail deep inside a pipeline run
func (c *Config) Validate() error {
	if c.Transcoder.SegmentSeconds <= 0 {
		return fmt.Errorf("transcoder.segmentSeconds must be positive")
	}
	if c.Transcoder.ThumbnailAt < 0 || c.Transcoder.ThumbnailAt >= 1 {
		return fmt.Errorf("transcoder.thumbnailAt must be in [0, 1)")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.maxRetries must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimitRPS", 20)
	v.SetDefault("server.rateLimitBurst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "streamvault")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.maxRetries", 5)

	// Transcoder defaults
	v.SetDefault("transcoder.tempDir", "/tmp/streamvault")
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.segmentSeconds", 6)
	v.SetDefault("transcoder.thumbnailWidth", 1280)
	v.SetDefault("transcoder.thumbnailHeight", 720)
	v.SetDefault("transcoder.thumbnailAt", 0.1)
	v.SetDefault("transcoder.parallelTiers", false)
	v.SetDefault("transcoder.preset", "medium")

	// Signing defaults
	v.SetDefault("signing.distributionDomain", "cdn.example.com")
	v.SetDefault("signing.keyPairID", "")
	v.SetDefault("signing.privateKeyPath", "")
	v.SetDefault("signing.privateKeyPEM", "")
	v.SetDefault("signing.defaultExpiry", "1h")
	v.SetDefault("signing.thumbnailExpiry", "24h")

	v.SetDefault("auth.jwtSecret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "streamvault")
	v.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")

	v.SetDefault("webhook.urls", []string{})
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")

	// Worker defaults
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.jobTimeout", "2h")

	v.SetDefault("upload.incomingDir", "/tmp/streamvault/incoming")
	v.SetDefault("upload.maxBytes", 4*1024*1024*1024) // 4GB

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.accessTTL", "5m")
}
