package config

import (
	"fmt"
	"time"

	"github.com/RishiKendai/plagcode/internal/configs/env"
)

// Store and blob backends
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
	BackendGridFS = "gridfs"
	BackendS3     = "s3"
)

// Scan dispatch modes
const (
	DispatchInline = "inline"
	DispatchStream = "stream"
)

// Config holds all configuration for the application
type Config struct {
	// MongoDB
	MongoURI    string
	MongoDBName string

	// Redis
	RedisHost               string
	RedisPassword           string
	RedisStreamKey          string
	RedisConsumerGroup      string
	RedisDeadLetterKey      string
	StreamRetentionDuration time.Duration

	// Storage
	StoreBackend string
	BlobBackend  string

	// S3
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Rate Limiting
	RateLimitRPS float64

	// Scan execution
	ScanDispatch       string
	MaxConcurrentScans int
	FileConcurrency    int
	ScanTimeout        time.Duration

	// Upload limits
	MaxFiles     int
	MaxFileBytes int64

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerPort  string
	MetricsPort string

	// Engine tuning file (optional)
	EngineConfigPath string
	Engine           *Engine
}

func Load() (*Config, error) {
	cfg := &Config{}

	// MongoDB
	cfg.MongoURI = env.GetEnv("MONGO_URI", "")
	cfg.MongoDBName = env.GetEnv("MONGO_DB_NAME", "plagcode")

	// Redis
	cfg.RedisHost = env.GetEnv("REDIS_HOST", "localhost:6379")
	cfg.RedisPassword = env.GetEnv("REDIS_PASSWORD", "")
	cfg.RedisStreamKey = env.GetEnv("REDIS_STREAM_KEY", "plagcode:scans")
	cfg.RedisConsumerGroup = env.GetEnv("REDIS_CONSUMER_GROUP", "plagcode:runners")
	cfg.RedisDeadLetterKey = env.GetEnv("REDIS_DEAD_LETTER_KEY", "plagcode:dlq")
	retentionHours := env.GetEnvInt("STREAM_RETENTION_DURATION", 24)
	cfg.StreamRetentionDuration = time.Duration(retentionHours) * time.Hour

	// Storage
	cfg.StoreBackend = env.GetEnv("STORE_BACKEND", BackendMongo)
	cfg.BlobBackend = env.GetEnv("BLOB_BACKEND", BackendGridFS)

	// S3
	cfg.S3Bucket = env.GetEnv("S3_BUCKET", "")
	cfg.S3Region = env.GetEnv("S3_REGION", "us-east-1")
	cfg.S3Endpoint = env.GetEnv("S3_ENDPOINT", "")
	cfg.S3AccessKey = env.GetEnv("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = env.GetEnv("S3_SECRET_KEY", "")

	// Rate Limiting
	cfg.RateLimitRPS = env.GetEnvFloat("RATE_LIMIT_RPS", 10.0)

	// Scan execution
	cfg.ScanDispatch = env.GetEnv("SCAN_DISPATCH", DispatchInline)
	cfg.MaxConcurrentScans = env.GetEnvInt("MAX_CONCURRENT_SCANS", 4)
	cfg.FileConcurrency = env.GetEnvInt("FILE_CONCURRENCY", 8)
	cfg.ScanTimeout = env.GetEnvDuration("SCAN_TIMEOUT", 10*time.Minute)

	// Upload limits
	cfg.MaxFiles = env.GetEnvInt("MAX_FILES", 500)
	cfg.MaxFileBytes = env.GetEnvInt64("MAX_FILE_BYTES", 1<<20)

	// Logging
	cfg.LogLevel = env.GetEnv("LOG_LEVEL", "info")
	cfg.LogFormat = env.GetEnv("LOG_FORMAT", "json")

	// Server
	cfg.ServerPort = env.GetEnv("SERVER_PORT", "8080")
	cfg.MetricsPort = env.GetEnv("METRICS_PORT", "2112")

	cfg.EngineConfigPath = env.GetEnv("ENGINE_CONFIG", "")
	engine, err := LoadEngine(cfg.EngineConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine config: %w", err)
	}
	cfg.Engine = engine

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.StoreBackend != BackendMongo && c.StoreBackend != BackendMemory {
		return fmt.Errorf("STORE_BACKEND must be %q or %q", BackendMongo, BackendMemory)
	}
	if c.StoreBackend == BackendMongo && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.StoreBackend == BackendMongo && c.MongoDBName == "" {
		return fmt.Errorf("MONGO_DB_NAME is required")
	}
	switch c.BlobBackend {
	case BackendMemory:
	case BackendGridFS:
		if c.StoreBackend != BackendMongo {
			return fmt.Errorf("BLOB_BACKEND=gridfs requires STORE_BACKEND=mongo")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND: %s", c.BlobBackend)
	}
	if c.ScanDispatch != DispatchInline && c.ScanDispatch != DispatchStream {
		return fmt.Errorf("SCAN_DISPATCH must be %q or %q", DispatchInline, DispatchStream)
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.MaxConcurrentScans <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SCANS must be greater than 0")
	}
	if c.FileConcurrency <= 0 {
		return fmt.Errorf("FILE_CONCURRENCY must be greater than 0")
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("SCAN_TIMEOUT must be greater than 0")
	}
	if c.MaxFiles < 2 {
		return fmt.Errorf("MAX_FILES must be at least 2")
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("MAX_FILE_BYTES must be greater than 0")
	}
	if c.StreamRetentionDuration <= 0 {
		return fmt.Errorf("STREAM_RETENTION_DURATION must be greater than 0")
	}
	return c.Engine.Validate()
}
