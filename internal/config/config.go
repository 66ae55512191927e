package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendChunked = "chunked"
	BackendGridFS  = "gridfs"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServiceName       string
	ServicePort       string
	PublicBaseURL     string
	MaxUploadMB       int
	CORSAllowedOrigin []string

	// Storage configuration
	StorageBackend    string
	ChunkSizeKB       int
	UploadConcurrency int

	// MySQL/TiDB configuration (chunked backend)
	DatabaseDSN string

	// MinIO configuration (chunked backend)
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// Redis configuration, empty address disables the manifest cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// MongoDB configuration (gridfs backend)
	MongoURI      string
	MongoDatabase string

	// Observability
	TracingEnabled bool
	OTLPEndpoint   string
	LogLevel       string
	LogFormat      string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "musicbox")
	v.SetDefault("service_port", "5000")
	v.SetDefault("public_base_url", "")
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("cors_allowed_origins", "http://localhost:5173,https://saimusicv0.netlify.app")

	v.SetDefault("storage_backend", BackendChunked)
	v.SetDefault("chunk_size_kb", 256)
	v.SetDefault("upload_concurrency", 4)

	v.SetDefault("database_dsn", "")

	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_bucket_name", "musicbox")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", "5m")

	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_database", "musicbox")

	v.SetDefault("tracing_enabled", true)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads defaults, then the dotenv file named by CONFIG_FILE (or
// ./.env when present), then environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	file := os.Getenv("CONFIG_FILE")
	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.Startup("config.load", fmt.Sprintf("failed to read %s", file), err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Startup("config.load", fmt.Sprintf("failed to read %s", file), err)
	}

	cfg := &Config{
		ServiceName:       v.GetString("service_name"),
		ServicePort:       v.GetString("service_port"),
		PublicBaseURL:     strings.TrimRight(v.GetString("public_base_url"), "/"),
		MaxUploadMB:       v.GetInt("max_upload_mb"),
		CORSAllowedOrigin: splitList(v.GetString("cors_allowed_origins")),

		StorageBackend:    strings.ToLower(v.GetString("storage_backend")),
		ChunkSizeKB:       v.GetInt("chunk_size_kb"),
		UploadConcurrency: v.GetInt("upload_concurrency"),

		DatabaseDSN: v.GetString("database_dsn"),

		MinIOEndpoint:   v.GetString("minio_endpoint"),
		MinIOAccessKey:  v.GetString("minio_access_key"),
		MinIOSecretKey:  v.GetString("minio_secret_key"),
		MinIOBucketName: v.GetString("minio_bucket_name"),
		MinIOUseSSL:     v.GetBool("minio_use_ssl"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		CacheTTL:      v.GetDuration("cache_ttl"),

		MongoURI:      v.GetString("mongo_uri"),
		MongoDatabase: v.GetString("mongo_database"),

		TracingEnabled: v.GetBool("tracing_enabled"),
		OTLPEndpoint:   v.GetString("otlp_endpoint"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendChunked:
		if c.DatabaseDSN == "" {
			return apperr.Startup("config.validate", "DATABASE_DSN is required for the chunked storage backend", nil)
		}
		if c.MinIOEndpoint == "" || c.MinIOBucketName == "" {
			return apperr.Startup("config.validate", "MINIO_ENDPOINT and MINIO_BUCKET_NAME are required for the chunked storage backend", nil)
		}
	case BackendGridFS:
		if c.MongoURI == "" {
			return apperr.Startup("config.validate", "MONGO_URI is required for the gridfs storage backend", nil)
		}
	default:
		return apperr.Startup("config.validate", fmt.Sprintf("unknown STORAGE_BACKEND %q", c.StorageBackend), nil)
	}

	if c.ServicePort == "" {
		return apperr.Startup("config.validate", "SERVICE_PORT is required", nil)
	}
	if c.ChunkSizeKB <= 0 {
		return apperr.Startup("config.validate", "CHUNK_SIZE_KB must be positive", nil)
	}
	if c.MaxUploadMB <= 0 {
		return apperr.Startup("config.validate", "MAX_UPLOAD_MB must be positive", nil)
	}
	return nil
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeKB) * 1024
}

// GetMaxUploadBytes returns the request body limit for uploads
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
