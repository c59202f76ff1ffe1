// backend-go/internal/config/config.go
package config

import (
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Engine   EngineConfig
	Gateway  GatewayConfig
	Storage  StorageConfig
	Events   EventsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConcurrentTx int
}

type CacheConfig struct {
	Enabled             bool
	RedisURL            string
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	BatchPlanTTLSeconds int
}

// EngineConfig carries the fulfillment policy values.
type EngineConfig struct {
	// Store selects the Data Service backend: "postgres" or "memory".
	Store             string
	SelectionCeiling  int
	SelectionPageSize int
	DefaultChunkSize  int
	PreviewTopN       int
	BulkWorkers       int
	DefaultWarehouse  string
}

type GatewayConfig struct {
	Enabled          bool
	BaseURL          string
	APIKey           string
	TimeoutSeconds   int
	FailureThreshold uint32
	OpenSeconds      int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type EventsConfig struct {
	RedisEnabled bool
	Channel      string
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the process configuration once from .env and the environment.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		v := viper.New()
		v.AutomaticEnv()
		instance = FromViper(v)
	})

	return instance
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 60)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fulfillops")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MAX_CONCURRENT_TX", 10)

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_BATCH_PLAN_TTL_SECONDS", 86400)

	v.SetDefault("ENGINE_STORE", "postgres")
	v.SetDefault("ENGINE_SELECTION_CEILING", 5000)
	v.SetDefault("ENGINE_SELECTION_PAGE_SIZE", 500)
	v.SetDefault("ENGINE_DEFAULT_CHUNK_SIZE", 50)
	v.SetDefault("ENGINE_PREVIEW_TOP_N", 3)
	v.SetDefault("ENGINE_BULK_WORKERS", 8)
	v.SetDefault("ENGINE_DEFAULT_WAREHOUSE", "MAIN")

	v.SetDefault("GATEWAY_ENABLED", false)
	v.SetDefault("GATEWAY_BASE_URL", "")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	v.SetDefault("GATEWAY_FAILURE_THRESHOLD", 5)
	v.SetDefault("GATEWAY_OPEN_SECONDS", 30)

	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "fulfillops")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PREFIX", "batches/")

	v.SetDefault("EVENTS_REDIS_ENABLED", false)
	v.SetDefault("EVENTS_CHANNEL", "fulfillops.events")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// FromViper builds a Config from v after applying defaults.
func FromViper(v *viper.Viper) *Config {
	SetDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxConcurrentTx: v.GetInt("DB_MAX_CONCURRENT_TX"),
		},
		Cache: CacheConfig{
			Enabled:             v.GetBool("CACHE_ENABLED"),
			RedisURL:            v.GetString("REDIS_URL"),
			RedisHost:           v.GetString("REDIS_HOST"),
			RedisPort:           v.GetString("REDIS_PORT"),
			RedisPassword:       v.GetString("REDIS_PASSWORD"),
			RedisDB:             v.GetInt("REDIS_DB"),
			BatchPlanTTLSeconds: v.GetInt("CACHE_BATCH_PLAN_TTL_SECONDS"),
		},
		Engine: EngineConfig{
			Store:             strings.ToLower(v.GetString("ENGINE_STORE")),
			SelectionCeiling:  positiveOr(v.GetInt("ENGINE_SELECTION_CEILING"), 5000),
			SelectionPageSize: positiveOr(v.GetInt("ENGINE_SELECTION_PAGE_SIZE"), 500),
			DefaultChunkSize:  positiveOr(v.GetInt("ENGINE_DEFAULT_CHUNK_SIZE"), 50),
			PreviewTopN:       positiveOr(v.GetInt("ENGINE_PREVIEW_TOP_N"), 3),
			BulkWorkers:       positiveOr(v.GetInt("ENGINE_BULK_WORKERS"), 8),
			DefaultWarehouse:  v.GetString("ENGINE_DEFAULT_WAREHOUSE"),
		},
		Gateway: GatewayConfig{
			Enabled:          v.GetBool("GATEWAY_ENABLED"),
			BaseURL:          v.GetString("GATEWAY_BASE_URL"),
			APIKey:           v.GetString("GATEWAY_API_KEY"),
			TimeoutSeconds:   v.GetInt("GATEWAY_TIMEOUT_SECONDS"),
			FailureThreshold: v.GetUint32("GATEWAY_FAILURE_THRESHOLD"),
			OpenSeconds:      v.GetInt("GATEWAY_OPEN_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
		},
		Events: EventsConfig{
			RedisEnabled: v.GetBool("EVENTS_REDIS_ENABLED"),
			Channel:      v.GetString("EVENTS_CHANNEL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
