// Package config loads and validates application configuration from YAML or
// TOML files with .env and environment-variable overrides. It provides typed
// structs for every subsystem (Server, Index, Search, Redis, Kafka, etc.).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Index    IndexerConfig  `yaml:"index" toml:"index"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" toml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	RateLimit       float64       `yaml:"rateLimit" toml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst" toml:"rateBurst"`
	CORSOrigins     []string      `yaml:"corsOrigins" toml:"corsOrigins"`
	// AdminKeyHashes are SHA-256 hex digests of the keys accepted on
	// refresh and cache invalidation. Empty leaves those routes open.
	AdminKeyHashes []string `yaml:"adminKeyHashes" toml:"adminKeyHashes"`
}

// IndexerConfig controls the index writer's analyzer, buffer threshold and
// compaction policy.
type IndexerConfig struct {
	DataDir                string        `yaml:"dataDir" toml:"dataDir"`
	Analyzer               string        `yaml:"analyzer" toml:"analyzer"`
	RAMBufferSize          int64         `yaml:"ramBufferSize" toml:"ramBufferSize"`
	MergeInterval          time.Duration `yaml:"mergeInterval" toml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge" toml:"maxSegmentsBeforeMerge"`
	DedupeAcrossSessions   bool          `yaml:"dedupeAcrossSessions" toml:"dedupeAcrossSessions"`
	BatchSize              int           `yaml:"batchSize" toml:"batchSize"`
	BatchTimeout           time.Duration `yaml:"batchTimeout" toml:"batchTimeout"`
}

// SearchConfig controls query limits and snapshot refresh.
type SearchConfig struct {
	MaxResults           int           `yaml:"maxResults" toml:"maxResults"`
	DefaultLimit         int           `yaml:"defaultLimit" toml:"defaultLimit"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries" toml:"maxConcurrentQueries"`
	RefreshInterval      time.Duration `yaml:"refreshInterval" toml:"refreshInterval"`
	WatchIndex           bool          `yaml:"watchIndex" toml:"watchIndex"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	PoolSize int           `yaml:"poolSize" toml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL" toml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled" toml:"enabled"`
	Brokers       []string    `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics" toml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest" toml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete" toml:"indexComplete"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// document status table.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	Database        string        `yaml:"database" toml:"database"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	SSLMode         string        `yaml:"sslMode" toml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML config file (if provided), then a .env file in
// the working directory (if present), and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		default:
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the index and searcher cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Analyzer {
	case "standard", "english", "keyword":
	default:
		return fmt.Errorf("invalid config: unknown analyzer %q", c.Index.Analyzer)
	}
	if c.Index.RAMBufferSize <= 0 {
		return fmt.Errorf("invalid config: index.ramBufferSize must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("invalid config: search limits %d/%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       200,
			RateBurst:       400,
		},
		Index: IndexerConfig{
			DataDir:                "data/index",
			Analyzer:               "standard",
			RAMBufferSize:          16 * 1024 * 1024,
			MergeInterval:          5 * time.Minute,
			MaxSegmentsBeforeMerge: 10,
			BatchSize:              500,
			BatchTimeout:           2 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:           1000,
			DefaultLimit:         50,
			MaxConcurrentQueries: 64,
			RefreshInterval:      30 * time.Second,
			WatchIndex:           true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "segdex-indexer",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index.complete",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "segdex",
			User:            "segdex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_ADMIN_KEY_HASHES"); v != "" {
		cfg.Server.AdminKeyHashes = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("SP_INDEX_ANALYZER"); v != "" {
		cfg.Index.Analyzer = v
	}
	if v := os.Getenv("SP_INDEX_RAM_BUFFER_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Index.RAMBufferSize = n
		}
	}
	if v := os.Getenv("SP_SEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("SP_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
