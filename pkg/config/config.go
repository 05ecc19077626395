// Package config loads and validates the service configuration from a YAML
// file with NS_* environment-variable overrides. Every subsystem (server,
// document store, index, search, ingestion, Kafka, Redis, backup) gets a
// typed section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends understood by StoreConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig selects and tunes the durable document log.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"dataDir"`
	SQLitePath string `yaml:"sqlitePath"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. Kafka is optional; when
// disabled the change feed is a no-op and no ingest consumer runs.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest  string `yaml:"documentIngest"`
	DocumentChanges string `yaml:"documentChanges"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls analysis and tombstone compaction.
type IndexConfig struct {
	CompactInterval time.Duration `yaml:"compactInterval"`
	StopWords       bool          `yaml:"stopWords"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IngestConfig controls id policy, size limits and durable-write retries.
type IngestConfig struct {
	StrictIDs       bool          `yaml:"strictIds"`
	MaxContentBytes int           `yaml:"maxContentBytes"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialBackoff  time.Duration `yaml:"initialBackoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
}

// BackupConfig names the S3 destination for document exports.
type BackupConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus /metrics route.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CORSConfig lists allowed browser origins. An empty list disables CORS.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Backend:    BackendFile,
			DataDir:    "data",
			SQLitePath: "data/notes.db",
			SyncWrites: true,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "notessearch",
			User:            "notessearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "notes-search",
			Topics: KafkaTopics{
				DocumentIngest:  "notes.ingest",
				DocumentChanges: "notes.changes",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			CompactInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 10,
			Timeout:      5 * time.Second,
		},
		Ingest: IngestConfig{
			MaxContentBytes: 1 << 20,
			MaxAttempts:     3,
			InitialBackoff:  50 * time.Millisecond,
			MaxBackoff:      2 * time.Second,
			WriteTimeout:    5 * time.Second,
		},
		Backup: BackupConfig{
			Prefix: "notes-search/backups",
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendFile && c.Store.DataDir == "" {
		return fmt.Errorf("store.dataDir is required for the file backend")
	}
	if c.Store.Backend == BackendSQLite && c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlitePath is required for the sqlite backend")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults <= 0 {
		return fmt.Errorf("search limits must be positive")
	}
	if c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit (%d) exceeds search.maxResults (%d)", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	if c.Ingest.MaxContentBytes <= 0 {
		return fmt.Errorf("ingest.maxContentBytes must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// applyEnvOverrides reads NS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("NS_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("NS_STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("NS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("NS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NS_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("NS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NS_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("NS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
