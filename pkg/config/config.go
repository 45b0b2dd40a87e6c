// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Indexer, Builder, Search, Cache, Redis, Kafka, Database,
// Evaluation, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Builder    BuilderConfig    `yaml:"builder"`
	Search     SearchConfig     `yaml:"search"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Database   DatabaseConfig   `yaml:"database"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowOrigins enables CORS for the listed origins; "*" allows any.
	AllowOrigins []string `yaml:"allowOrigins"`
	// RateLimit is the number of requests per minute allowed per client
	// address. Zero disables rate limiting.
	RateLimit int `yaml:"rateLimit"`
}

// IndexerConfig controls where the index lives and how segments are read.
type IndexerConfig struct {
	DataDir string `yaml:"dataDir"`
	// ReadOnly opens the index without taking the writer lock; searchers use it.
	ReadOnly bool `yaml:"readOnly"`
	// DocCacheBlocks is the number of decoded stored-document blocks kept per segment.
	DocCacheBlocks int `yaml:"docCacheBlocks"`
	// MergeFactor is how many segments of similar size a commit merges into
	// one. Zero means 10; a negative value disables automatic merging.
	MergeFactor int `yaml:"mergeFactor"`
	// MaxMergeDocs stops automatic merges from producing segments larger than
	// this many live documents. Zero means 2,000,000.
	MaxMergeDocs int `yaml:"maxMergeDocs"`
}

// BuilderConfig controls bulk indexing.
type BuilderConfig struct {
	BatchSize        int  `yaml:"batchSize"`
	Workers          int  `yaml:"workers"`
	ProgressInterval int  `yaml:"progressInterval"`
	MaxErrors        int  `yaml:"maxErrors"`
	Replace          bool `yaml:"replace"`
	CompactOnFinish  bool `yaml:"compactOnFinish"`
}

// SearchConfig controls query execution and BM25 parameters.
type SearchConfig struct {
	DefaultK    int     `yaml:"defaultK"`
	MaxK        int     `yaml:"maxK"`
	Workers     int     `yaml:"workers"`
	K1          float64 `yaml:"k1"`
	B           float64 `yaml:"b"`
	TitleWeight float64 `yaml:"titleWeight"`
	BodyWeight  float64 `yaml:"bodyWeight"`
}

// CacheConfig selects the query cache backend: "lru", "redis" or "none".
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables index notifications.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// DatabaseConfig holds the evaluation history database. Driver is "sqlite"
// or "postgres"; an empty DSN disables history.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// EvaluationConfig holds dataset locations and output settings.
type EvaluationConfig struct {
	Splits    map[string]string `yaml:"splits"`
	OutputDir string            `yaml:"outputDir"`
	K         int               `yaml:"k"`
	// UnlabeledSplits lists splits without ground truth; they are retrieved
	// but not evaluated.
	UnlabeledSplits []string `yaml:"unlabeledSplits"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		// yaml.v3 merges into existing maps; splits from the file replace
		// the defaults instead.
		defaultSplits := cfg.Evaluation.Splits
		cfg.Evaluation.Splits = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		if cfg.Evaluation.Splits == nil {
			cfg.Evaluation.Splits = defaultSplits
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Indexer.DataDir == "" {
		problems = append(problems, "indexer.dataDir is required")
	}
	if c.Builder.BatchSize <= 0 {
		problems = append(problems, "builder.batchSize must be positive")
	}
	if c.Indexer.MergeFactor == 1 || c.Indexer.MaxMergeDocs < 0 {
		problems = append(problems, "indexer.mergeFactor must not be 1 and indexer.maxMergeDocs must not be negative")
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, "server.rateLimit must not be negative")
	}
	if c.Search.DefaultK <= 0 {
		problems = append(problems, "search.defaultK must be positive")
	}
	if c.Search.MaxK < c.Search.DefaultK {
		problems = append(problems, "search.maxK must be >= search.defaultK")
	}
	if c.Search.K1 < 0 || c.Search.B < 0 || c.Search.B > 1 {
		problems = append(problems, "search.k1 must be >= 0 and search.b within [0,1]")
	}
	switch c.Cache.Backend {
	case "", "none", "lru", "redis":
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q is not one of none, lru, redis", c.Cache.Backend))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of sqlite, postgres", c.Database.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config matching the original retrieval setup:
// batches of 1000 documents, progress every 10000, top-100 retrieval with
// BM25 k1=1.2, b=0.75 and a 3x title boost.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:        "data/index",
			DocCacheBlocks: 256,
			MergeFactor:    10,
			MaxMergeDocs:   2_000_000,
		},
		Builder: BuilderConfig{
			BatchSize:        1000,
			Workers:          4,
			ProgressInterval: 10000,
			MaxErrors:        100,
		},
		Search: SearchConfig{
			DefaultK:    100,
			MaxK:        1000,
			Workers:     8,
			K1:          1.2,
			B:           0.75,
			TitleWeight: 3.0,
			BodyWeight:  1.0,
		},
		Cache: CacheConfig{
			Backend: "lru",
			Size:    4096,
			TTL:     10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "hover-retrieval",
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
			},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Evaluation: EvaluationConfig{
			Splits: map[string]string{
				"train": "data/hover_train_release_v1.1.json",
				"dev":   "data/hover_dev_release_v1.1.json",
				"test":  "data/hover_test_release_v1.1.json",
			},
			OutputDir:       "output",
			K:               100,
			UnlabeledSplits: []string{"test"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads HOVER_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOVER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HOVER_INDEX_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("HOVER_MERGE_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.MergeFactor = n
		}
	}
	if v := os.Getenv("HOVER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Builder.BatchSize = n
		}
	}
	if v := os.Getenv("HOVER_BUILDER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Builder.Workers = n
		}
	}
	if v := os.Getenv("HOVER_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.Workers = n
		}
	}
	if v := os.Getenv("HOVER_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("HOVER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HOVER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HOVER_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("HOVER_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("HOVER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("HOVER_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOVER_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("HOVER_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
}
