package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration.
// Nested structs use underscore delimiter (e.g., ELASTIC_ENDPOINT).
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// DataDir is the data directory path.
	// Env: DATA_DIR
	// Default: ~/.esbinder
	DataDir string `envconfig:"DATA_DIR"`

	// DBURL is the database connection URL.
	// Env: DB_URL
	// Default: sqlite:///{data_dir}/esbinder.db
	DBURL string `envconfig:"DB_URL"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// APIKeys is a comma-separated list of valid API keys.
	// Env: API_KEYS
	APIKeys string `envconfig:"API_KEYS"`

	// Engine selects the search engine (bleve or elasticsearch).
	// Env: ENGINE (default: bleve)
	Engine string `envconfig:"ENGINE" default:"bleve"`

	// Elastic configures the Elasticsearch connection.
	Elastic ElasticEnv `envconfig:"ELASTIC"`

	// Bleve configures the embedded engine.
	Bleve BleveEnv `envconfig:"BLEVE"`

	// ChunkSize is the number of rows per scan batch and bulk request.
	// Env: CHUNK_SIZE (default: 1000)
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"1000"`

	// SearchLimit is the default search page size.
	// Env: SEARCH_LIMIT (default: 20)
	SearchLimit int `envconfig:"SEARCH_LIMIT" default:"20"`

	// MappingsFile is a YAML file of per-entity index bodies.
	// Env: MAPPINGS_FILE
	MappingsFile string `envconfig:"MAPPINGS_FILE"`

	// PeriodicRebuild configures scheduled full rebuilds.
	PeriodicRebuild PeriodicRebuildEnv `envconfig:"PERIODIC_REBUILD"`
}

// ElasticEnv holds environment configuration for Elasticsearch.
type ElasticEnv struct {
	// Endpoint is a comma-separated list of node URLs.
	// Env: ELASTIC_ENDPOINT
	Endpoint string `envconfig:"ENDPOINT"`

	// Secret is "basic:user:pass" or "token:api-key".
	// Env: ELASTIC_SECRET
	Secret string `envconfig:"SECRET"`

	// Refresh is the refresh policy for writes (true, false, wait_for).
	// Env: ELASTIC_REFRESH
	Refresh string `envconfig:"REFRESH"`

	// BulkWorkers is the number of bulk indexer workers.
	// Env: ELASTIC_BULK_WORKERS (default: 0, the client default)
	BulkWorkers int `envconfig:"BULK_WORKERS" default:"0"`
}

// BleveEnv holds environment configuration for the embedded engine.
type BleveEnv struct {
	// Dir is the index directory.
	// Env: BLEVE_DIR
	// Default: {data_dir}/indexes
	Dir string `envconfig:"DIR"`

	// InMemory keeps indices in memory only.
	// Env: BLEVE_IN_MEMORY (default: false)
	InMemory bool `envconfig:"IN_MEMORY" default:"false"`
}

// PeriodicRebuildEnv holds environment configuration for scheduled rebuilds.
type PeriodicRebuildEnv struct {
	// Enabled controls whether scheduled rebuilds run.
	// Env: PERIODIC_REBUILD_ENABLED (default: false)
	Enabled bool `envconfig:"ENABLED" default:"false"`

	// IntervalSeconds is the rebuild interval in seconds.
	// Env: PERIODIC_REBUILD_INTERVAL_SECONDS (default: 86400)
	IntervalSeconds float64 `envconfig:"INTERVAL_SECONDS" default:"86400"`
}

// LoadFromEnv loads configuration from environment variables without a prefix.
func LoadFromEnv() (EnvConfig, error) {
	return LoadFromEnvWithPrefix("")
}

// LoadFromEnvWithPrefix loads configuration with a custom prefix.
// For example, prefix "ESBINDER" would require ESBINDER_DB_URL instead of DB_URL.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() (AppConfig, error) {
	engine, err := ParseEngine(e.Engine)
	if err != nil {
		return AppConfig{}, err
	}

	opts := []AppConfigOption{
		WithEngine(engine),
		WithElastic(e.Elastic.ToElasticConfig()),
		WithBleveInMemory(e.Bleve.InMemory),
		WithChunkSize(e.ChunkSize),
		WithSearchLimit(e.SearchLimit),
		WithPeriodicRebuildConfig(e.PeriodicRebuild.ToPeriodicRebuildConfig()),
	}
	if e.Host != "" {
		opts = append(opts, WithHost(e.Host))
	}
	if e.Port != 0 {
		opts = append(opts, WithPort(e.Port))
	}
	if e.DataDir != "" {
		opts = append(opts, WithDataDir(e.DataDir))
	}
	if e.DBURL != "" {
		opts = append(opts, WithDBURL(e.DBURL))
	}
	if e.LogLevel != "" {
		opts = append(opts, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		opts = append(opts, WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.APIKeys != "" {
		opts = append(opts, WithAPIKeys(ParseList(e.APIKeys)))
	}
	if e.Bleve.Dir != "" {
		opts = append(opts, WithBleveDir(e.Bleve.Dir))
	}
	if e.MappingsFile != "" {
		opts = append(opts, WithMappingsFile(e.MappingsFile))
	}
	return NewAppConfigWithOptions(opts...), nil
}

// ToElasticConfig converts ElasticEnv to ElasticConfig.
func (e ElasticEnv) ToElasticConfig() ElasticConfig {
	return NewElasticConfig().
		WithAddresses(ParseList(e.Endpoint)...).
		WithSecret(e.Secret).
		WithRefresh(e.Refresh).
		WithWorkers(e.BulkWorkers)
}

// ToPeriodicRebuildConfig converts PeriodicRebuildEnv to PeriodicRebuildConfig.
func (p PeriodicRebuildEnv) ToPeriodicRebuildConfig() PeriodicRebuildConfig {
	return NewPeriodicRebuildConfig().
		WithEnabled(p.Enabled).
		WithIntervalSeconds(p.IntervalSeconds)
}

// parseLogFormat parses a log format string.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
