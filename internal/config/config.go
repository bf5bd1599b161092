// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultHost                    = "0.0.0.0"
	DefaultPort                    = 8080
	DefaultLogLevel                = "INFO"
	DefaultEngine                  = EngineBleve
	DefaultChunkSize               = 1000
	DefaultSearchLimit             = 20
	DefaultIndexSubdir             = "indexes"
	DefaultPeriodicRebuildInterval = 86400.0 // seconds
)

// Configuration errors.
var (
	ErrMissingElasticEndpoint = errors.New("elasticsearch engine selected but no endpoint configured")
	ErrUnknownEngine          = errors.New("unknown search engine")
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Engine names a search engine backend.
type Engine string

// Engine values.
const (
	EngineBleve   Engine = "bleve"
	EngineElastic Engine = "elasticsearch"
)

// ParseEngine parses an engine name. "elastic" and "es" are accepted as
// short forms of elasticsearch.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bleve":
		return EngineBleve, nil
	case "elasticsearch", "elastic", "es":
		return EngineElastic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// ElasticConfig configures the Elasticsearch connection.
type ElasticConfig struct {
	addresses []string
	secret    string
	refresh   string
	workers   int
}

// NewElasticConfig creates an empty ElasticConfig.
func NewElasticConfig() ElasticConfig {
	return ElasticConfig{}
}

// Addresses returns the cluster node URLs.
func (e ElasticConfig) Addresses() []string {
	out := make([]string, len(e.addresses))
	copy(out, e.addresses)
	return out
}

// Secret returns the credentials ("basic:user:pass" or "token:key").
func (e ElasticConfig) Secret() string { return e.secret }

// Refresh returns the refresh policy passed to write requests.
func (e ElasticConfig) Refresh() string { return e.refresh }

// Workers returns the bulk indexer worker count; zero means the client default.
func (e ElasticConfig) Workers() int { return e.workers }

// IsConfigured returns true if at least one address is set.
func (e ElasticConfig) IsConfigured() bool { return len(e.addresses) > 0 }

// WithAddresses returns a new config with the given node URLs.
func (e ElasticConfig) WithAddresses(addresses ...string) ElasticConfig {
	e.addresses = make([]string, 0, len(addresses))
	for _, a := range addresses {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			e.addresses = append(e.addresses, trimmed)
		}
	}
	return e
}

// WithSecret returns a new config with the given credentials.
func (e ElasticConfig) WithSecret(secret string) ElasticConfig {
	e.secret = secret
	return e
}

// WithRefresh returns a new config with the given refresh policy.
func (e ElasticConfig) WithRefresh(refresh string) ElasticConfig {
	e.refresh = refresh
	return e
}

// WithWorkers returns a new config with the given bulk worker count.
func (e ElasticConfig) WithWorkers(n int) ElasticConfig {
	if n >= 0 {
		e.workers = n
	}
	return e
}

// PeriodicRebuildConfig configures scheduled full rebuilds.
type PeriodicRebuildConfig struct {
	enabled         bool
	intervalSeconds float64
}

// NewPeriodicRebuildConfig creates a disabled PeriodicRebuildConfig.
func NewPeriodicRebuildConfig() PeriodicRebuildConfig {
	return PeriodicRebuildConfig{
		intervalSeconds: DefaultPeriodicRebuildInterval,
	}
}

// Enabled returns whether scheduled rebuilds run.
func (p PeriodicRebuildConfig) Enabled() bool { return p.enabled }

// Interval returns the rebuild interval as a duration.
func (p PeriodicRebuildConfig) Interval() time.Duration {
	return time.Duration(p.intervalSeconds * float64(time.Second))
}

// WithEnabled returns a new config with the specified enabled state.
func (p PeriodicRebuildConfig) WithEnabled(enabled bool) PeriodicRebuildConfig {
	p.enabled = enabled
	return p
}

// WithIntervalSeconds returns a new config with the specified interval.
func (p PeriodicRebuildConfig) WithIntervalSeconds(seconds float64) PeriodicRebuildConfig {
	if seconds > 0 {
		p.intervalSeconds = seconds
	}
	return p
}

// AppConfig holds the application configuration.
type AppConfig struct {
	host            string
	port            int
	dataDir         string
	dbURL           string
	logLevel        string
	logFormat       LogFormat
	engine          Engine
	elastic         ElasticConfig
	bleveDir        string
	bleveInMemory   bool
	chunkSize       int
	searchLimit     int
	mappingsFile    string
	apiKeys         []string
	periodicRebuild PeriodicRebuildConfig
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".esbinder"
	}
	return filepath.Join(home, ".esbinder")
}

// PrepareDataDir creates the data directory if it does not exist and returns it.
func PrepareDataDir(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dataDir, nil
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	dataDir := DefaultDataDir()
	return AppConfig{
		host:            DefaultHost,
		port:            DefaultPort,
		dataDir:         dataDir,
		dbURL:           "sqlite:///" + filepath.Join(dataDir, "esbinder.db"),
		logLevel:        DefaultLogLevel,
		logFormat:       LogFormatPretty,
		engine:          DefaultEngine,
		elastic:         NewElasticConfig(),
		chunkSize:       DefaultChunkSize,
		searchLimit:     DefaultSearchLimit,
		apiKeys:         []string{},
		periodicRebuild: NewPeriodicRebuildConfig(),
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DataDir returns the data directory path.
func (c AppConfig) DataDir() string { return c.dataDir }

// DBURL returns the database connection URL.
func (c AppConfig) DBURL() string { return c.dbURL }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// Engine returns the selected search engine.
func (c AppConfig) Engine() Engine { return c.engine }

// Elastic returns the Elasticsearch connection config.
func (c AppConfig) Elastic() ElasticConfig { return c.elastic }

// BleveDir returns the directory bleve indices are stored in.
func (c AppConfig) BleveDir() string {
	if c.bleveDir != "" {
		return c.bleveDir
	}
	return filepath.Join(c.dataDir, DefaultIndexSubdir)
}

// BleveInMemory returns whether bleve indices are kept in memory only.
func (c AppConfig) BleveInMemory() bool { return c.bleveInMemory }

// ChunkSize returns the scan and bulk batch size.
func (c AppConfig) ChunkSize() int { return c.chunkSize }

// SearchLimit returns the default search page size.
func (c AppConfig) SearchLimit() int { return c.searchLimit }

// MappingsFile returns the path of the index mappings file, if any.
func (c AppConfig) MappingsFile() string { return c.mappingsFile }

// APIKeys returns the configured API keys.
func (c AppConfig) APIKeys() []string {
	keys := make([]string, len(c.apiKeys))
	copy(keys, c.apiKeys)
	return keys
}

// PeriodicRebuild returns the scheduled rebuild config.
func (c AppConfig) PeriodicRebuild() PeriodicRebuildConfig { return c.periodicRebuild }

// EnsureDataDir creates the data directory if it doesn't exist.
func (c AppConfig) EnsureDataDir() error {
	return os.MkdirAll(c.dataDir, 0o755)
}

// Validate checks that the selected engine can be reached.
func (c AppConfig) Validate() error {
	switch c.engine {
	case EngineBleve:
		return nil
	case EngineElastic:
		if !c.elastic.IsConfigured() {
			return ErrMissingElasticEndpoint
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.engine)
	}
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithDataDir sets the data directory.
func WithDataDir(dir string) AppConfigOption {
	return func(c *AppConfig) {
		c.dataDir = dir
		// Keep the default database inside the data directory.
		if c.dbURL == "" || strings.HasSuffix(c.dbURL, "esbinder.db") {
			c.dbURL = "sqlite:///" + filepath.Join(dir, "esbinder.db")
		}
	}
}

// WithDBURL sets the database URL.
func WithDBURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.dbURL = url }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithEngine selects the search engine.
func WithEngine(e Engine) AppConfigOption {
	return func(c *AppConfig) { c.engine = e }
}

// WithElastic sets the Elasticsearch connection config.
func WithElastic(e ElasticConfig) AppConfigOption {
	return func(c *AppConfig) { c.elastic = e }
}

// WithBleveDir sets the bleve index directory.
func WithBleveDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.bleveDir = dir }
}

// WithBleveInMemory keeps bleve indices in memory.
func WithBleveInMemory(inMemory bool) AppConfigOption {
	return func(c *AppConfig) { c.bleveInMemory = inMemory }
}

// WithChunkSize sets the scan and bulk batch size.
func WithChunkSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithSearchLimit sets the default search page size.
func WithSearchLimit(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.searchLimit = n
		}
	}
}

// WithMappingsFile sets the index mappings file.
func WithMappingsFile(path string) AppConfigOption {
	return func(c *AppConfig) { c.mappingsFile = path }
}

// WithAPIKeys sets the API keys.
func WithAPIKeys(keys []string) AppConfigOption {
	return func(c *AppConfig) {
		c.apiKeys = make([]string, len(keys))
		copy(c.apiKeys, keys)
	}
}

// WithPeriodicRebuildConfig sets the scheduled rebuild config.
func WithPeriodicRebuildConfig(p PeriodicRebuildConfig) AppConfigOption {
	return func(c *AppConfig) { c.periodicRebuild = p }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	return NewAppConfig().Apply(opts...)
}

// Apply returns a new AppConfig with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
// Credentials are masked.
func (c AppConfig) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("data_dir", c.dataDir),
		slog.String("log_level", c.logLevel),
		slog.String("db_url", c.maskedDBURL()),
		slog.String("engine", string(c.engine)),
		slog.Int("chunk_size", c.chunkSize),
		slog.Int("api_keys_count", len(c.apiKeys)),
		slog.Bool("periodic_rebuild_enabled", c.periodicRebuild.Enabled()),
		slog.Duration("periodic_rebuild_interval", c.periodicRebuild.Interval()),
	}
	switch c.engine {
	case EngineElastic:
		attrs = append(attrs,
			slog.String("elastic_addresses", strings.Join(c.elastic.addresses, ",")),
			slog.Bool("elastic_secret_set", c.elastic.secret != ""),
		)
	default:
		attrs = append(attrs,
			slog.String("bleve_dir", c.BleveDir()),
			slog.Bool("bleve_in_memory", c.bleveInMemory),
		)
	}
	if c.mappingsFile != "" {
		attrs = append(attrs, slog.String("mappings_file", c.mappingsFile))
	}
	return attrs
}

func (c AppConfig) maskedDBURL() string {
	if c.dbURL == "" {
		return "(default)"
	}
	if strings.HasPrefix(c.dbURL, "sqlite:") {
		return c.dbURL
	}
	return "postgres://***@***"
}

// ParseList parses a comma-separated list, dropping empty entries.
func ParseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
