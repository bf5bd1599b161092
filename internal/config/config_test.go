package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConstants(t *testing.T) {
	if DefaultHost != "0.0.0.0" {
		t.Errorf("DefaultHost = %v, want '0.0.0.0'", DefaultHost)
	}
	if DefaultPort != 8080 {
		t.Errorf("DefaultPort = %v, want 8080", DefaultPort)
	}
	if DefaultLogLevel != "INFO" {
		t.Errorf("DefaultLogLevel = %v, want 'INFO'", DefaultLogLevel)
	}
	if DefaultEngine != EngineBleve {
		t.Errorf("DefaultEngine = %v, want bleve", DefaultEngine)
	}
	if DefaultChunkSize != 1000 {
		t.Errorf("DefaultChunkSize = %v, want 1000", DefaultChunkSize)
	}
	if DefaultSearchLimit != 20 {
		t.Errorf("DefaultSearchLimit = %v, want 20", DefaultSearchLimit)
	}
	if DefaultIndexSubdir != "indexes" {
		t.Errorf("DefaultIndexSubdir = %v, want 'indexes'", DefaultIndexSubdir)
	}
	if DefaultPeriodicRebuildInterval != 86400.0 {
		t.Errorf("DefaultPeriodicRebuildInterval = %v, want 86400.0", DefaultPeriodicRebuildInterval)
	}
}

func TestParseEngine(t *testing.T) {
	tests := []struct {
		in   string
		want Engine
	}{
		{"", EngineBleve},
		{"bleve", EngineBleve},
		{"BLEVE", EngineBleve},
		{"elasticsearch", EngineElastic},
		{"elastic", EngineElastic},
		{" es ", EngineElastic},
	}
	for _, tt := range tests {
		got, err := ParseEngine(tt.in)
		if err != nil {
			t.Errorf("ParseEngine(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEngine(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseEngine("solr"); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("ParseEngine(solr) error = %v, want ErrUnknownEngine", err)
	}
}

func TestElasticConfig(t *testing.T) {
	cfg := NewElasticConfig()
	if cfg.IsConfigured() {
		t.Error("empty ElasticConfig should not be configured")
	}

	cfg = cfg.
		WithAddresses("http://a:9200", " ", "http://b:9200 ").
		WithSecret("basic:elastic:changeme").
		WithRefresh("wait_for").
		WithWorkers(2)

	if !cfg.IsConfigured() {
		t.Error("ElasticConfig with addresses should be configured")
	}
	addrs := cfg.Addresses()
	if len(addrs) != 2 || addrs[0] != "http://a:9200" || addrs[1] != "http://b:9200" {
		t.Errorf("Addresses() = %v", addrs)
	}
	addrs[0] = "mutated"
	if cfg.Addresses()[0] != "http://a:9200" {
		t.Error("Addresses() should return a copy")
	}
	if cfg.Secret() != "basic:elastic:changeme" {
		t.Errorf("Secret() = %v", cfg.Secret())
	}
	if cfg.Refresh() != "wait_for" {
		t.Errorf("Refresh() = %v", cfg.Refresh())
	}
	if cfg.Workers() != 2 {
		t.Errorf("Workers() = %v, want 2", cfg.Workers())
	}
	if cfg.WithWorkers(-1).Workers() != 2 {
		t.Error("negative worker count should be ignored")
	}
}

func TestPeriodicRebuildConfig(t *testing.T) {
	cfg := NewPeriodicRebuildConfig()
	if cfg.Enabled() {
		t.Error("periodic rebuild should be disabled by default")
	}
	if cfg.Interval() != 24*time.Hour {
		t.Errorf("Interval() = %v, want 24h", cfg.Interval())
	}

	cfg = cfg.WithEnabled(true).WithIntervalSeconds(90)
	if !cfg.Enabled() {
		t.Error("Enabled() should be true")
	}
	if cfg.Interval() != 90*time.Second {
		t.Errorf("Interval() = %v, want 90s", cfg.Interval())
	}
	if cfg.WithIntervalSeconds(0).Interval() != 90*time.Second {
		t.Error("zero interval should be ignored")
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	cfg := NewAppConfig()

	if cfg.Host() != DefaultHost {
		t.Errorf("Host() = %v, want %v", cfg.Host(), DefaultHost)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %v, want %v", cfg.Port(), DefaultPort)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %v, want 0.0.0.0:8080", cfg.Addr())
	}
	if cfg.Engine() != EngineBleve {
		t.Errorf("Engine() = %v, want bleve", cfg.Engine())
	}
	if cfg.LogFormat() != LogFormatPretty {
		t.Errorf("LogFormat() = %v, want pretty", cfg.LogFormat())
	}
	if !strings.HasSuffix(cfg.DBURL(), "esbinder.db") {
		t.Errorf("DBURL() = %v, want sqlite default", cfg.DBURL())
	}
	if cfg.BleveDir() != filepath.Join(cfg.DataDir(), "indexes") {
		t.Errorf("BleveDir() = %v", cfg.BleveDir())
	}
	if cfg.BleveInMemory() {
		t.Error("BleveInMemory() should default to false")
	}
	if cfg.ChunkSize() != DefaultChunkSize {
		t.Errorf("ChunkSize() = %v, want %v", cfg.ChunkSize(), DefaultChunkSize)
	}
	if len(cfg.APIKeys()) != 0 {
		t.Errorf("APIKeys() = %v, want empty", cfg.APIKeys())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestAppConfig_WithOptions(t *testing.T) {
	cfg := NewAppConfigWithOptions(
		WithHost("127.0.0.1"),
		WithPort(9200),
		WithDataDir("/tmp/esbinder"),
		WithLogLevel("DEBUG"),
		WithLogFormat(LogFormatJSON),
		WithBleveDir("/var/indexes"),
		WithBleveInMemory(true),
		WithChunkSize(50),
		WithSearchLimit(5),
		WithMappingsFile("/etc/esbinder/mappings.yaml"),
		WithAPIKeys([]string{"k1"}),
	)

	if cfg.Addr() != "127.0.0.1:9200" {
		t.Errorf("Addr() = %v", cfg.Addr())
	}
	if cfg.DataDir() != "/tmp/esbinder" {
		t.Errorf("DataDir() = %v", cfg.DataDir())
	}
	if cfg.DBURL() != "sqlite:////tmp/esbinder/esbinder.db" {
		t.Errorf("DBURL() = %v", cfg.DBURL())
	}
	if cfg.LogLevel() != "DEBUG" || cfg.LogFormat() != LogFormatJSON {
		t.Errorf("log settings = %v %v", cfg.LogLevel(), cfg.LogFormat())
	}
	if cfg.BleveDir() != "/var/indexes" || !cfg.BleveInMemory() {
		t.Errorf("bleve settings = %v %v", cfg.BleveDir(), cfg.BleveInMemory())
	}
	if cfg.ChunkSize() != 50 || cfg.SearchLimit() != 5 {
		t.Errorf("sizes = %v %v", cfg.ChunkSize(), cfg.SearchLimit())
	}
	if cfg.MappingsFile() != "/etc/esbinder/mappings.yaml" {
		t.Errorf("MappingsFile() = %v", cfg.MappingsFile())
	}
	if got := cfg.APIKeys(); len(got) != 1 || got[0] != "k1" {
		t.Errorf("APIKeys() = %v", got)
	}
}

func TestAppConfig_ExplicitDBURLSurvivesDataDir(t *testing.T) {
	cfg := NewAppConfigWithOptions(
		WithDBURL("postgres://user:pass@db/esbinder"),
		WithDataDir("/tmp/other"),
	)
	if cfg.DBURL() != "postgres://user:pass@db/esbinder" {
		t.Errorf("DBURL() = %v", cfg.DBURL())
	}
}

func TestAppConfig_Validate(t *testing.T) {
	cfg := NewAppConfigWithOptions(WithEngine(EngineElastic))
	if err := cfg.Validate(); !errors.Is(err, ErrMissingElasticEndpoint) {
		t.Errorf("Validate() = %v, want ErrMissingElasticEndpoint", err)
	}

	cfg = cfg.Apply(WithElastic(NewElasticConfig().WithAddresses("http://localhost:9200")))
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	cfg = cfg.Apply(WithEngine(Engine("solr")))
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Validate() = %v, want ErrUnknownEngine", err)
	}
}

func TestAppConfig_LogAttrsMasksCredentials(t *testing.T) {
	cfg := NewAppConfigWithOptions(
		WithDBURL("postgres://user:secret@db/esbinder"),
		WithEngine(EngineElastic),
		WithElastic(NewElasticConfig().WithAddresses("http://es:9200").WithSecret("basic:elastic:hunter2")),
	)
	for _, attr := range cfg.LogAttrs() {
		v := attr.Value.String()
		if strings.Contains(v, "secret") || strings.Contains(v, "hunter2") {
			t.Errorf("attribute %s leaks credentials: %v", attr.Key, v)
		}
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b", 2},
		{" a , , b ", 2},
	}
	for _, tt := range tests {
		if got := ParseList(tt.in); len(got) != tt.want {
			t.Errorf("ParseList(%q) = %v, want %d entries", tt.in, got, tt.want)
		}
	}
}
