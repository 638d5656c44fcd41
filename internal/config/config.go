package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogStore      LogStoreConfig      `yaml:"log_store"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Tools         []ToolConfig        `yaml:"tools"`
}

type ServiceConfig struct {
	Name         string        `yaml:"name" env:"QUACKQL_SERVICE_NAME" env-default:"quackql"`
	Version      string        `yaml:"version" env-default:"dev"`
	Transport    Transport     `yaml:"transport" env:"QUACKQL_TRANSPORT" env-default:"stdio"`
	HTTPAddr     string        `yaml:"http_addr" env:"QUACKQL_HTTP_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"QUACKQL_HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"QUACKQL_HTTP_WRITE_TIMEOUT" env-default:"5m"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"QUACKQL_HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level" env:"QUACKQL_LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `yaml:"log_json" env:"QUACKQL_LOG_JSON" env-default:"true"`
}

// LogStore points at the append-only attempt log. A plain path selects the
// DuckDB file sink; a postgres:// DSN selects the Postgres sink.
type LogStoreConfig struct {
	Locator string `yaml:"locator" env:"QUACKQL_LOG_STORE" env-default:"quackql_log.duckdb"`
}

// ObjectStore is only consulted for s3:// parquet locators.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint" env:"QUACKQL_OBJECTSTORE_ENDPOINT"`
	Region          string `yaml:"region" env:"QUACKQL_OBJECTSTORE_REGION" env-default:"us-east-1"`
	AccessKeyID     string `yaml:"access_key" env:"QUACKQL_OBJECTSTORE_ACCESS_KEY"`
	SecretAccessKey string `yaml:"-" env:"QUACKQL_OBJECTSTORE_SECRET_KEY"`
	UseSSL          bool   `yaml:"use_ssl" env:"QUACKQL_OBJECTSTORE_USE_SSL" env-default:"true"`
}

type ToolConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	DBPath      string `yaml:"db_path"`
	ParquetPath string `yaml:"parquet_path"`
	TableName   string `yaml:"table_name"`

	// MaxRetries is the corrective-attempt budget after the initial
	// generation. nil means the default; explicit 0 disables retries.
	MaxRetries *int `yaml:"max_retries"`

	Prompt            PromptConfig `yaml:"prompt"`
	LLM               LLMConfig    `yaml:"llm"`
	DiagnosticQueries []string     `yaml:"diagnostic_queries"`
	Hints             []string     `yaml:"hints"`
}

type PromptConfig struct {
	ResponsePrefix    string `yaml:"response_prefix"`
	HintStyle         string `yaml:"hint_style"`
	IncludeSampleRows *bool  `yaml:"include_sample_rows"`
	SampleRowCount    int    `yaml:"sample_row_count"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return Config{}, fmt.Errorf("config path is required")
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	switch c.Service.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport: %q", c.Service.Transport)
	}
	if _, err := ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}

	c.LogStore.Locator = strings.TrimSpace(c.LogStore.Locator)
	if !strings.HasPrefix(c.LogStore.Locator, "postgres://") {
		c.LogStore.Locator = ExpandPath(c.LogStore.Locator)
	}
	if c.LogStore.Locator == "" {
		return fmt.Errorf("log store locator is required")
	}

	if len(c.Tools) == 0 {
		return fmt.Errorf("at least one tool must be configured")
	}
	seen := make(map[string]bool, len(c.Tools))
	for i := range c.Tools {
		tool := &c.Tools[i]
		if err := tool.normalize(); err != nil {
			return fmt.Errorf("tool %d (%q): %w", i, tool.Name, err)
		}
		if seen[tool.Name] {
			return fmt.Errorf("duplicate tool name: %q", tool.Name)
		}
		seen[tool.Name] = true
	}
	return nil
}

func (t *ToolConfig) normalize() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	t.DBPath = ExpandPath(strings.TrimSpace(t.DBPath))
	t.ParquetPath = strings.TrimSpace(t.ParquetPath)
	if !strings.HasPrefix(t.ParquetPath, "s3://") {
		t.ParquetPath = ExpandPath(t.ParquetPath)
	}
	if t.DBPath == "" && t.ParquetPath == "" {
		return fmt.Errorf("either db_path or parquet_path is required")
	}
	if t.DBPath != "" && t.ParquetPath != "" {
		return fmt.Errorf("db_path and parquet_path are mutually exclusive")
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}

	if t.Prompt.ResponsePrefix == "" {
		t.Prompt.ResponsePrefix = "SELECT"
	}
	switch t.Prompt.HintStyle {
	case "":
		t.Prompt.HintStyle = "sql_comment"
	case "sql_comment", "plain":
	default:
		return fmt.Errorf("invalid hint_style: %q", t.Prompt.HintStyle)
	}
	if t.Prompt.SampleRowCount <= 0 {
		t.Prompt.SampleRowCount = 8
	}

	return t.LLM.normalize()
}

func (l *LLMConfig) normalize() error {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = ProviderOpenAI
	}
	switch l.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("unsupported llm provider: %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm model is required")
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 2048
	}
	if l.APIKey == "" {
		l.APIKey = apiKeyFromEnv(l.Provider)
	}
	return nil
}

// apiKeyFromEnv mirrors the conventional provider env vars so keys can stay
// out of the config file.
func apiKeyFromEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

const defaultMaxRetries = 2

// RetryBudget returns the configured corrective-attempt budget, defaulting
// when the field is omitted.
func (t ToolConfig) RetryBudget() int {
	if t.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *t.MaxRetries
}

// IncludeSamples defaults to true when the field is omitted.
func (p PromptConfig) IncludeSamples() bool {
	if p.IncludeSampleRows == nil {
		return true
	}
	return *p.IncludeSampleRows
}

// DefaultTableName is the view name used for parquet sources when the tool
// does not configure one.
const DefaultTableName = "data"

// ResolvedTableName returns the configured table name or the parquet default.
// DuckDB-file tools with no configured name rely on startup auto-discovery
// and return "" here.
func (t ToolConfig) ResolvedTableName() string {
	if t.TableName != "" {
		return t.TableName
	}
	if t.ParquetPath != "" {
		return DefaultTableName
	}
	return ""
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q", raw)
	}
}

func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
