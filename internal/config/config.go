// Package config loads the quill service configuration from a YAML file
// with environment overrides. The file path comes from QUILL_CONFIG, falling
// back to /app/config/quill.yaml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quillworks/quill/internal/routing"
)

// DefaultPath is used when QUILL_CONFIG is unset.
const DefaultPath = "/app/config/quill.yaml"

// ServiceConfig holds the HTTP surface knobs.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// WorkflowConfig holds the loop budgets and validation threshold.
type WorkflowConfig struct {
	MaxLiteratureLoops  int     `mapstructure:"max_literature_loops"`
	MaxRevisionLoops    int     `mapstructure:"max_revision_loops"`
	MaxGapsPerCycle     int     `mapstructure:"max_gaps_per_cycle"`
	ValidationThreshold float64 `mapstructure:"validation_threshold"`
	CitationStyle       string  `mapstructure:"citation_style"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	ServiceURL    string        `mapstructure:"service_url"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

// SearchConfig configures the web-search collaborator. The API key is only
// ever read from the environment, never from the file.
type SearchConfig struct {
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	MaxResults    int           `mapstructure:"max_results"`
	SnippetBudget int           `mapstructure:"snippet_budget"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// RedisConfig configures the event stream fan-out.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	StreamTTL int    `mapstructure:"stream_ttl_seconds"`
}

// DatabaseConfig configures the run checkpoint store.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// TemporalConfig configures the workflow backend.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8081)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", "30s")
	v.SetDefault("service.read_timeout", "15s")
	v.SetDefault("service.write_timeout", "15s")

	v.SetDefault("workflow.max_literature_loops", 3)
	v.SetDefault("workflow.max_revision_loops", 2)
	v.SetDefault("workflow.max_gaps_per_cycle", 3)
	v.SetDefault("workflow.validation_threshold", 0.7)
	v.SetDefault("workflow.citation_style", "APA")

	v.SetDefault("llm.service_url", "http://llm-service:8000")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.retry_backoff", "2s")
	v.SetDefault("llm.call_timeout", "120s")

	v.SetDefault("search.api_key_env", "TAVILY_API_KEY")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.snippet_budget", 400)
	v.SetDefault("search.retry_attempts", 3)
	v.SetDefault("search.retry_backoff", "1s")
	v.SetDefault("search.call_timeout", "30s")
	v.SetDefault("search.rate_per_second", 1.0)

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_ttl_seconds", 3600)

	v.SetDefault("database.dsn", "")

	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "quill-research")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads the config file named by QUILL_CONFIG (or DefaultPath) and
// applies QUILL_* environment overrides. A missing file is not an error;
// defaults plus environment carry a dev setup.
func Load() (*Config, error) {
	path := os.Getenv("QUILL_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if err := c.Routing().Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm: max_tokens must be >= 1, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm: temperature must be in [0,2], got %v", c.LLM.Temperature)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search: max_results must be >= 1, got %d", c.Search.MaxResults)
	}
	if c.LLM.RetryAttempts < 1 || c.Search.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	return nil
}

// Routing maps the workflow section onto the routing policy config.
func (c *Config) Routing() routing.Config {
	return routing.Config{
		MaxLiteratureLoops:  c.Workflow.MaxLiteratureLoops,
		MaxRevisionLoops:    c.Workflow.MaxRevisionLoops,
		MaxGapsPerCycle:     c.Workflow.MaxGapsPerCycle,
		ValidationThreshold: c.Workflow.ValidationThreshold,
	}
}

// SearchAPIKey resolves the search provider key from the environment.
func (c *Config) SearchAPIKey() string {
	if c.Search.APIKeyEnv == "" {
		return os.Getenv("TAVILY_API_KEY")
	}
	return os.Getenv(c.Search.APIKeyEnv)
}
