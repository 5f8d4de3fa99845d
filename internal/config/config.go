// Package config loads personagen settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/personagen/internal/orchestrator"
	"github.com/HerbHall/personagen/internal/webhook"
	"github.com/spf13/viper"
)

// Config is the decoded application configuration.
type Config struct {
	Server       ServerConfig                 `mapstructure:"server"`
	Logging      LoggingConfig                `mapstructure:"logging"`
	Database     DatabaseConfig               `mapstructure:"database"`
	Orchestrator orchestrator.Config          `mapstructure:"orchestrator"`
	Providers    orchestrator.ProvidersConfig `mapstructure:"providers"`
	Webhook      webhook.Config               `mapstructure:"webhook"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client IP
	RateBurst       int           `mapstructure:"rate_burst"`
	StreamOrigins   []string      `mapstructure:"stream_origins"` // extra origins allowed on the event stream
}

// Addr returns the listen address as host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the attempt ledger.
type DatabaseConfig struct {
	Path      string        `mapstructure:"path"` // empty disables the ledger
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads configuration from configPath, or from personagen.yaml in the
// usual locations when configPath is empty. A missing file is not an error.
// Environment variables override file values: PG_SERVER_PORT=9090.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("personagen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/personagen")
	}

	v.SetEnvPrefix("PG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.stream_origins", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/personagen.db")
	v.SetDefault("database.retention", "720h")

	orc := orchestrator.DefaultConfig()
	v.SetDefault("orchestrator.call_timeout", orc.CallTimeout)
	v.SetDefault("orchestrator.provider_timeouts", map[string]string{})
	v.SetDefault("orchestrator.cache.enabled", orc.Cache.Enabled)
	v.SetDefault("orchestrator.cache.ttl", orc.Cache.TTL)
	v.SetDefault("orchestrator.cache.max_entries", orc.Cache.MaxEntries)
	v.SetDefault("orchestrator.breaker.failure_threshold", orc.Breaker.FailureThreshold)
	v.SetDefault("orchestrator.breaker.recovery_timeout", orc.Breaker.RecoveryTimeout)
	v.SetDefault("orchestrator.breaker.half_open_max_calls", orc.Breaker.HalfOpenMaxCalls)
	v.SetDefault("orchestrator.health.interval", orc.Health.Interval)
	v.SetDefault("orchestrator.health.probe_timeout", orc.Health.ProbeTimeout)

	p := orchestrator.DefaultProvidersConfig()
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", p.OpenAI.BaseURL)
	v.SetDefault("providers.openai.model", p.OpenAI.Model)
	v.SetDefault("providers.openai.timeout", p.OpenAI.Timeout)
	v.SetDefault("providers.openai.priority", p.OpenAI.Priority)
	v.SetDefault("providers.openai.requests_per_minute", p.OpenAI.RequestsPerMinute)
	v.SetDefault("providers.openai.max_tokens", p.OpenAI.MaxTokens)
	v.SetDefault("providers.openai.cost_per_input_token", p.OpenAI.CostPerInputToken)
	v.SetDefault("providers.openai.cost_per_output_token", p.OpenAI.CostPerOutputToken)

	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", p.Anthropic.BaseURL)
	v.SetDefault("providers.anthropic.model", p.Anthropic.Model)
	v.SetDefault("providers.anthropic.timeout", p.Anthropic.Timeout)
	v.SetDefault("providers.anthropic.priority", p.Anthropic.Priority)
	v.SetDefault("providers.anthropic.requests_per_minute", p.Anthropic.RequestsPerMinute)
	v.SetDefault("providers.anthropic.max_tokens", p.Anthropic.MaxTokens)
	v.SetDefault("providers.anthropic.cost_per_input_token", p.Anthropic.CostPerInputToken)
	v.SetDefault("providers.anthropic.cost_per_output_token", p.Anthropic.CostPerOutputToken)

	v.SetDefault("providers.ollama.url", p.Ollama.URL)
	v.SetDefault("providers.ollama.model", p.Ollama.Model)
	v.SetDefault("providers.ollama.timeout", p.Ollama.Timeout)
	v.SetDefault("providers.ollama.priority", p.Ollama.Priority)
	v.SetDefault("providers.ollama.requests_per_minute", p.Ollama.RequestsPerMinute)
	v.SetDefault("providers.ollama.max_tokens", p.Ollama.MaxTokens)

	wh := webhook.DefaultConfig()
	v.SetDefault("webhook.url", wh.URL)
	v.SetDefault("webhook.timeout", wh.Timeout)
	v.SetDefault("webhook.queue_size", wh.QueueSize)
}
