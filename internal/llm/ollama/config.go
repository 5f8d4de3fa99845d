package ollama

import "time"

// Config holds the Ollama provider configuration.
type Config struct {
	URL               string        `mapstructure:"url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Priority          int           `mapstructure:"priority"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxTokens         int           `mapstructure:"max_tokens"`
}

// DefaultConfig returns sensible defaults for a self-hosted Ollama.
func DefaultConfig() Config {
	return Config{
		URL:       "http://localhost:11434",
		Model:     "qwen2.5:7b",
		Timeout:   60 * time.Second,
		Priority:  3,
		MaxTokens: 4096,
	}
}
