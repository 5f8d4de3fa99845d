package anthropic

import "time"

// Config holds the Anthropic provider configuration.
type Config struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Priority           int           `mapstructure:"priority"`
	RequestsPerMinute  int           `mapstructure:"requests_per_minute"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	CostPerInputToken  float64       `mapstructure:"cost_per_input_token"`
	CostPerOutputToken float64       `mapstructure:"cost_per_output_token"`
}

// DefaultConfig returns sensible defaults for Anthropic.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.anthropic.com",
		Model:              "claude-sonnet-4-5-20250929",
		Timeout:            30 * time.Second,
		Priority:           2,
		RequestsPerMinute:  50,
		MaxTokens:          8192,
		CostPerInputToken:  3.0 / 1_000_000,
		CostPerOutputToken: 15.0 / 1_000_000,
	}
}
