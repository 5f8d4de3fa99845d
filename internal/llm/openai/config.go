package openai

import "time"

// Config holds the OpenAI provider configuration.
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

// DefaultConfig returns sensible defaults for OpenAI.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.openai.com",
		Model:              "gpt-4o-mini",
		Timeout:            30 * time.Second,
		Priority:           1,
		RequestsPerMinute:  500,
		MaxTokens:          4096,
		CostPerInputToken:  0.15 / 1_000_000,
		CostPerOutputToken: 0.60 / 1_000_000,
	}
}
