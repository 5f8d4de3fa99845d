package orchestrator

import (
	"github.com/HerbHall/personagen/internal/llm/anthropic"
	"github.com/HerbHall/personagen/internal/llm/fallback"
	"github.com/HerbHall/personagen/internal/llm/ollama"
	"github.com/HerbHall/personagen/internal/llm/openai"
	"github.com/HerbHall/personagen/pkg/llm"
	"go.uber.org/zap"
)

// ProvidersConfig holds the per-backend settings read from the providers.*
// configuration keys.
type ProvidersConfig struct {
	OpenAI    openai.Config    `mapstructure:"openai"`
	Anthropic anthropic.Config `mapstructure:"anthropic"`
	Ollama    ollama.Config    `mapstructure:"ollama"`
}

// DefaultProvidersConfig returns each adapter's defaults with no credentials
// and no Ollama URL, so nothing remote is enabled until configured.
func DefaultProvidersConfig() ProvidersConfig {
	oc := ollama.DefaultConfig()
	oc.URL = ""
	return ProvidersConfig{
		OpenAI:    openai.DefaultConfig(),
		Anthropic: anthropic.DefaultConfig(),
		Ollama:    oc,
	}
}

// BuildProviders constructs every remote adapter whose credentials or
// endpoint are configured, then appends the local fallback. A provider that
// is missing configuration or fails to construct is logged and omitted.
func BuildProviders(cfg ProvidersConfig, logger *zap.Logger) []llm.Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []llm.Provider

	if cfg.OpenAI.APIKey != "" {
		if p, err := openai.New(cfg.OpenAI, logger.Named(openai.Name)); err != nil {
			logger.Warn("openai provider disabled", zap.Error(err))
		} else {
			out = append(out, p)
		}
	} else {
		logger.Info("openai provider not configured")
	}

	if cfg.Anthropic.APIKey != "" {
		if p, err := anthropic.New(cfg.Anthropic, logger.Named(anthropic.Name)); err != nil {
			logger.Warn("anthropic provider disabled", zap.Error(err))
		} else {
			out = append(out, p)
		}
	} else {
		logger.Info("anthropic provider not configured")
	}

	if cfg.Ollama.URL != "" {
		if p, err := ollama.New(cfg.Ollama, logger.Named(ollama.Name)); err != nil {
			logger.Warn("ollama provider disabled", zap.Error(err))
		} else {
			out = append(out, p)
		}
	} else {
		logger.Info("ollama provider not configured")
	}

	return append(out, fallback.New())
}
