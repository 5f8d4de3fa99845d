package ollama

import (
	"context"
	"errors"
	"strings"

	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/ollama/ollama/api"
)

// mapError translates Ollama and network errors into typed llm.ProviderError values.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewProviderError(Name, llm.ErrCodeUnavailable, "request timed out or cancelled", err)
	}

	var se api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return llm.NewProviderError(Name, llm.ErrCodeRateLimited, se.ErrorMessage, err)
		case se.StatusCode == 404 && strings.Contains(strings.ToLower(se.ErrorMessage), "model"):
			return llm.NewProviderError(Name, llm.ErrCodeModelNotFound, se.ErrorMessage, err)
		case se.StatusCode == 401 || se.StatusCode == 403:
			return llm.NewProviderError(Name, llm.ErrCodeUnavailable, "authentication rejected: "+se.ErrorMessage, err)
		case se.StatusCode >= 500:
			return llm.NewProviderError(Name, llm.ErrCodeUnavailable, se.ErrorMessage, err)
		case se.StatusCode >= 400:
			return llm.NewProviderError(Name, llm.ErrCodeInvalidRequest, se.ErrorMessage, err)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return llm.NewProviderError(Name, llm.ErrCodeUnavailable, "ollama server unreachable", err)
	}

	return llm.NewProviderError(Name, llm.ErrCodeUnavailable, "ollama error", err)
}
