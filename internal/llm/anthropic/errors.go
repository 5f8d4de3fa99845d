package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/personagen/pkg/llm"
)

// anthropicStatusError represents an HTTP error response from the Anthropic API.
type anthropicStatusError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *anthropicStatusError) Error() string {
	return fmt.Sprintf("anthropic: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// mapError translates Anthropic and network errors into typed llm.ProviderError values.
func mapError(name string, err error) error {
	if err == nil {
		return nil
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewProviderError(name, llm.ErrCodeUnavailable, "request timed out or cancelled", err)
	}

	var se *anthropicStatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429 || se.Type == "rate_limit_error":
			return llm.NewProviderError(name, llm.ErrCodeRateLimited, se.Message, err)
		case se.StatusCode == 404 && (se.Type == "not_found_error" || strings.Contains(strings.ToLower(se.Message), "model")):
			return llm.NewProviderError(name, llm.ErrCodeModelNotFound, se.Message, err)
		case se.StatusCode == 401 || se.StatusCode == 403:
			return llm.NewProviderError(name, llm.ErrCodeUnavailable, "authentication rejected: "+se.Message, err)
		case se.StatusCode >= 500:
			// 529 overloaded_error lands here too.
			return llm.NewProviderError(name, llm.ErrCodeUnavailable, se.Message, err)
		case se.StatusCode >= 400:
			return llm.NewProviderError(name, llm.ErrCodeInvalidRequest, se.Message, err)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return llm.NewProviderError(name, llm.ErrCodeUnavailable, "anthropic server unreachable", err)
	}

	return llm.NewProviderError(name, llm.ErrCodeUnavailable, "anthropic error", err)
}
