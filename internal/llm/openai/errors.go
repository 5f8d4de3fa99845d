package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/personagen/pkg/llm"
)

// openaiStatusError represents an HTTP error response from the OpenAI API.
type openaiStatusError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *openaiStatusError) Error() string {
	return fmt.Sprintf("openai: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// mapError translates OpenAI and network errors into typed llm.ProviderError values.
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

	var se *openaiStatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return llm.NewProviderError(name, llm.ErrCodeRateLimited, se.Message, err)
		case se.Code == "content_policy_violation" || se.Code == "content_filter":
			return llm.NewProviderError(name, llm.ErrCodeContentFiltered, se.Message, err)
		case se.StatusCode == 404 && strings.Contains(strings.ToLower(se.Message), "model"),
			se.Code == "model_not_found":
			return llm.NewProviderError(name, llm.ErrCodeModelNotFound, se.Message, err)
		case se.StatusCode == 401 || se.StatusCode == 403:
			return llm.NewProviderError(name, llm.ErrCodeUnavailable, "authentication rejected: "+se.Message, err)
		case se.StatusCode >= 500:
			return llm.NewProviderError(name, llm.ErrCodeUnavailable, se.Message, err)
		case se.StatusCode >= 400:
			return llm.NewProviderError(name, llm.ErrCodeInvalidRequest, se.Message, err)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return llm.NewProviderError(name, llm.ErrCodeUnavailable, "openai server unreachable", err)
	}

	return llm.NewProviderError(name, llm.ErrCodeUnavailable, "openai error", err)
}
