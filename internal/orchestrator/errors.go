package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoHealthyProviders is returned when every registered provider is
	// excluded by its circuit before any attempt is made.
	ErrNoHealthyProviders = errors.New("no healthy providers available")

	// ErrAllProvidersFailed matches an *AllProvidersFailedError via errors.Is.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// AllProvidersFailedError reports that every candidate was attempted and
// none produced a response.
type AllProvidersFailedError struct {
	Attempted []string
	Last      error
}

func (e *AllProvidersFailedError) Error() string {
	msg := fmt.Sprintf("%s (attempted: %s)", ErrAllProvidersFailed, strings.Join(e.Attempted, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the last provider error.
func (e *AllProvidersFailedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllProvidersFailed}
	}
	return []error{ErrAllProvidersFailed, e.Last}
}
