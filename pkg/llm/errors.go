package llm

import "errors"

// Error code constants for standardized error handling across providers.
// Providers map their native errors to one of these codes. Timeouts and
// transport failures are reported as ErrCodeUnavailable.
const (
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeContentFiltered = "content_filtered"
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeModelNotFound   = "model_not_found"
)

// ProviderError represents a typed error from a generation provider.
// Use the IsXxx helpers below to classify errors without inspecting fields.
type ProviderError struct {
	Code     string // One of the ErrCode* constants.
	Provider string // Name of the provider that produced the error.
	Message  string // Human-readable description.
	Err      error  // Underlying error (may be nil).
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a typed provider error.
func NewProviderError(provider, code, message string, err error) *ProviderError {
	return &ProviderError{Code: code, Provider: provider, Message: message, Err: err}
}

// IsRateLimited reports whether err is a rate-limit error.
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsUnavailable reports whether err means the backend is down, unreachable or timed out.
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsContentFiltered reports whether the backend refused the request on policy grounds.
func IsContentFiltered(err error) bool {
	return hasCode(err, ErrCodeContentFiltered)
}

// IsInvalidRequest reports whether err is an invalid-request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, ErrCodeInvalidRequest)
}

// IsModelNotFound reports whether err is a model-not-found error.
func IsModelNotFound(err error) bool {
	return hasCode(err, ErrCodeModelNotFound)
}

// IsRetryable reports whether the error is transient and the call may succeed later.
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsUnavailable(err)
}

// KindOf returns the error code of err, or ErrCodeUnavailable when err is
// not a *ProviderError. Returns "" for a nil error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnavailable
}

func hasCode(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
