package usage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned when a check names a model that is not configured.
	ErrUnknownModel = errors.New("unknown model")

	// ErrEmptyContent is returned when a check has nothing to check.
	ErrEmptyContent = errors.New("content is empty")

	// ErrProviderFailed is returned when the AI provider errors or times out.
	// Nothing is charged.
	ErrProviderFailed = errors.New("ai provider failed")
)

// ProviderError describes a failed upstream call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderFailed
}
