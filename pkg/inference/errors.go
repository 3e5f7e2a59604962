package inference

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ConfigurationError reports a client that cannot be constructed.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("inference %s: %s", e.Provider, e.Reason)
}

// TransportError wraps a network or provider API failure.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("inference %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// wrapTransport converts an SDK error into a *TransportError, extracting the
// HTTP status when the SDK reports one.
func wrapTransport(provider string, err error) error {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	out := &TransportError{Provider: provider, Err: err}

	var oaErr *openai.Error
	var anErr *anthropic.Error
	switch {
	case errors.As(err, &oaErr):
		out.StatusCode = oaErr.StatusCode
	case errors.As(err, &anErr):
		out.StatusCode = anErr.StatusCode
	}
	return out
}
