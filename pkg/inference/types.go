package inference

import (
	"context"
	"fmt"
)

// Request defaults used by the chat front-end.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Role of a message sent to the provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request contains the parameters of one streaming completion
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// NewRequest builds a single-turn request carrying only the given prompt.
func NewRequest(model, prompt string) Request {
	return Request{
		Model:       model,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Validate checks that a request can be sent.
func (r Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", r.MaxTokens)
	}
	return nil
}

// Stream is a lazy, finite sequence of text fragments.
type Stream interface {
	// Next advances to the next fragment. It returns false at the end of
	// the stream or on error.
	Next() bool

	// Fragment returns the current fragment. Never empty after a true Next.
	Fragment() string

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// Client is an interface for streaming LLM providers
type Client interface {
	// StreamComplete starts a completion and returns its fragment stream
	StreamComplete(ctx context.Context, request Request) (Stream, error)

	// Provider returns the provider name
	Provider() string
}
