package inference

import (
	"context"
	"fmt"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider implements Client for OpenAI-compatible chat completion APIs
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates a provider for the OpenAI API or any API that
// speaks its protocol, such as Groq.
func NewOpenAIProvider(name, apiKey, baseURL string, extra ...option.RequestOption) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return p.name
}

// StreamComplete starts a streaming chat completion
func (p *OpenAIProvider) StreamComplete(ctx context.Context, request Request) (Stream, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"inference.stream",
		attribute.String("provider", p.name),
		attribute.String("model", request.Model),
	)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("provider", p.name).
		Str("model", request.Model).
		Logger()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages))
	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(request.Model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(request.MaxTokens)),
		Temperature: openai.Float(request.Temperature),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	// The HTTP round trip happens inside NewStreaming; a failed request
	// leaves the error on the stream before any event is read.
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		wrapped := wrapTransport(p.name, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		span.End()
		observability.RecordInferenceError(p.name)
		logger.Warn().Err(wrapped).Msg("Inference request failed")
		return nil, wrapped
	}

	logger.Debug().Int("messages", len(messages)).Msg("Inference stream opened")

	return newFragmentStream(stream, p.name, func(chunk openai.ChatCompletionChunk) string {
		if len(chunk.Choices) == 0 {
			return ""
		}
		return chunk.Choices[0].Delta.Content
	}, span, logger), nil
}
