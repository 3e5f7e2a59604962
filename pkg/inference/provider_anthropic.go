package inference

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AnthropicProvider implements Client for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string, extra ...option.RequestOption) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// StreamComplete starts a streaming message completion
func (p *AnthropicProvider) StreamComplete(ctx context.Context, request Request) (Stream, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"inference.stream",
		attribute.String("provider", "anthropic"),
		attribute.String("model", request.Model),
	)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("provider", "anthropic").
		Str("model", request.Model).
		Logger()

	messages := make([]anthropic.MessageParam, 0, len(request.Messages))
	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(request.Model),
		Messages:    messages,
		MaxTokens:   int64(request.MaxTokens),
		Temperature: anthropic.Float(request.Temperature),
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		wrapped := wrapTransport("anthropic", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		span.End()
		observability.RecordInferenceError("anthropic")
		logger.Warn().Err(wrapped).Msg("Inference request failed")
		return nil, wrapped
	}

	logger.Debug().Int("messages", len(messages)).Msg("Inference stream opened")

	return newFragmentStream(stream, "anthropic", func(event anthropic.MessageStreamEventUnion) string {
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			return ""
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
			return delta.Text
		}
		return ""
	}, span, logger), nil
}
