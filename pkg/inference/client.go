package inference

import (
	"net/http"
	"strings"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/parley/internal/observability"
	openaioption "github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const tracerName = "parley.inference"

// Supported providers
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and authenticates a provider
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string

	// RequestTimeout bounds a whole completion, including streaming. Zero means no limit.
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

func (c Config) provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderGroq
	}
	return p
}

// New creates a streaming client for the configured provider
func New(cfg Config) (Client, error) {
	observability.EnsureRegistered()

	provider := cfg.provider()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Provider: provider, Reason: "API key is not configured"}
	}

	var client Client
	switch provider {
	case ProviderGroq, ProviderOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" && provider == ProviderGroq {
			baseURL = GroqBaseURL
		}
		var extra []openaioption.RequestOption
		if cfg.HTTPClient != nil {
			extra = append(extra, openaioption.WithHTTPClient(cfg.HTTPClient))
		}
		if cfg.RequestTimeout > 0 {
			extra = append(extra, openaioption.WithRequestTimeout(cfg.RequestTimeout))
		}
		client = NewOpenAIProvider(provider, cfg.APIKey, baseURL, extra...)
	case ProviderAnthropic:
		var extra []anthropicoption.RequestOption
		if cfg.HTTPClient != nil {
			extra = append(extra, anthropicoption.WithHTTPClient(cfg.HTTPClient))
		}
		if cfg.RequestTimeout > 0 {
			extra = append(extra, anthropicoption.WithRequestTimeout(cfg.RequestTimeout))
		}
		client = NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, extra...)
	default:
		return nil, &ConfigurationError{Provider: provider, Reason: "unsupported provider"}
	}

	observability.RecordClientConstructed(provider)
	log.Debug().Str("provider", provider).Msg("Inference client constructed")

	return client, nil
}
