package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/pkg/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferenceConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Inference.APIKey = "gsk_test"
	cfg.Inference.BaseURL = "http://127.0.0.1:1/v1"
	cfg.Inference.RequestTimeoutMs = 1500

	got := inferenceConfig(cfg)
	assert.Equal(t, inference.Config{
		Provider:       "groq",
		APIKey:         "gsk_test",
		BaseURL:        "http://127.0.0.1:1/v1",
		RequestTimeout: 1500 * time.Millisecond,
	}, got)

	cfg.Inference.RequestTimeoutMs = 0
	assert.Zero(t, inferenceConfig(cfg).RequestTimeout)
}

func TestAppInferenceClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Inference.APIKey = "gsk_test"
	a := &app{cfg: cfg, clients: inference.NewCache()}

	first, err := a.inferenceClient()
	require.NoError(t, err)
	second, err := a.inferenceClient()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, a.clients.Len())

	cfg.Inference.APIKey = ""
	_, err = a.inferenceClient()
	var cfgErr *inference.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
