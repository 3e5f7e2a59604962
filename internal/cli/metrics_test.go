package cli

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	srv, err := startMetricsServer("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Stop()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, body, path)
	}
}

func TestMetricsServerBadAddress(t *testing.T) {
	_, err := startMetricsServer("256.0.0.1:bad")
	assert.Error(t, err)
}
