package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/rs/zerolog/log"
)

// metricsServer exposes the prometheus registry while a chat session runs
type metricsServer struct {
	server   *http.Server
	listener net.Listener
}

func startMetricsServer(addr string) (*metricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	m := &metricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return m, nil
}

// Addr returns the bound address
func (m *metricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight scrapes
func (m *metricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
}
