package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/inference"
	"github.com/harun/parley/pkg/persistence"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const persistFlushTimeout = 5 * time.Second

var (
	chatModel   string
	chatName    string
	metricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session in the terminal.
Replies stream in as they are generated; press Ctrl-C to stop a reply.
Type /help inside the session for the available commands.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model label to start with (default from config)")
	chatCmd.Flags().StringVar(&chatName, "name", "", "display name for this session (default from config)")
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.inferenceClient()
	if err != nil {
		var cfgErr *inference.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Chat is disabled: %s.\nRun 'parley configure' or set PARLEY_INFERENCE_API_KEY.\n", cfgErr.Reason)
		}
		return fmt.Errorf("failed to create inference client: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	addr := metricsAddr
	if addr == "" && a.cfg.Metrics.Enabled {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		srv, err := startMetricsServer(addr)
		if err != nil {
			return err
		}
		defer srv.Stop()
	}

	store := persistence.TryConnect(ctx, persistenceConfig(a.cfg.Database))
	queue := commandqueue.New()
	writer := persistence.NewWriter(store, queue)
	defer func() {
		if !writer.Flush(persistFlushTimeout) {
			log.Warn().Msg("Pending transcript writes dropped at exit")
		}
		_ = queue.Close()
		_ = store.Close()
	}()

	displayName := a.cfg.Session.DisplayName
	if chatName != "" {
		displayName = chatName
	}
	defaultModel := a.cfg.DefaultModel
	if chatModel != "" {
		defaultModel = chatModel
	}

	orch, err := chat.New(chat.Config{
		Session:      session.New(displayName),
		Client:       client,
		Catalog:      a.catalog,
		DefaultModel: defaultModel,
		Persister:    writer,
		Queue:        queue,
		Temperature:  &a.cfg.Inference.Temperature,
		MaxTokens:    a.cfg.Inference.MaxTokens,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	// Ctrl-C stops the reply in flight, or leaves when there is none.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-sigs:
				if !orch.Abort() {
					cancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().
		Str("session_id", orch.Session().ID()).
		Str("provider", orch.Provider()).
		Str("model", orch.SelectedModel().Label).
		Str("persistence", store.Driver()).
		Msg("Chat session started")

	repl := NewREPL(REPLConfig{
		Orchestrator: orch,
		In:           cmd.InOrStdin(),
		Out:          cmd.OutOrStdout(),
		Persistence:  store.Driver(),
		Renderer:     newRenderer(),
	})
	return repl.Run(ctx)
}
