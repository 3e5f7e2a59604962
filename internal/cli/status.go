package cli

import (
	"fmt"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/pkg/persistence"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and connectivity status",
	Long: `Show which provider and model Parley will use, whether an API key is
configured, and whether the transcript database is reachable.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	cfg := a.cfg

	fmt.Fprintf(out, "Config: %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Provider: %s\n", cfg.Inference.Provider)
	if cfg.Inference.APIKey == "" {
		fmt.Fprintf(out, "API key: missing (chat disabled)\n")
	} else {
		fmt.Fprintf(out, "API key: configured\n")
	}
	fmt.Fprintf(out, "Default model: %s\n", cfg.DefaultModel)

	dbCfg := persistenceConfig(cfg.Database)
	if !dbCfg.Enabled() {
		fmt.Fprintf(out, "Database: disabled\n")
		return nil
	}

	start := time.Now()
	store := persistence.TryConnect(cmd.Context(), dbCfg)
	if store == nil {
		fmt.Fprintf(out, "Database: %s unreachable (messages will not be saved)\n", cfg.Database.Driver)
		return nil
	}
	defer store.Close()
	fmt.Fprintf(out, "Database: %s connected in %s\n", store.Driver(), formatDuration(time.Since(start)))

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

