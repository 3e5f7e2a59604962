package cli

import (
	"fmt"

	"github.com/harun/parley/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up Parley.
The wizard will guide you through the inference provider, API key, default model,
display name and transcript database.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	// Start from the current settings so Enter keeps them
	base, err := loader.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Ignoring current configuration: %v\n", err)
		base = config.DefaultConfig()
	}

	wizard := config.NewWizardWithIO(cmd.InOrStdin(), cmd.OutOrStdout(), base)

	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start chatting with: parley chat")

	return nil
}
