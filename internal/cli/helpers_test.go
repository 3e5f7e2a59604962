package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/parley/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// writeConfig saves cfg into a temp dir and returns its path. Provider
// environment overrides are cleared for the duration of the test.
func writeConfig(t *testing.T, mutate func(cfg *config.Config)) string {
	t.Helper()
	for _, env := range []string{"GROQ_API_KEY", "PARLEY_INFERENCE_API_KEY", "PARLEY_INFERENCE_PROVIDER", "PARLEY_INFERENCE_BASE_URL", "PARLEY_DATABASE_DRIVER", "PARLEY_DEFAULT_MODEL"} {
		t.Setenv(env, "")
	}

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Database.Driver = "none"
	if mutate != nil {
		mutate(cfg)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, "parley.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile, logLevel = "", ""
		chatModel, chatName, metricsAddr = "", "", ""
	})

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetFlags clears boolean flags left set by an earlier Execute on the shared command tree.
func resetFlags(c *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := c.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
