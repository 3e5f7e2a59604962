package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the available models",
	Long:  `List the model catalog: display labels, in menu order, with the provider model ids they resolve to.`,
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	width := 0
	for _, label := range a.catalog.Labels() {
		if n := len([]rune(label)); n > width {
			width = n
		}
	}

	for i, m := range a.catalog.Models() {
		marker := ""
		if m.Label == a.cfg.DefaultModel {
			marker = "  (default)"
		}
		pad := width - len([]rune(m.Label))
		fmt.Fprintf(out, "%d. %s%*s  %s%s\n", i+1, m.Label, pad, "", m.ID, marker)
	}
	return nil
}
