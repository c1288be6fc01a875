package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the ComfyUI backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := backend.SystemStats(cmd.Context()); err != nil {
			exitWithError("backend %s unreachable: %v", cfg.ComfyAPIURL, err)
		}
		fmt.Printf("Backend %s is reachable.\n", cfg.ComfyAPIURL)
		return nil
	},
}
