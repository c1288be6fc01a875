package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var modelsCategory string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the backend",
	Long: `List the model inventory the backend advertises, grouped by category
(checkpoints, vae, loras, controlnet).

Examples:
  comfyrelay models
  comfyrelay models --category checkpoints`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsCategory, "category", "c", "", "only show one category")
}

func runModels(cmd *cobra.Command, args []string) error {
	models, err := backend.AvailableModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch model inventory: %w", err)
	}

	categories := slices.Sorted(maps.Keys(models))
	for _, category := range categories {
		if modelsCategory != "" && category != modelsCategory {
			continue
		}
		fmt.Printf("%s (%d):\n", category, len(models[category]))
		for _, name := range models[category] {
			fmt.Printf("  %s\n", name)
		}
	}

	if modelsCategory != "" {
		if _, ok := models[modelsCategory]; !ok {
			return fmt.Errorf("backend advertises no %q category", modelsCategory)
		}
	}
	return nil
}
