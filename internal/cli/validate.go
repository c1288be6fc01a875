package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.json>",
	Short: "Check workflow model references against the backend inventory",
	Long: `Validate every model referenced by the workflow (checkpoints, VAEs,
LoRAs, ControlNets) against what the backend currently advertises, without
submitting anything.

Examples:
  comfyrelay validate workflow.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateCmd,
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	r, err := newRunner(ctx)
	if err != nil {
		return err
	}

	report := r.ValidateModels(ctx, wf)

	switch {
	case report.Unverifiable:
		fmt.Println("Model inventory could not be fetched; nothing verified.")
	case report.Valid:
		fmt.Println("All model references are available on the backend.")
	default:
		fmt.Printf("Missing models (%d):\n", len(report.Missing))
		for _, m := range report.Missing {
			fmt.Printf("  node %s (%s): %s not found in %s\n", m.NodeID, m.ClassType, m.ModelName, m.ModelType)
			if verbose && len(m.Available) > 0 {
				fmt.Printf("    available: %v\n", m.Available)
			}
		}
		exitWithError("workflow references %d missing model(s)", len(report.Missing))
	}
	return nil
}
