package runner

import (
	"context"

	"github.com/renderfleet/comfyrelay/internal/workflow"
)

// modelFields maps resource-consuming node kinds to the input field holding
// the model name and the inventory category to check it against. Nodes whose
// class is not listed here are never flagged.
var modelFields = map[string]struct {
	field    string
	category string
}{
	"CheckpointLoaderSimple": {"ckpt_name", "checkpoints"},
	"CheckpointLoader":       {"ckpt_name", "checkpoints"},
	"VAELoader":              {"vae_name", "vae"},
	"LoraLoader":             {"lora_name", "loras"},
	"LoraLoaderModelOnly":    {"lora_name", "loras"},
	"ControlNetLoader":       {"control_net_name", "controlnet"},
}

// MissingModel is one confirmed-missing model reference.
type MissingModel struct {
	NodeID    string   `json:"node_id"`
	ClassType string   `json:"class_type"`
	ModelType string   `json:"model_type"`
	ModelName string   `json:"model_name"`
	Available []string `json:"available_models"`
}

// ValidationReport is the result of cross-referencing workflow model
// references against the backend inventory. Unverifiable distinguishes "the
// inventory could not be fetched" from "the model is confirmed missing".
type ValidationReport struct {
	Valid        bool                `json:"valid"`
	Unverifiable bool                `json:"unverifiable,omitempty"`
	Missing      []MissingModel      `json:"missing_models"`
	Available    map[string][]string `json:"available_models"`
}

// ValidateModels checks every model referenced by the workflow against the
// backend's current inventory. The inventory is fetched fresh on every call.
// It always returns a report; an inventory fetch failure yields an
// unverifiable report with nothing marked missing rather than an error.
func (r *Runner) ValidateModels(ctx context.Context, wf workflow.Workflow) *ValidationReport {
	available, err := r.client.AvailableModels(ctx)
	if err != nil {
		r.logger.Warn("failed to fetch available models", "error", err)
		return &ValidationReport{
			Valid:        true,
			Unverifiable: true,
			Missing:      []MissingModel{},
			Available:    map[string][]string{},
		}
	}

	report := &ValidationReport{
		Valid:     true,
		Missing:   []MissingModel{},
		Available: available,
	}

	for nodeID, node := range wf {
		loader, ok := modelFields[node.ClassType]
		if !ok {
			continue
		}

		name, _ := node.Inputs[loader.field].(string)
		if name == "" {
			continue
		}

		inventory, ok := available[loader.category]
		if !ok {
			// Category absent from the fetched inventory: unverifiable for
			// this reference, not a confirmed miss.
			continue
		}

		found := false
		for _, candidate := range inventory {
			if candidate == name {
				found = true
				break
			}
		}
		if !found {
			report.Missing = append(report.Missing, MissingModel{
				NodeID:    nodeID,
				ClassType: node.ClassType,
				ModelType: loader.category,
				ModelName: name,
				Available: inventory,
			})
		}
	}

	report.Valid = len(report.Missing) == 0
	return report
}
