package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/renderfleet/comfyrelay/internal/runner"
	"github.com/renderfleet/comfyrelay/internal/workflow"
)

var (
	runSets         []string
	runOverrideFile string
	runImages       []string
	runTimeout      int
	runNoWebsocket  bool
	runValidate     bool
	runNoImages     bool
	runOutput       string
	runWatch        bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.json>",
	Short: "Submit a workflow and wait for completion",
	Long: `Submit a workflow to the ComfyUI backend and wait for it to finish.

The workflow file is API-format JSON as exported by ComfyUI. Values can be
overridden per run with --set, or with a JSON overrides file. Input images
are uploaded to the backend before submission.

Examples:
  comfyrelay run workflow.json
  comfyrelay run workflow.json --set "3.inputs.seed=42" --set "6.inputs.text=a red fox"
  comfyrelay run workflow.json --image source=./input.png --watch
  comfyrelay run workflow.json --validate --timeout 1200 --output result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runSets, "set", nil, "override in format node.field.path=value (repeatable)")
	runCmd.Flags().StringVar(&runOverrideFile, "overrides", "", "path to JSON file with an overrides array")
	runCmd.Flags().StringArrayVar(&runImages, "image", nil, "input image in format name=path (repeatable)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "job timeout in seconds (0 uses the configured default)")
	runCmd.Flags().BoolVar(&runNoWebsocket, "no-websocket", false, "skip push monitoring, poll only")
	runCmd.Flags().BoolVar(&runValidate, "validate", false, "validate model references before submitting")
	runCmd.Flags().BoolVar(&runNoImages, "no-images", false, "do not collect output images")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the full response JSON to a file")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "show live progress (requires a terminal)")
}

func runRun(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}

	req := runner.Request{
		Workflow:       wf,
		TimeoutSecs:    runTimeout,
		ValidateModels: runValidate,
	}

	if req.Overrides, err = collectOverrides(); err != nil {
		return err
	}
	if req.Images, err = collectImages(); err != nil {
		return err
	}
	if runNoWebsocket {
		usePush := false
		req.UseWebsocket = &usePush
	}
	if runNoImages {
		returnImages := false
		req.ReturnImages = &returnImages
	}

	ctx := cmd.Context()
	r, err := newRunner(ctx)
	if err != nil {
		return err
	}

	var resp runner.Response
	if runWatch && term.IsTerminal(int(os.Stdout.Fd())) && !runNoWebsocket {
		resp, err = runWithProgress(ctx, r, req)
		if err != nil {
			return err
		}
	} else {
		resp = r.Run(ctx, req)
	}

	if runOutput != "" {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if err := os.WriteFile(runOutput, data, 0o644); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	printResponse(resp)
	if resp.Status != runner.StatusSuccess {
		exitWithError("job ended with status %s: %s", resp.Status, resp.Error)
	}
	return nil
}

// loadWorkflow reads and parses an API-format workflow file.
func loadWorkflow(path string) (workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return wf, nil
}

// collectOverrides merges the overrides file with --set flags; --set wins by
// applying later.
func collectOverrides() ([]workflow.Override, error) {
	var overrides []workflow.Override

	if runOverrideFile != "" {
		data, err := os.ReadFile(runOverrideFile)
		if err != nil {
			return nil, fmt.Errorf("read overrides: %w", err)
		}
		if err := json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse overrides: %w", err)
		}
	}

	for _, set := range runSets {
		o, err := parseSetFlag(set)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, nil
}

// parseSetFlag parses "node.field.path=value" into an override. The value is
// decoded as JSON when possible, so numbers and booleans keep their type;
// anything else is a string.
func parseSetFlag(set string) (workflow.Override, error) {
	path, rawValue, ok := strings.Cut(set, "=")
	if !ok {
		return workflow.Override{}, fmt.Errorf("invalid --set %q (expected node.field=value)", set)
	}
	nodeID, field, ok := strings.Cut(path, ".")
	if !ok {
		return workflow.Override{}, fmt.Errorf("invalid --set path %q (expected node.field)", path)
	}

	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		value = rawValue
	}
	return workflow.Override{NodeID: nodeID, Field: field, Value: value}, nil
}

// collectImages reads --image flags into inline-encoded input images.
func collectImages() ([]runner.InputImage, error) {
	var images []runner.InputImage
	for _, img := range runImages {
		name, path, ok := strings.Cut(img, "=")
		if !ok {
			name, path = filepath.Base(img), img
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", path, err)
		}
		images = append(images, runner.InputImage{
			Name: name,
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}
	return images, nil
}

func printResponse(resp runner.Response) {
	if resp.Status != runner.StatusSuccess {
		if resp.Validation != nil && !resp.Validation.Valid {
			fmt.Println("Missing models:")
			for _, m := range resp.Validation.Missing {
				fmt.Printf("  node %s (%s): %s not in %s\n", m.NodeID, m.ClassType, m.ModelName, m.ModelType)
			}
		}
		return
	}

	fmt.Printf("Completed prompt %s in %.2fs\n", resp.PromptID, resp.ExecutionTime)
	for _, img := range resp.Images {
		fmt.Printf("  %s\n", img.URL)
	}
	if len(resp.Errors) > 0 {
		fmt.Printf("Warnings (%d):\n", len(resp.Errors))
		for _, e := range resp.Errors {
			fmt.Printf("  • %s\n", e)
		}
	}
	if verbose {
		fmt.Printf("  Images: %d\n", resp.ImageCount)
		fmt.Printf("  S3 rehosting: %t\n", resp.S3Enabled)
	}
}
