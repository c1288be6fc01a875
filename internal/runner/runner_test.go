package runner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderfleet/comfyrelay/internal/export"
	"github.com/renderfleet/comfyrelay/internal/metrics"
	"github.com/renderfleet/comfyrelay/internal/workflow"
)

// promptCapture records /prompt submissions made by the runner.
type promptCapture struct {
	mu     sync.Mutex
	calls  int
	bodies []map[string]any
}

func (p *promptCapture) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	p.bodies = append(p.bodies, body)
}

func (p *promptCapture) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *promptCapture) last() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bodies) == 0 {
		return nil
	}
	return p.bodies[len(p.bodies)-1]
}

// runnerFixture wires a runner against a fake backend that accepts
// submissions and reports the job completed.
func runnerFixture(t *testing.T, history http.HandlerFunc) (*Runner, *fakeComfy, *promptCapture) {
	t.Helper()
	f := newFakeComfy(t, history, nil)
	capture := &promptCapture{}

	f.extra("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.extra("/prompt", func(w http.ResponseWriter, r *http.Request) {
		capture.record(r)
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-1"})
	})

	client := f.client(t)
	r := New(client, export.New(client, nil, testLogger()), testConfig(), testLogger(), metrics.NewCollector())
	return r, f, capture
}

func minimalWorkflow() workflow.Workflow {
	return workflow.Workflow{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"seed": 42, "steps": 20}},
	}
}

func TestRunSuccess(t *testing.T) {
	r, _, capture := runnerFixture(t, historyRecord("p-1", true))

	usePush := false
	resp := r.Run(context.Background(), Request{
		Workflow:     minimalWorkflow(),
		UseWebsocket: &usePush,
	})

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "p-1", resp.PromptID)
	assert.Equal(t, "/models", resp.ModelsPath)
	assert.False(t, resp.S3Enabled)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, 1, capture.count())

	require.Len(t, resp.Images, 1)
	assert.Equal(t, 1, resp.ImageCount)
	assert.Equal(t, export.OriginBackend, resp.Images[0].Type)
	assert.Contains(t, resp.Images[0].URL, "/view?")
	assert.Equal(t, "out.png", resp.Images[0].Filename)
	assert.GreaterOrEqual(t, resp.ExecutionTime, 0.0)
}

func TestRunMissingWorkflow(t *testing.T) {
	r, _, capture := runnerFixture(t, historyRecord("p-1", true))

	resp := r.Run(context.Background(), Request{})

	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "missing required field: workflow")
	assert.Zero(t, capture.count())
}

func TestRunRejectsMalformedOverride(t *testing.T) {
	r, _, capture := runnerFixture(t, historyRecord("p-1", true))

	resp := r.Run(context.Background(), Request{
		Workflow:  minimalWorkflow(),
		Overrides: []workflow.Override{{NodeID: "3", Field: "", Value: 1}},
	})

	assert.Equal(t, StatusError, resp.Status)
	assert.Zero(t, capture.count())
}

func TestRunAppliesOverridesBeforeSubmission(t *testing.T) {
	r, _, capture := runnerFixture(t, historyRecord("p-1", true))

	usePush := false
	resp := r.Run(context.Background(), Request{
		Workflow:     minimalWorkflow(),
		Overrides:    []workflow.Override{{NodeID: "3", Field: "inputs.seed", Value: float64(7)}},
		UseWebsocket: &usePush,
	})

	require.Equal(t, StatusSuccess, resp.Status)
	submitted := capture.last()
	require.NotNil(t, submitted)

	prompt := submitted["prompt"].(map[string]any)
	node := prompt["3"].(map[string]any)
	inputs := node["inputs"].(map[string]any)
	assert.Equal(t, float64(7), inputs["seed"])
}

func TestRunUnknownOverrideNodeIsNonFatal(t *testing.T) {
	r, _, _ := runnerFixture(t, historyRecord("p-1", true))

	usePush := false
	resp := r.Run(context.Background(), Request{
		Workflow:     minimalWorkflow(),
		Overrides:    []workflow.Override{{NodeID: "99", Field: "inputs.seed", Value: 7}},
		UseWebsocket: &usePush,
	})

	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "99")
}

func TestRunValidationBlocksSubmission(t *testing.T) {
	r, f, capture := runnerFixture(t, historyRecord("p-1", true))
	f.extra("/object_info", objectInfoHandler(map[string][]string{
		"checkpoints": {"other.safetensors"},
	}))

	wf := minimalWorkflow()
	wf["1"] = workflow.Node{
		ClassType: "CheckpointLoaderSimple",
		Inputs:    map[string]any{"ckpt_name": "absent.safetensors"},
	}

	resp := r.Run(context.Background(), Request{Workflow: wf, ValidateModels: true})

	assert.Equal(t, StatusValidationError, resp.Status)
	require.NotNil(t, resp.Validation)
	assert.False(t, resp.Validation.Valid)
	require.Len(t, resp.Validation.Missing, 1)
	assert.Equal(t, "absent.safetensors", resp.Validation.Missing[0].ModelName)
	assert.Zero(t, capture.count(), "a failed validation must prevent submission")
}

func TestRunUnverifiableValidationProceeds(t *testing.T) {
	r, f, capture := runnerFixture(t, historyRecord("p-1", true))
	f.extra("/object_info", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "borked", http.StatusInternalServerError)
	})

	usePush := false
	resp := r.Run(context.Background(), Request{
		Workflow:       minimalWorkflow(),
		ValidateModels: true,
		UseWebsocket:   &usePush,
	})

	assert.Equal(t, StatusSuccess, resp.Status)
	require.NotNil(t, resp.Validation)
	assert.True(t, resp.Validation.Unverifiable)
	assert.Equal(t, 1, capture.count())
}

func TestRunUnreachableBackend(t *testing.T) {
	f := newFakeComfy(t, historyRecord("p-1", true), nil)
	f.extra("/system_stats", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
	})
	client := f.client(t)
	r := New(client, export.New(client, nil, testLogger()), testConfig(), testLogger(), nil)

	resp := r.Run(context.Background(), Request{Workflow: minimalWorkflow()})

	assert.Equal(t, StatusUnreachable, resp.Status)
	assert.Empty(t, resp.PromptID)
}

func TestRunSubmissionRejected(t *testing.T) {
	f := newFakeComfy(t, historyRecord("p-1", true), nil)
	f.extra("/system_stats", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.extra("/prompt", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid prompt", http.StatusBadRequest)
	})
	client := f.client(t)
	r := New(client, export.New(client, nil, testLogger()), testConfig(), testLogger(), nil)

	resp := r.Run(context.Background(), Request{Workflow: minimalWorkflow()})

	assert.Equal(t, StatusSubmissionError, resp.Status)
	assert.Contains(t, resp.Error, "400")
}

func TestRunTimesOut(t *testing.T) {
	r, _, _ := runnerFixture(t, historyRecord("p-1", false))

	usePush := false
	start := time.Now()
	resp := r.Run(context.Background(), Request{
		Workflow:     minimalWorkflow(),
		TimeoutSecs:  1,
		UseWebsocket: &usePush,
	})

	assert.Equal(t, StatusTimeout, resp.Status)
	assert.Equal(t, "p-1", resp.PromptID, "a timed out response still identifies the job")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunNonFatalIngestErrors(t *testing.T) {
	r, f, _ := runnerFixture(t, historyRecord("p-1", true))
	f.extra("/upload/image", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	usePush := false
	resp := r.Run(context.Background(), Request{
		Workflow: minimalWorkflow(),
		Images: []InputImage{
			{Name: "ok.png", Data: base64.StdEncoding.EncodeToString([]byte("img"))},
			{Name: "bad.png", Data: "%%%"},
		},
		UseWebsocket: &usePush,
	})

	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "base64 decode error")
}

func TestRunReturnImagesDisabled(t *testing.T) {
	r, _, _ := runnerFixture(t, historyRecord("p-1", true))

	usePush, returnImages := false, false
	resp := r.Run(context.Background(), Request{
		Workflow:     minimalWorkflow(),
		UseWebsocket: &usePush,
		ReturnImages: &returnImages,
	})

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Empty(t, resp.Images)
	assert.Zero(t, resp.ImageCount)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, StatusSuccess},
		{"timeout", &MonitorTimeoutError{PromptID: "p"}, StatusTimeout},
		{"validation", &ValidationError{Report: &ValidationReport{}}, StatusValidationError},
		{"other", context.Canceled, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
