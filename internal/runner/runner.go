// Package runner orchestrates one render job: override application, model
// validation, input ingestion, submission, completion monitoring and result
// export.
package runner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/renderfleet/comfyrelay/internal/comfy"
	"github.com/renderfleet/comfyrelay/internal/config"
	"github.com/renderfleet/comfyrelay/internal/export"
	"github.com/renderfleet/comfyrelay/internal/metrics"
	"github.com/renderfleet/comfyrelay/internal/workflow"
)

// Request is one render job.
type Request struct {
	Workflow       workflow.Workflow   `json:"workflow"`
	Overrides      []workflow.Override `json:"overrides,omitempty"`
	Images         []InputImage        `json:"images,omitempty"`
	ReturnImages   *bool               `json:"return_images,omitempty"`
	TimeoutSecs    int                 `json:"timeout,omitempty"`
	UseWebsocket   *bool               `json:"use_websocket,omitempty"`
	ValidateModels bool                `json:"validate_models,omitempty"`
	ComfyOrgAPIKey string              `json:"comfyorg_api_key,omitempty"`
}

// Response is the terminal answer for one job. Status is always set; fatal
// categories omit result data, while Errors accumulates non-fatal failures
// that did not prevent success.
type Response struct {
	Status        string                 `json:"status"`
	Error         string                 `json:"error,omitempty"`
	PromptID      string                 `json:"prompt_id,omitempty"`
	ModelsPath    string                 `json:"models_path,omitempty"`
	S3Enabled     bool                   `json:"s3_enabled"`
	Images        []export.ExportedImage `json:"images,omitempty"`
	ImageCount    int                    `json:"image_count,omitempty"`
	Errors        []string               `json:"errors,omitempty"`
	Validation    *ValidationReport      `json:"validation,omitempty"`
	ExecutionTime float64                `json:"execution_time"`
}

// Runner executes render jobs against one backend. One job is processed per
// Run call; the push listener is the only background concurrency.
type Runner struct {
	client   *comfy.Client
	exporter *export.Exporter
	monitor  *Monitor
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a runner.
func New(client *comfy.Client, exporter *export.Exporter, cfg config.Config, logger *slog.Logger, collector *metrics.Collector) *Runner {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Runner{
		client:   client,
		exporter: exporter,
		monitor:  NewMonitor(client, cfg.PollInterval, logger),
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
	}
}

// OnProgress registers a callback for push progress events. Must be set
// before Run.
func (r *Runner) OnProgress(fn func(value, max int)) {
	r.monitor.onProgress = fn
}

// Run processes one job to a terminal response. It never returns an error:
// fatal conditions are reported through the response status.
func (r *Runner) Run(ctx context.Context, req Request) Response {
	start := time.Now()
	var errs []string

	if len(req.Workflow) == 0 {
		return r.failure(start, StatusError, "missing required field: workflow", "", nil, errs)
	}
	if err := workflow.ValidateOverrides(req.Overrides); err != nil {
		return r.failure(start, StatusError, err.Error(), "", nil, errs)
	}

	apiKey := req.ComfyOrgAPIKey
	if apiKey == "" {
		apiKey = r.cfg.ComfyOrgAPIKey
	}
	timeout := r.cfg.JobTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}
	usePush := boolOr(req.UseWebsocket, true)
	returnImages := boolOr(req.ReturnImages, true)

	// Input images first so the workflow can reference them.
	r.metrics.Time(metrics.OpUploadInput, func() error {
		r.ingestInputImages(ctx, req.Images, &errs)
		return nil
	})

	wf := req.Workflow
	if len(req.Overrides) > 0 {
		var warnings []string
		wf, warnings = workflow.Apply(wf, req.Overrides, r.logger)
		errs = append(errs, warnings...)
	}

	var report *ValidationReport
	if req.ValidateModels {
		r.logger.Info("validating workflow models")
		report = r.ValidateModels(ctx, wf)
		switch {
		case report.Unverifiable:
			r.logger.Warn("model inventory unavailable, skipping validation")
		case !report.Valid:
			err := &ValidationError{Report: report}
			return r.failure(start, StatusFor(err), err.Error(), "", report, errs)
		default:
			r.logger.Info("model validation passed")
		}
	}

	err := r.metrics.Time(metrics.OpProbe, func() error {
		return r.client.EnsureReady(ctx, r.cfg.ProbeAttempts, r.cfg.ProbeDelay)
	})
	if err != nil {
		return r.failure(start, StatusFor(err), err.Error(), "", report, errs)
	}

	clientID := uuid.New().String()
	var promptID string
	err = r.metrics.Time(metrics.OpSubmit, func() error {
		var submitErr error
		promptID, submitErr = r.client.QueuePrompt(ctx, wf, clientID, apiKey)
		return submitErr
	})
	if err != nil {
		return r.failure(start, StatusFor(err), err.Error(), "", report, errs)
	}
	r.logger.Info("prompt queued", "prompt_id", promptID)

	var history *comfy.History
	err = r.metrics.Time(metrics.OpMonitor, func() error {
		var waitErr error
		history, waitErr = r.monitor.Wait(ctx, promptID, clientID, timeout, usePush)
		return waitErr
	})
	if err != nil {
		return r.failure(start, StatusFor(err), err.Error(), promptID, report, errs)
	}

	resp := Response{
		Status:        StatusSuccess,
		PromptID:      promptID,
		ModelsPath:    r.cfg.ModelsPath,
		S3Enabled:     r.exporter.Rehosting(),
		Errors:        errs,
		Validation:    report,
		ExecutionTime: roundSeconds(time.Since(start)),
	}

	if returnImages {
		images := history.OutputImages()
		r.metrics.Time(metrics.OpExport, func() error {
			resp.Images = r.exporter.Export(ctx, images)
			return nil
		})
		resp.ImageCount = len(images)
	}

	r.metrics.JobCompleted()
	return resp
}

func (r *Runner) failure(start time.Time, status, detail, promptID string, report *ValidationReport, errs []string) Response {
	r.logger.Error("job failed", "status", status, "error", detail)
	r.metrics.JobFailed()
	return Response{
		Status:        status,
		Error:         detail,
		PromptID:      promptID,
		Validation:    report,
		Errors:        errs,
		ExecutionTime: roundSeconds(time.Since(start)),
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
