package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/renderfleet/comfyrelay/internal/comfy"
)

// Response status discriminators. Fatal categories short-circuit the run and
// omit result data; "success" may still carry non-fatal errors.
const (
	StatusSuccess         = "success"
	StatusValidationError = "validation_error"
	StatusSubmissionError = "submission_error"
	StatusUnreachable     = "unreachable"
	StatusTimeout         = "timeout"
	StatusExecutionError  = "execution_error"
	StatusError           = "error"
)

// ValidationError is fatal only when the caller opted into blocking
// validation; the orchestrator decides.
type ValidationError struct {
	Report *ValidationReport
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow validation failed: %d missing model(s)", len(e.Report.Missing))
}

// MonitorTimeoutError is the TIMED_OUT terminal state: the job did not reach
// completion within the overall wall-clock budget. The backend keeps running
// the abandoned job; we only stop waiting.
type MonitorTimeoutError struct {
	PromptID string
	Timeout  time.Duration
}

func (e *MonitorTimeoutError) Error() string {
	return fmt.Sprintf("prompt %s did not complete within %s", e.PromptID, e.Timeout)
}

// StatusFor maps an error to its response status discriminator.
func StatusFor(err error) string {
	if err == nil {
		return StatusSuccess
	}

	var (
		unreachable *comfy.UnreachableError
		submission  *comfy.SubmissionError
		execution   *comfy.ExecutionError
		validation  *ValidationError
		timeout     *MonitorTimeoutError
	)
	switch {
	case errors.As(err, &unreachable):
		return StatusUnreachable
	case errors.As(err, &submission):
		return StatusSubmissionError
	case errors.As(err, &execution):
		return StatusExecutionError
	case errors.As(err, &validation):
		return StatusValidationError
	case errors.As(err, &timeout):
		return StatusTimeout
	default:
		return StatusError
	}
}
