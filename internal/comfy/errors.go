package comfy

import "fmt"

// UnreachableError is returned when the readiness probe exhausts its attempts
// without seeing a healthy backend. Fatal for the orchestrator.
type UnreachableError struct {
	URL      string
	Attempts int
	LastErr  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("comfyui at %s is not reachable after %d attempts: %v", e.URL, e.Attempts, e.LastErr)
}

func (e *UnreachableError) Unwrap() error { return e.LastErr }

// SubmissionError is returned when the backend rejects a job or fails to
// return a prompt id. Never retried.
type SubmissionError struct {
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue prompt: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("queue prompt: %s", e.Detail)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ExecutionError is a backend-reported render failure for a specific prompt.
type ExecutionError struct {
	PromptID string
	Detail   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for prompt %s: %s", e.PromptID, e.Detail)
}
