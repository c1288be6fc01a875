package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/renderfleet/comfyrelay/internal/comfy"
)

// MonitorState is one state of the completion monitoring machine.
type MonitorState int

const (
	StateSubmitting MonitorState = iota
	StateMonitoringPush
	StateMonitoringPoll
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s MonitorState) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateMonitoringPush:
		return "monitoring_push"
	case StateMonitoringPoll:
		return "monitoring_poll"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Monitor drives a submitted prompt to a terminal state: push monitoring
// first when enabled, polling as the fallback. The timeout is total wall
// clock across both phases; falling back never restarts the budget.
type Monitor struct {
	client       *comfy.Client
	pollInterval time.Duration
	logger       *slog.Logger

	// onProgress, when set, receives push progress events.
	onProgress func(value, max int)
}

// NewMonitor creates a completion monitor.
func NewMonitor(client *comfy.Client, pollInterval time.Duration, logger *slog.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Monitor{client: client, pollInterval: pollInterval, logger: logger}
}

// pushOutcome is the one-shot result of the push monitoring phase.
type pushOutcome struct {
	history  *comfy.History
	err      error
	fallback bool
}

// Wait blocks until the prompt reaches a terminal state. clientID must be the
// correlation id the prompt was submitted with, so push events are scoped to
// this job. Exactly one terminal state is reached: a history (COMPLETED), an
// ExecutionError (FAILED) or a MonitorTimeoutError (TIMED_OUT). On timeout
// the push channel is closed and no cancellation is sent to the backend.
func (m *Monitor) Wait(ctx context.Context, promptID, clientID string, timeout time.Duration, usePush bool) (*comfy.History, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if usePush {
		m.logger.Info("monitor state", "state", StateMonitoringPush, "prompt_id", promptID)
		outcome := m.monitorPush(ctx, promptID, clientID)
		if !outcome.fallback {
			return m.finish(promptID, outcome.history, outcome.err)
		}
		m.logger.Info("push monitoring abandoned, falling back to polling", "prompt_id", promptID)
	}

	m.logger.Info("monitor state", "state", StateMonitoringPoll, "prompt_id", promptID)
	history, err := m.poll(ctx, promptID, timeout)
	return m.finish(promptID, history, err)
}

func (m *Monitor) finish(promptID string, history *comfy.History, err error) (*comfy.History, error) {
	switch {
	case err == nil:
		// COMPLETED always carries a history with outputs present.
		if history.Outputs == nil {
			history.Outputs = map[string]comfy.NodeOutput{}
		}
		m.logger.Info("monitor state", "state", StateCompleted, "prompt_id", promptID)
		return history, nil
	case errors.As(err, new(*MonitorTimeoutError)):
		m.logger.Warn("monitor state", "state", StateTimedOut, "prompt_id", promptID)
		return nil, err
	default:
		m.logger.Error("monitor state", "state", StateFailed, "prompt_id", promptID, "error", err)
		return nil, err
	}
}

// monitorPush opens the push channel and consumes events on a background
// goroutine, with the caller blocked on a one-shot channel bounded by the
// overall deadline. Connection failures at any point abandon push monitoring
// rather than failing the job.
func (m *Monitor) monitorPush(ctx context.Context, promptID, clientID string) pushOutcome {
	push, err := m.client.OpenPush(ctx, clientID)
	if err != nil {
		m.logger.Warn("push channel unavailable", "error", err)
		return pushOutcome{fallback: true}
	}
	defer push.Close()

	resultCh := make(chan pushOutcome, 1)
	go func() {
		resultCh <- m.consumeEvents(ctx, push, promptID)
	}()

	select {
	case outcome := <-resultCh:
		return outcome
	case <-ctx.Done():
		// Timeout while pushing: close the channel to release the listener
		// and let the poll phase observe the expired budget.
		push.Close()
		return pushOutcome{fallback: true}
	}
}

// consumeEvents is the single consumer of the push event stream; events for
// this job are processed in arrival order.
func (m *Monitor) consumeEvents(ctx context.Context, push *comfy.PushConn, promptID string) pushOutcome {
	for event := range push.Events() {
		switch ev := event.(type) {
		case comfy.Progress:
			if m.onProgress != nil {
				m.onProgress(ev.Value, ev.Max)
			}
			if ev.Max > 0 {
				m.logger.Debug("render progress",
					"prompt_id", promptID,
					"value", ev.Value,
					"max", ev.Max,
					"percent", float64(ev.Value)/float64(ev.Max)*100)
			}

		case comfy.Executing:
			// A nil node for our prompt means execution finished; capture
			// the final history before reporting completion.
			if ev.Node == nil && ev.PromptID == promptID {
				m.logger.Info("execution completed via push channel", "prompt_id", promptID)
				history, err := m.client.History(ctx, promptID)
				if err != nil || history == nil {
					m.logger.Warn("history fetch after completion failed, deferring to polling",
						"prompt_id", promptID, "error", err)
					return pushOutcome{fallback: true}
				}
				return pushOutcome{history: history}
			}

		case comfy.ExecutionFailure:
			if ev.PromptID == promptID {
				return pushOutcome{err: &comfy.ExecutionError{PromptID: promptID, Detail: ev.Detail}}
			}
		}
	}

	// Stream ended before a terminal event: connection closed or errored.
	if err := push.Err(); err != nil {
		m.logger.Warn("push channel failed", "prompt_id", promptID, "error", err)
	}
	return pushOutcome{fallback: true}
}

// poll fetches the history at a fixed interval until the backend reports
// completion or the cumulative wait exceeds the deadline carried by ctx.
func (m *Monitor) poll(ctx context.Context, promptID string, timeout time.Duration) (*comfy.History, error) {
	for {
		if ctx.Err() != nil {
			return nil, &MonitorTimeoutError{PromptID: promptID, Timeout: timeout}
		}

		history, err := m.client.History(ctx, promptID)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				m.logger.Warn("history poll failed", "prompt_id", promptID, "error", err)
			}
		case history != nil && history.Status.Completed:
			return history, nil
		}

		select {
		case <-time.After(m.pollInterval):
		case <-ctx.Done():
			return nil, &MonitorTimeoutError{PromptID: promptID, Timeout: timeout}
		}
	}
}
