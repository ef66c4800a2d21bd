package orchestrator

import (
	"strings"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

// TaskRequest is one task plus the configuration every device runs it
// with. It is immutable once built and shared by all workers of a Start
// call.
type TaskRequest struct {
	task    string
	model   agent.ModelConfig
	run     agent.RunConfig
	factory agent.Factory
}

// NewTaskRequest validates and builds a TaskRequest. The model language
// defaults to Chinese when unset.
func NewTaskRequest(task string, model agent.ModelConfig, run agent.RunConfig, factory agent.Factory) (TaskRequest, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return TaskRequest{}, errors.NewConfigurationError("task request", errors.ErrEmptyTask)
	}
	if err := run.Validate(); err != nil {
		return TaskRequest{}, errors.NewConfigurationError("task request", err)
	}
	if factory == nil {
		return TaskRequest{}, errors.NewConfigurationError("task request", errors.New("agent factory is required"))
	}
	// A shared request is never bound to a device.
	run.DeviceID = ""
	return TaskRequest{
		task:    task,
		model:   model.WithDefaults(),
		run:     run,
		factory: factory,
	}, nil
}

// Task returns the task description.
func (r TaskRequest) Task() string { return r.task }

// Model returns the model configuration.
func (r TaskRequest) Model() agent.ModelConfig { return r.model }

// Run returns the run configuration.
func (r TaskRequest) Run() agent.RunConfig { return r.run }

func (r TaskRequest) forRun(runID string) worker.Request {
	return worker.Request{
		RunID:   runID,
		Task:    r.task,
		Model:   r.model,
		Run:     r.run,
		Factory: r.factory,
	}
}
