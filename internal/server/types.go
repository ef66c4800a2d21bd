package server

import (
	"time"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

// RunRequest is the body of POST /api/runs. Zero-valued overrides fall
// back to the server configuration.
type RunRequest struct {
	Devices []string `json:"devices"`
	Task    string   `json:"task"`
	// Profile names a model profile; Model gives one inline. At most one
	// may be set.
	Profile        string             `json:"profile,omitempty"`
	Model          *agent.ModelConfig `json:"model,omitempty"`
	Agent          string             `json:"agent,omitempty"`
	MaxSteps       int                `json:"max_steps,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
}

// SelectRequest is the body of the stop and resume endpoints. Entries are
// device IDs or glob patterns.
type SelectRequest struct {
	Devices []string `json:"devices"`
}

// SelectResponse lists the devices an operation affected.
type SelectResponse struct {
	Devices []string `json:"devices"`
}

// DeviceStatus is the wire form of a worker snapshot.
type DeviceStatus struct {
	DeviceID  string     `json:"device_id"`
	RunID     string     `json:"run_id"`
	Task      string     `json:"task"`
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Dropped   int64      `json:"dropped_events,omitempty"`
}

// DevicesResponse is the body of GET /api/devices.
type DevicesResponse struct {
	Active  []DeviceStatus `json:"active"`
	History []DeviceStatus `json:"history"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NewDeviceStatus converts a worker snapshot.
func NewDeviceStatus(info worker.Info) DeviceStatus {
	return DeviceStatus{
		DeviceID:  info.DeviceID,
		RunID:     info.RunID,
		Task:      info.Task,
		State:     info.State.String(),
		StartedAt: timePtr(info.StartedAt),
		EndedAt:   timePtr(info.EndedAt),
		Result:    info.Result,
		Error:     info.Error,
		Dropped:   info.Dropped,
	}
}

// Info converts s back into a worker snapshot. Unknown states read as
// starting.
func (s DeviceStatus) Info() worker.Info {
	state, _ := worker.ParseState(s.State)
	info := worker.Info{
		DeviceID: s.DeviceID,
		RunID:    s.RunID,
		Task:     s.Task,
		State:    state,
		Result:   s.Result,
		Error:    s.Error,
		Dropped:  s.Dropped,
	}
	if s.StartedAt != nil {
		info.StartedAt = *s.StartedAt
	}
	if s.EndedAt != nil {
		info.EndedAt = *s.EndedAt
	}
	return info
}

func statuses(infos []worker.Info) []DeviceStatus {
	out := make([]DeviceStatus, 0, len(infos))
	for _, info := range infos {
		out = append(out, NewDeviceStatus(info))
	}
	return out
}
