package agent

// ProcessMessage is one JSON line written by an agent process on stdout.
type ProcessMessage struct {
	Type    string         `json:"type"`              // thinking, action, log, error, finished, takeover, result
	Data    map[string]any `json:"data,omitempty"`    // callback payload for progress types
	Message string         `json:"message,omitempty"` // takeover prompt
	Result  string         `json:"result,omitempty"`  // final result (for "result")
	Error   string         `json:"error,omitempty"`   // run failure (for "result")
}

// ControlMessage is one JSON line written to an agent process on stdin.
type ControlMessage struct {
	Type string `json:"type"` // resume
}

// Process message types handled by the exec agent itself.
const (
	msgTakeover = "takeover"
	msgResult   = "result"
	msgResume   = "resume"
)

// Environment variables passed to agent processes.
const (
	EnvDeviceID  = "PHONEFLEET_DEVICE_ID"
	EnvTask      = "PHONEFLEET_TASK"
	EnvBaseURL   = "PHONEFLEET_BASE_URL"
	EnvModelName = "PHONEFLEET_MODEL_NAME"
	EnvAPIKey    = "PHONEFLEET_API_KEY"
	EnvLang      = "PHONEFLEET_LANG"
	EnvMaxSteps  = "PHONEFLEET_MAX_STEPS"
	EnvVerbose   = "PHONEFLEET_VERBOSE"
)
