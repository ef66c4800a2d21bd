package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is a canned agent run loaded from YAML. It replays its steps
// through the agent callbacks, which makes it possible to rehearse a fleet
// run, including takeovers, without a model endpoint.
//
// Example:
//
//	name: wechat-login
//	result: Logged in
//	steps:
//	  - thinking: "Opening WeChat on {{device}}"
//	  - action: {action: Launch, app: WeChat}
//	  - takeover: "Please scan the QR code"
//	  - sleep: 500ms
//	  - finish: "Logged in as {{device}}"
type Script struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
	// Result is returned when the steps run out without a finish step.
	Result string `yaml:"result,omitempty"`
	Steps  []Step `yaml:"steps"`
	// Devices overrides the step list for specific device IDs.
	Devices map[string][]Step `yaml:"devices,omitempty"`
}

// Step is one scripted callback. Exactly one field other than Screenshot
// must be set.
type Step struct {
	Thinking   *string        `yaml:"thinking,omitempty"`
	Action     map[string]any `yaml:"action,omitempty"`
	Screenshot string         `yaml:"screenshot,omitempty"`
	Log        *string        `yaml:"log,omitempty"`
	Error      *string        `yaml:"error,omitempty"`
	Takeover   *string        `yaml:"takeover,omitempty"`
	Sleep      string         `yaml:"sleep,omitempty"`
	Fail       *string        `yaml:"fail,omitempty"`
	Finish     *string        `yaml:"finish,omitempty"`
	// Panic makes the agent panic; used to rehearse crash handling.
	Panic *string `yaml:"panic,omitempty"`
}

// kind names the single populated field.
func (s Step) kind() (string, error) {
	var kinds []string
	if s.Thinking != nil {
		kinds = append(kinds, "thinking")
	}
	if s.Action != nil {
		kinds = append(kinds, "action")
	}
	if s.Log != nil {
		kinds = append(kinds, "log")
	}
	if s.Error != nil {
		kinds = append(kinds, "error")
	}
	if s.Takeover != nil {
		kinds = append(kinds, "takeover")
	}
	if s.Sleep != "" {
		kinds = append(kinds, "sleep")
	}
	if s.Fail != nil {
		kinds = append(kinds, "fail")
	}
	if s.Finish != nil {
		kinds = append(kinds, "finish")
	}
	if s.Panic != nil {
		kinds = append(kinds, "panic")
	}
	switch len(kinds) {
	case 0:
		return "", errors.New("step has no action")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("step sets more than one of %s", strings.Join(kinds, ", "))
	}
}

// LoadScriptFile reads and validates a script.
func LoadScriptFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// Validate checks every step list of the script.
func (s *Script) Validate() error {
	if s.Version != "" && s.Version != "1" {
		return fmt.Errorf("unsupported script version: %s (supported: 1)", s.Version)
	}
	if len(s.Steps) == 0 && len(s.Devices) == 0 {
		return errors.New("script has no steps")
	}
	if err := validateSteps("steps", s.Steps); err != nil {
		return err
	}
	for device, steps := range s.Devices {
		if err := validateSteps("devices."+device, steps); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(where string, steps []Step) error {
	for i, st := range steps {
		kind, err := st.kind()
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", where, i, err)
		}
		if kind == "sleep" {
			if d, err := time.ParseDuration(st.Sleep); err != nil || d < 0 {
				return fmt.Errorf("%s[%d]: invalid sleep duration %q", where, i, st.Sleep)
			}
		}
	}
	return nil
}

// StepsFor returns the step list used for deviceID.
func (s *Script) StepsFor(deviceID string) []Step {
	if steps, ok := s.Devices[deviceID]; ok {
		return steps
	}
	return s.Steps
}

// NewScriptFactory returns a Factory that loads the script at path for each
// device, so edits take effect on the next run.
func NewScriptFactory(path string) Factory {
	return func(deviceID string, model ModelConfig, run RunConfig, cb Callbacks) (Agent, error) {
		if path == "" {
			return nil, errors.New("script agent requires agent.script")
		}
		script, err := LoadScriptFile(path)
		if err != nil {
			return nil, err
		}
		return NewScriptAgent(script, deviceID, run, cb), nil
	}
}

// ScriptAgent replays a Script for one device.
type ScriptAgent struct {
	script   *Script
	deviceID string
	run      RunConfig
	cb       Callbacks
}

// NewScriptAgent creates a ScriptAgent.
func NewScriptAgent(script *Script, deviceID string, run RunConfig, cb Callbacks) *ScriptAgent {
	return &ScriptAgent{script: script, deviceID: deviceID, run: run, cb: cb}
}

// Run replays the steps, checking ctx between steps. It returns
// "Max steps reached" once more actions than RunConfig.MaxSteps were issued.
func (a *ScriptAgent) Run(ctx context.Context, task string) (string, error) {
	expand := strings.NewReplacer("{{device}}", a.deviceID, "{{task}}", task).Replace
	actions := 0

	for _, st := range a.script.StepsFor(a.deviceID) {
		if err := ctx.Err(); err != nil {
			return "", context.Cause(ctx)
		}
		kind, err := st.kind()
		if err != nil {
			return "", err
		}

		switch kind {
		case "thinking":
			a.cb.emit("thinking", map[string]any{"content": expand(*st.Thinking)})
		case "action":
			actions++
			if a.run.MaxSteps > 0 && actions > a.run.MaxSteps {
				return "Max steps reached", nil
			}
			data := map[string]any{"action": expandMap(st.Action, expand)}
			if st.Screenshot != "" {
				data["screenshot"] = st.Screenshot
			}
			a.cb.emit("action", data)
		case "log":
			a.cb.emit("log", map[string]any{"message": expand(*st.Log)})
		case "error":
			a.cb.emit("error", map[string]any{"error": expand(*st.Error)})
		case "takeover":
			a.cb.takeover(expand(*st.Takeover))
		case "sleep":
			d, _ := time.ParseDuration(st.Sleep)
			if err := sleepCtx(ctx, d); err != nil {
				return "", err
			}
		case "fail":
			return "", errors.New(expand(*st.Fail))
		case "finish":
			result := expand(*st.Finish)
			a.cb.emit("finished", map[string]any{"result": result})
			return result, nil
		case "panic":
			panic(expand(*st.Panic))
		}
	}

	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	return expand(a.script.Result), nil
}

func expandMap(m map[string]any, expand func(string) string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = expand(s)
			continue
		}
		out[k] = v
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
