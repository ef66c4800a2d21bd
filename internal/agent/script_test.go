package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fleeterrors "github.com/Iron-Ham/phonefleet/internal/errors"
)

const loginScript = `
name: login
result: "done {{task}}"
steps:
  - thinking: "Opening app on {{device}}"
  - action: {action: Launch, app: WeChat}
    screenshot: iVBORw0KGgo=
  - log: step two
  - error: transient glitch
  - takeover: Please log in
  - thinking: Logged in
devices:
  emulator-5556:
    - finish: "special {{device}}"
`

func mustParse(t *testing.T, src string) *Script {
	t.Helper()
	s, err := ParseScript([]byte(src))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	return s
}

func TestParseScript_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"not yaml", "steps: [", "parsing script"},
		{"no steps", "name: empty\n", "no steps"},
		{"empty step", "steps:\n  - {}\n", "no action"},
		{"two kinds", "steps:\n  - log: a\n    thinking: b\n", "more than one"},
		{"bad sleep", "steps:\n  - sleep: soon\n", "invalid sleep"},
		{"bad version", "version: \"2\"\nsteps:\n  - log: a\n", "unsupported script version"},
		{"bad device steps", "steps:\n  - log: a\ndevices:\n  d1:\n    - {}\n", "devices.d1[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseScript() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestScriptAgent_ReplaysSteps(t *testing.T) {
	rec := &recorder{}
	a := NewScriptAgent(mustParse(t, loginScript), "emulator-5554", RunConfig{MaxSteps: 10}, rec.callbacks())

	result, err := a.Run(context.Background(), "login")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != "done login" {
		t.Errorf("Run() = %q, want %q", result, "done login")
	}

	want := []string{"thinking", "action", "log", "error", "thinking"}
	got := rec.types()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if c := rec.event(0).data["content"]; c != "Opening app on emulator-5554" {
		t.Errorf("thinking content = %v", c)
	}
	action := rec.event(1).data
	if action["screenshot"] != "iVBORw0KGgo=" {
		t.Errorf("screenshot = %v", action["screenshot"])
	}
	if action["action"].(map[string]any)["app"] != "WeChat" {
		t.Errorf("action = %v", action["action"])
	}
	if len(rec.takeovers) != 1 || rec.takeovers[0] != "Please log in" {
		t.Errorf("takeovers = %v", rec.takeovers)
	}
}

func TestScriptAgent_DeviceOverride(t *testing.T) {
	rec := &recorder{}
	a := NewScriptAgent(mustParse(t, loginScript), "emulator-5556", RunConfig{MaxSteps: 10}, rec.callbacks())

	result, err := a.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != "special emulator-5556" {
		t.Errorf("Run() = %q", result)
	}
	if got := rec.types(); len(got) != 1 || got[0] != "finished" {
		t.Errorf("event types = %v, want [finished]", got)
	}
}

func TestScriptAgent_MaxSteps(t *testing.T) {
	src := "steps:\n  - action: {action: Tap}\n  - action: {action: Tap}\n  - action: {action: Tap}\n"
	rec := &recorder{}
	a := NewScriptAgent(mustParse(t, src), "d", RunConfig{MaxSteps: 2}, rec.callbacks())

	result, err := a.Run(context.Background(), "tap")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != "Max steps reached" {
		t.Errorf("Run() = %q", result)
	}
	if n := len(rec.types()); n != 2 {
		t.Errorf("emitted %d actions, want 2", n)
	}
}

func TestScriptAgent_Fail(t *testing.T) {
	a := NewScriptAgent(mustParse(t, "steps:\n  - fail: model unreachable\n"), "d", RunConfig{MaxSteps: 1}, Callbacks{})
	if _, err := a.Run(context.Background(), "x"); err == nil || err.Error() != "model unreachable" {
		t.Errorf("Run() error = %v, want model unreachable", err)
	}
}

func TestScriptAgent_Panic(t *testing.T) {
	a := NewScriptAgent(mustParse(t, "steps:\n  - panic: kaboom\n"), "d", RunConfig{MaxSteps: 1}, Callbacks{})
	defer func() {
		if r := recover(); r != "kaboom" {
			t.Errorf("recover() = %v, want kaboom", r)
		}
	}()
	_, _ = a.Run(context.Background(), "x")
}

func TestScriptAgent_SleepObservesCancellation(t *testing.T) {
	a := NewScriptAgent(mustParse(t, "steps:\n  - sleep: 1m\n  - log: never\n"), "d", RunConfig{MaxSteps: 1}, Callbacks{})

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(fleeterrors.ErrStopped)
	}()

	start := time.Now()
	_, err := a.Run(ctx, "x")
	if !errors.Is(err, fleeterrors.ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run() did not return promptly after cancellation")
	}
}

func TestScriptAgent_StopsAfterReleasedTakeover(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	rec := &recorder{onTakeover: func(string) { cancel(fleeterrors.ErrStopped) }}
	a := NewScriptAgent(mustParse(t, "steps:\n  - takeover: help\n  - log: after\n"), "d", RunConfig{MaxSteps: 1}, rec.callbacks())

	if _, err := a.Run(ctx, "x"); !errors.Is(err, fleeterrors.ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}
	if len(rec.types()) != 0 {
		t.Errorf("no steps should run after a cancelled takeover, got %v", rec.types())
	}
}

func TestNewScriptFactory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	if err := os.WriteFile(path, []byte(loginScript), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewScriptFactory(path)
	a, err := f("emulator-5554", ModelConfig{}, RunConfig{MaxSteps: 5}, Callbacks{})
	if err != nil {
		t.Fatalf("factory error = %v", err)
	}
	if _, ok := a.(*ScriptAgent); !ok {
		t.Errorf("factory returned %T", a)
	}

	if _, err := NewScriptFactory(filepath.Join(dir, "missing.yaml"))("d", ModelConfig{}, RunConfig{}, Callbacks{}); err == nil {
		t.Error("missing script should fail construction")
	}
	if _, err := NewScriptFactory("")("d", ModelConfig{}, RunConfig{}, Callbacks{}); err == nil {
		t.Error("empty path should fail construction")
	}
}
