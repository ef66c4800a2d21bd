package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultGracePeriod is how long an agent process may take to exit after
// being interrupted before it is killed.
const DefaultGracePeriod = 5 * time.Second

// maxLineSize bounds a single stdout line; action lines carry base64 screenshots.
const maxLineSize = 16 << 20

// ExecConfig describes an external agent process.
type ExecConfig struct {
	// Command is the executable; Args are passed verbatim.
	Command string
	Args    []string
	// Env is appended to the inherited environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// GracePeriod bounds the wait between interrupt and kill.
	GracePeriod time.Duration
}

// NewExecFactory returns a Factory that runs cfg.Command once per device.
func NewExecFactory(cfg ExecConfig) Factory {
	return func(deviceID string, model ModelConfig, run RunConfig, cb Callbacks) (Agent, error) {
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, errors.New("exec agent requires agent.command")
		}
		if _, err := exec.LookPath(cfg.Command); err != nil {
			return nil, fmt.Errorf("exec agent command: %w", err)
		}
		if err := model.Validate(); err != nil {
			return nil, err
		}
		return &ExecAgent{cfg: cfg, deviceID: deviceID, model: model, run: run, cb: cb}, nil
	}
}

// ExecAgent drives one device through an external process. The process
// receives its device and model settings as PHONEFLEET_* environment
// variables, writes ProcessMessage lines on stdout and reads ControlMessage
// lines on stdin.
type ExecAgent struct {
	cfg      ExecConfig
	deviceID string
	model    ModelConfig
	run      RunConfig
	cb       Callbacks
}

func (a *ExecAgent) environ(task string) []string {
	env := append(os.Environ(), a.cfg.Env...)
	return append(env,
		EnvDeviceID+"="+a.deviceID,
		EnvTask+"="+task,
		EnvBaseURL+"="+a.model.BaseURL,
		EnvModelName+"="+a.model.ModelName,
		EnvAPIKey+"="+a.model.APIKey,
		EnvLang+"="+a.model.Lang,
		EnvMaxSteps+"="+strconv.Itoa(a.run.MaxSteps),
		EnvVerbose+"="+strconv.FormatBool(a.run.Verbose),
	)
}

// Run starts the process and relays its messages until it exits. When ctx
// is cancelled the process is interrupted and killed after the grace period.
func (a *ExecAgent) Run(ctx context.Context, task string) (string, error) {
	grace := a.cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, a.cfg.Command, a.cfg.Args...)
	cmd.Env = a.environ(task)
	cmd.Dir = a.cfg.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = grace

	stderr := newTailBuffer(defaultTailSize)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start agent process: %w", err)
	}

	ctl := &controlWriter{w: stdin}
	outcome, readErr := a.relay(ctx, stdout, ctl)
	ctl.close()
	if readErr != nil {
		// The process may still be blocked writing to a pipe nobody reads.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", context.Cause(ctx)
	}
	if readErr != nil {
		return "", readErr
	}
	if outcome.Error != "" {
		return "", errors.New(outcome.Error)
	}
	if waitErr != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return "", fmt.Errorf("agent process: %w: %s", waitErr, lastLine(tail))
		}
		return "", fmt.Errorf("agent process: %w", waitErr)
	}
	return outcome.Result, nil
}

// relay reads stdout until EOF and returns the last result message.
func (a *ExecAgent) relay(ctx context.Context, stdout io.Reader, ctl *controlWriter) (ProcessMessage, error) {
	var outcome ProcessMessage
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg ProcessMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Type == "" {
			// Plain output from the agent is forwarded as a log line.
			a.cb.emit("log", map[string]any{"message": line})
			continue
		}

		switch msg.Type {
		case msgTakeover:
			a.cb.takeover(msg.Message)
			if ctx.Err() == nil {
				ctl.send(ControlMessage{Type: msgResume})
			}
		case msgResult:
			outcome = msg
		default:
			a.cb.emit(msg.Type, msg.Data)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		return outcome, fmt.Errorf("read agent output: %w", err)
	}
	return outcome, nil
}

// controlWriter serializes writes to the process's stdin.
type controlWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (c *controlWriter) send(msg ControlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	data, _ := json.Marshal(msg)
	// A process that exited no longer needs the message.
	_, _ = c.w.Write(append(data, '\n'))
}

func (c *controlWriter) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.w.Close()
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
