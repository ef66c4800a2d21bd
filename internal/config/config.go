package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/logging"
)

// AppName names the config directory and the environment prefix.
const AppName = "phonefleet"

// EnvPrefix is the prefix viper uses for environment overrides
// (PHONEFLEET_MODEL_BASE_URL, PHONEFLEET_RUN_MAX_STEPS, ...).
const EnvPrefix = "PHONEFLEET"

// Config represents the complete phonefleet configuration
type Config struct {
	Model        agent.ModelConfig            `mapstructure:"model"`
	Run          RunConfig                    `mapstructure:"run"`
	Agent        AgentConfig                  `mapstructure:"agent"`
	Orchestrator OrchestratorConfig           `mapstructure:"orchestrator"`
	Logging      LoggingConfig                `mapstructure:"logging"`
	Server       ServerConfig                 `mapstructure:"server"`
	Console      ConsoleConfig                `mapstructure:"console"`
	Devices      []string                     `mapstructure:"devices"`
	Profiles     map[string]agent.ModelConfig `mapstructure:"profiles"`
}

// RunConfig bounds each agent run
type RunConfig struct {
	// MaxSteps is the agent's action budget per device
	MaxSteps int `mapstructure:"max_steps"`
	// Verbose asks the agent for detailed progress
	Verbose bool `mapstructure:"verbose"`
	// TimeoutSeconds is the per-device run deadline (0 = disabled)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AgentConfig selects and configures the agent implementation
type AgentConfig struct {
	// Kind is the agent implementation: "script" or "exec"
	Kind string `mapstructure:"kind"`
	// Script is the YAML script replayed by the script agent
	Script string `mapstructure:"script"`
	// Command is the executable started per device by the exec agent
	Command string `mapstructure:"command"`
	// Args are passed to Command
	Args []string `mapstructure:"args"`
	// Env adds KEY=VALUE pairs to the agent process environment
	Env []string `mapstructure:"env"`
	// Dir is the agent process working directory
	Dir string `mapstructure:"dir"`
	// GracePeriodMs is how long an interrupted agent process may take to exit
	GracePeriodMs int `mapstructure:"grace_period_ms"`
}

// OrchestratorConfig controls worker creation
type OrchestratorConfig struct {
	// EventBuffer is the per-device event channel capacity
	EventBuffer int `mapstructure:"event_buffer"`
	// StopGraceMs is how long a stopped agent may take to return before it is abandoned
	StopGraceMs int `mapstructure:"stop_grace_ms"`
	// MaxParallel caps concurrently running agents (0 = unlimited)
	MaxParallel int `mapstructure:"max_parallel"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written at all
	Enabled bool `mapstructure:"enabled"`
	// Dir is the log directory (empty = <config dir>/logs)
	Dir string `mapstructure:"dir"`
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// ServerConfig controls the control server and the remote client
type ServerConfig struct {
	// Listen is the host:port the control server binds
	Listen string `mapstructure:"listen"`
	// HistorySize is how many events per device are replayed to new viewers
	HistorySize int `mapstructure:"history_size"`
	// URL is the server the remote commands talk to
	URL string `mapstructure:"url"`
	// ShutdownTimeoutMs bounds graceful shutdown of running devices
	ShutdownTimeoutMs int `mapstructure:"shutdown_timeout_ms"`
}

// ConsoleConfig controls event rendering in the terminal
type ConsoleConfig struct {
	// Color is "auto", "always" or "never"
	Color string `mapstructure:"color"`
	// Timestamps prefixes each event line with its time
	Timestamps bool `mapstructure:"timestamps"`
	// Width cuts event lines (0 = terminal width)
	Width int `mapstructure:"width"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Model: agent.ModelConfig{
			BaseURL:   "http://localhost:8000/v1",
			APIKey:    "EMPTY",
			ModelName: "autoglm-phone-9b",
			Lang:      agent.LangChinese,
		},
		Run: RunConfig{
			MaxSteps:       agent.DefaultMaxSteps,
			Verbose:        true,
			TimeoutSeconds: 0,
		},
		Agent: AgentConfig{
			Kind:          agent.KindScript,
			GracePeriodMs: int(agent.DefaultGracePeriod / time.Millisecond),
		},
		Orchestrator: OrchestratorConfig{
			EventBuffer: 256,
			StopGraceMs: 5000,
			MaxParallel: 0,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:8765",
			HistorySize:       200,
			URL:               "http://127.0.0.1:8765",
			ShutdownTimeoutMs: 10000,
		},
		Console: ConsoleConfig{
			Color: "auto",
		},
		Devices:  []string{},
		Profiles: map[string]agent.ModelConfig{},
	}
}

// BuiltinProfiles returns the model endpoints every installation knows.
func BuiltinProfiles() map[string]agent.ModelConfig {
	return map[string]agent.ModelConfig{
		"Localhost": {
			BaseURL:   "http://localhost:8000/v1",
			ModelName: "autoglm-phone-9b",
			APIKey:    "EMPTY",
		},
		"Zhipu AI": {
			BaseURL:   "https://open.bigmodel.cn/api/paas/v4/",
			ModelName: "glm-4-plus",
		},
		"ModelScope": {
			BaseURL:   "https://api-inference.modelscope.cn/v1/",
			ModelName: "ZhipuAI/chatglm3-6b",
		},
	}
}

// ProfileNames returns built-in and configured profile names, sorted.
// Viper lowercases configured names.
func (c *Config) ProfileNames() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range BuiltinProfiles() {
		seen[strings.ToLower(name)] = true
		names = append(names, name)
	}
	for name := range c.Profiles {
		if !seen[strings.ToLower(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Profile returns the model configuration named name. Configured profiles
// shadow built-in ones; names compare case-insensitively. The profile's
// language falls back to the configured model language.
func (c *Config) Profile(name string) (agent.ModelConfig, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	pick := func(set map[string]agent.ModelConfig) (agent.ModelConfig, bool) {
		for n, m := range set {
			if strings.ToLower(n) == want {
				return m, true
			}
		}
		return agent.ModelConfig{}, false
	}

	m, ok := pick(c.Profiles)
	if !ok {
		m, ok = pick(BuiltinProfiles())
	}
	if !ok {
		return agent.ModelConfig{}, errors.NewNotFoundError("profile", name)
	}
	if m.Lang == "" {
		m.Lang = c.Model.Lang
	}
	return m, nil
}

// Timeout returns the run deadline (0 means disabled)
func (c *RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentRunConfig converts the run section into the agent's run bounds.
func (c *RunConfig) AgentRunConfig() agent.RunConfig {
	return agent.RunConfig{
		MaxSteps: c.MaxSteps,
		Verbose:  c.Verbose,
		Timeout:  c.Timeout(),
	}
}

// GracePeriod returns the exec agent's interrupt grace period
func (c *AgentConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// ExecConfig converts the agent section into the exec agent's settings.
func (c *AgentConfig) ExecConfig() agent.ExecConfig {
	return agent.ExecConfig{
		Command:     c.Command,
		Args:        c.Args,
		Env:         c.Env,
		Dir:         c.Dir,
		GracePeriod: c.GracePeriod(),
	}
}

// StopGrace returns the worker stop grace period
func (c *OrchestratorConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

// ShutdownTimeout returns how long the server waits for devices on shutdown
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// ResolveDir returns the log directory, defaulting to <config dir>/logs
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// Rotation returns the log rotation settings
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Model defaults
	viper.SetDefault("model.base_url", defaults.Model.BaseURL)
	viper.SetDefault("model.api_key", defaults.Model.APIKey)
	viper.SetDefault("model.model_name", defaults.Model.ModelName)
	viper.SetDefault("model.lang", defaults.Model.Lang)

	// Run defaults
	viper.SetDefault("run.max_steps", defaults.Run.MaxSteps)
	viper.SetDefault("run.verbose", defaults.Run.Verbose)
	viper.SetDefault("run.timeout_seconds", defaults.Run.TimeoutSeconds)

	// Agent defaults
	viper.SetDefault("agent.kind", defaults.Agent.Kind)
	viper.SetDefault("agent.script", defaults.Agent.Script)
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.args", defaults.Agent.Args)
	viper.SetDefault("agent.env", defaults.Agent.Env)
	viper.SetDefault("agent.dir", defaults.Agent.Dir)
	viper.SetDefault("agent.grace_period_ms", defaults.Agent.GracePeriodMs)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.event_buffer", defaults.Orchestrator.EventBuffer)
	viper.SetDefault("orchestrator.stop_grace_ms", defaults.Orchestrator.StopGraceMs)
	viper.SetDefault("orchestrator.max_parallel", defaults.Orchestrator.MaxParallel)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Server defaults
	viper.SetDefault("server.listen", defaults.Server.Listen)
	viper.SetDefault("server.history_size", defaults.Server.HistorySize)
	viper.SetDefault("server.url", defaults.Server.URL)
	viper.SetDefault("server.shutdown_timeout_ms", defaults.Server.ShutdownTimeoutMs)

	// Console defaults
	viper.SetDefault("console.color", defaults.Console.Color)
	viper.SetDefault("console.timestamps", defaults.Console.Timestamps)
	viper.SetDefault("console.width", defaults.Console.Width)

	viper.SetDefault("devices", defaults.Devices)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	// Fall back to ~/.config/phonefleet
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
