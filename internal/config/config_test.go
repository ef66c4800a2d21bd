package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	fleeterrors "github.com/Iron-Ham/phonefleet/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Model defaults mirror the Localhost profile
	if cfg.Model.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("Model.BaseURL = %q", cfg.Model.BaseURL)
	}
	if cfg.Model.ModelName != "autoglm-phone-9b" {
		t.Errorf("Model.ModelName = %q", cfg.Model.ModelName)
	}
	if cfg.Model.Lang != agent.LangChinese {
		t.Errorf("Model.Lang = %q, want %q", cfg.Model.Lang, agent.LangChinese)
	}

	if cfg.Run.MaxSteps != 50 {
		t.Errorf("Run.MaxSteps = %d, want 50", cfg.Run.MaxSteps)
	}
	if !cfg.Run.Verbose {
		t.Error("Run.Verbose should be true by default")
	}
	if cfg.Run.Timeout() != 0 {
		t.Errorf("Run.Timeout() = %s, want disabled", cfg.Run.Timeout())
	}

	if cfg.Orchestrator.EventBuffer != 256 {
		t.Errorf("Orchestrator.EventBuffer = %d, want 256", cfg.Orchestrator.EventBuffer)
	}
	if cfg.Orchestrator.StopGrace() != 5*time.Second {
		t.Errorf("Orchestrator.StopGrace() = %s, want 5s", cfg.Orchestrator.StopGrace())
	}
	if cfg.Agent.Kind != agent.KindScript {
		t.Errorf("Agent.Kind = %q", cfg.Agent.Kind)
	}
	if cfg.Server.Listen != "127.0.0.1:8765" {
		t.Errorf("Server.Listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.HistorySize != 200 {
		t.Errorf("Server.HistorySize = %d, want 200", cfg.Server.HistorySize)
	}
}

func TestDurations(t *testing.T) {
	run := RunConfig{MaxSteps: 7, Verbose: true, TimeoutSeconds: 90}
	if run.Timeout() != 90*time.Second {
		t.Errorf("Timeout() = %s", run.Timeout())
	}
	rc := run.AgentRunConfig()
	if rc.MaxSteps != 7 || !rc.Verbose || rc.Timeout != 90*time.Second || rc.DeviceID != "" {
		t.Errorf("AgentRunConfig() = %+v", rc)
	}

	ag := AgentConfig{Command: "python3", Args: []string{"-m", "agent"}, GracePeriodMs: 1500}
	ec := ag.ExecConfig()
	if ec.Command != "python3" || len(ec.Args) != 2 || ec.GracePeriod != 1500*time.Millisecond {
		t.Errorf("ExecConfig() = %+v", ec)
	}

	srv := ServerConfig{ShutdownTimeoutMs: 250}
	if srv.ShutdownTimeout() != 250*time.Millisecond {
		t.Errorf("ShutdownTimeout() = %s", srv.ShutdownTimeout())
	}
}

func TestLoggingConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	l := LoggingConfig{MaxSizeMB: 5, MaxBackups: 2, Compress: true}
	if got := l.ResolveDir(); got != "/custom/config/phonefleet/logs" {
		t.Errorf("ResolveDir() = %q", got)
	}
	l.Dir = "/var/log/phonefleet"
	if got := l.ResolveDir(); got != "/var/log/phonefleet" {
		t.Errorf("ResolveDir() = %q", got)
	}

	r := l.Rotation()
	if r.MaxSizeMB != 5 || r.MaxBackups != 2 || !r.Compress {
		t.Errorf("Rotation() = %+v", r)
	}
}

func TestConfig_Profile(t *testing.T) {
	cfg := Default()
	cfg.Model.Lang = agent.LangEnglish
	cfg.Profiles = map[string]agent.ModelConfig{
		// viper lowercases keys
		"my-gateway": {BaseURL: "https://gw.example.com/v1", ModelName: "phone"},
		"localhost":  {BaseURL: "http://127.0.0.1:9000/v1", ModelName: "override", Lang: agent.LangChinese},
	}

	tests := []struct {
		name      string
		profile   string
		wantURL   string
		wantLang  string
		wantError bool
	}{
		{"builtin", "Zhipu AI", "https://open.bigmodel.cn/api/paas/v4/", agent.LangEnglish, false},
		{"builtin any case", "modelscope", "https://api-inference.modelscope.cn/v1/", agent.LangEnglish, false},
		{"configured", "My-Gateway", "https://gw.example.com/v1", agent.LangEnglish, false},
		{"configured shadows builtin", "Localhost", "http://127.0.0.1:9000/v1", agent.LangChinese, false},
		{"unknown", "nope", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := cfg.Profile(tt.profile)
			if tt.wantError {
				var nf *fleeterrors.NotFoundError
				if !errors.As(err, &nf) {
					t.Errorf("Profile(%q) error = %v, want NotFoundError", tt.profile, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Profile(%q) error = %v", tt.profile, err)
			}
			if m.BaseURL != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", m.BaseURL, tt.wantURL)
			}
			if m.Lang != tt.wantLang {
				t.Errorf("Lang = %q, want %q", m.Lang, tt.wantLang)
			}
		})
	}
}

func TestConfig_ProfileNames(t *testing.T) {
	cfg := Default()
	cfg.Profiles = map[string]agent.ModelConfig{
		"zhipu ai": {BaseURL: "https://x.example.com", ModelName: "m"},
		"extra":    {BaseURL: "https://y.example.com", ModelName: "m"},
	}
	got := strings.Join(cfg.ProfileNames(), ",")
	if got != "Localhost,ModelScope,Zhipu AI,extra" {
		t.Errorf("ProfileNames() = %s", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/phonefleet" {
			t.Errorf("ConfigDir() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "phonefleet")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/phonefleet/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Run.MaxSteps != 50 {
		t.Errorf("Get().Run.MaxSteps = %d, want 50", cfg.Run.MaxSteps)
	}
}

func TestTemplate_LoadsAsDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(Template)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	def := Default()
	if cfg.Model != def.Model {
		t.Errorf("Model = %+v, want %+v", cfg.Model, def.Model)
	}
	if cfg.Run != def.Run {
		t.Errorf("Run = %+v, want %+v", cfg.Run, def.Run)
	}
	if cfg.Orchestrator != def.Orchestrator {
		t.Errorf("Orchestrator = %+v, want %+v", cfg.Orchestrator, def.Orchestrator)
	}
	if cfg.Server != def.Server {
		t.Errorf("Server = %+v, want %+v", cfg.Server, def.Server)
	}
	if cfg.Console != def.Console {
		t.Errorf("Console = %+v, want %+v", cfg.Console, def.Console)
	}
}

func TestLoadFrom_ValidationFailure(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	bad := strings.Replace(Template, "max_steps: 50", "max_steps: 0", 1)
	if err := v.ReadConfig(strings.NewReader(bad)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	_, err := LoadFrom(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("LoadFrom() error = %v, want ValidationErrors", err)
	}
	if verrs[0].Field != "run.max_steps" {
		t.Errorf("first error field = %q", verrs[0].Field)
	}
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	t.Setenv("PHONEFLEET_RUN_MAX_STEPS", "12")

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(strings.NewReader(Template)); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Run.MaxSteps != 12 {
		t.Errorf("Run.MaxSteps = %d, want 12 from the environment", cfg.Run.MaxSteps)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(Template), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 8)
	Watch(v, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})

	updated := strings.Replace(Template, "max_parallel: 0", "max_parallel: 3", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Orchestrator.MaxParallel == 3 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed after the config file changed")
		}
	}
}
