package config

import (
	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/orchestrator"
)

// Settings converts the orchestrator section into orchestrator settings.
func (c *OrchestratorConfig) Settings() orchestrator.Config {
	return orchestrator.Config{
		EventBuffer: c.EventBuffer,
		StopGrace:   c.StopGrace(),
		MaxParallel: c.MaxParallel,
	}
}

// Agents returns a registry holding every agent kind, built from the agent
// section. The registry reflects c at call time; rebuild it after a reload.
func (c *Config) Agents() *agent.Registry {
	r := agent.NewRegistry()
	r.Register(agent.KindScript, agent.NewScriptFactory(c.Agent.Script))
	r.Register(agent.KindExec, agent.NewExecFactory(c.Agent.ExecConfig()))
	return r
}

// ResolveModel returns the named profile, or the model section when
// profile is empty.
func (c *Config) ResolveModel(profile string) (agent.ModelConfig, error) {
	if profile == "" {
		return c.Model, nil
	}
	return c.Profile(profile)
}

// TaskRequest builds a request for task from c: the model comes from
// profile (or the model section), the run bounds from the run section and
// the factory from agents under the configured agent kind.
func (c *Config) TaskRequest(task, profile string, agents *agent.Registry) (orchestrator.TaskRequest, error) {
	model, err := c.ResolveModel(profile)
	if err != nil {
		return orchestrator.TaskRequest{}, err
	}
	factory, err := agents.Factory(c.Agent.Kind)
	if err != nil {
		return orchestrator.TaskRequest{}, err
	}
	return orchestrator.NewTaskRequest(task, model, c.Run.AgentRunConfig(), factory)
}
