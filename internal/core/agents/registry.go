package agents

import (
	"fmt"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

// Registry is the fixed set of agents known at startup.
type Registry struct {
	agents map[domain.AgentName]ports.Agent
}

// NewRegistry builds every agent over one shared model client.
func NewRegistry(client ports.LLMClient, version string) *Registry {
	return NewRegistryOf(
		NewStyleAgent(client, version),
		NewBugAgent(client, version),
		NewSecurityAgent(client, version),
		NewPerformanceAgent(client, version),
	)
}

// NewRegistryOf registers the given agents; later duplicates replace earlier ones.
func NewRegistryOf(agents ...ports.Agent) *Registry {
	r := &Registry{agents: make(map[domain.AgentName]ports.Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name domain.AgentName) (ports.Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q is not registered", name)
	}
	return a, nil
}

// Resolve maps requested analysis types to registered agents in canonical
// order. Empty input selects every registered agent.
func (r *Registry) Resolve(types []string) ([]domain.AgentName, error) {
	if len(types) == 0 {
		return r.Names(), nil
	}
	want := make(map[domain.AgentName]bool, len(types))
	for _, t := range types {
		name, ok := domain.ParseAgentName(t)
		if !ok {
			return nil, fmt.Errorf("unknown analysis type %q", t)
		}
		if _, ok := r.agents[name]; !ok {
			return nil, fmt.Errorf("analysis type %q is not available", t)
		}
		want[name] = true
	}
	out := make([]domain.AgentName, 0, len(want))
	for _, name := range domain.AllAgents {
		if want[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Names lists registered agents in canonical order.
func (r *Registry) Names() []domain.AgentName {
	out := make([]domain.AgentName, 0, len(r.agents))
	for _, name := range domain.AllAgents {
		if _, ok := r.agents[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
