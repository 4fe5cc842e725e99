// Package presence tracks which agents are online.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a heartbeat keeps an agent online.
const DefaultTTL = 2 * time.Minute

// Agent is a presence snapshot.
type Agent struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// Registry is an in-process presence table shared by the HTTP handlers and
// the chat service.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Registry{ttl: ttl, now: time.Now, agents: make(map[string]Agent)}
}

// Heartbeat marks the agent online.
func (r *Registry) Heartbeat(tenantID, agentID, name string) Agent {
	agent := Agent{ID: agentID, TenantID: tenantID, Name: name, LastSeen: r.now().UTC()}

	r.mu.Lock()
	r.agents[agentID] = agent
	r.mu.Unlock()

	return agent
}

// Offline removes the agent immediately.
func (r *Registry) Offline(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()
}

// IsOnline reports whether the agent sent a heartbeat within the TTL.
func (r *Registry) IsOnline(agentID string) bool {
	r.mu.RLock()
	agent, ok := r.agents[agentID]
	r.mu.RUnlock()

	return ok && r.fresh(agent)
}

// Online lists the tenant's live agents ordered by name. Expired entries
// are pruned.
func (r *Registry) Online(tenantID string) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := make([]Agent, 0)

	for id, agent := range r.agents {
		if !r.fresh(agent) {
			delete(r.agents, id)

			continue
		}

		if agent.TenantID == tenantID {
			online = append(online, agent)
		}
	}

	sort.Slice(online, func(a, b int) bool {
		if online[a].Name == online[b].Name {
			return online[a].ID < online[b].ID
		}

		return online[a].Name < online[b].Name
	})

	return online
}

func (r *Registry) fresh(agent Agent) bool {
	return r.now().Sub(agent.LastSeen) <= r.ttl
}
