// Package multiagent keeps the set of agents the orchestrator can run tasks on.
package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agentcore/internal/domain"
)

const destroyTimeout = 10 * time.Second

// Registry holds all registered agents keyed by descriptor ID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.RegisteredAgent
	logger *slog.Logger
	now    func() time.Time

	// destroyWG tracks in-flight Destroy hooks so tests and shutdown can wait.
	destroyWG sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*domain.RegisteredAgent),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds an agent. An existing entry with the same ID is replaced and
// a warning is logged. If impl implements domain.AgentInitializer, Init runs
// first and its error aborts the registration.
func (r *Registry) Register(ctx context.Context, desc domain.AgentDescriptor, impl domain.Agent) error {
	if desc.ID == "" {
		return domain.NewSubSystemError("agent", "Registry.Register", domain.ErrInvalidInput, "descriptor id is required")
	}
	if initer, ok := impl.(domain.AgentInitializer); ok {
		if err := initer.Init(ctx); err != nil {
			return domain.WrapOp("Registry.Register", fmt.Errorf("init agent %q: %w", desc.ID, err))
		}
	}

	entry := &domain.RegisteredAgent{
		Descriptor:   desc.Clone(),
		Impl:         impl,
		RegisteredAt: r.now(),
	}

	r.mu.Lock()
	_, replaced := r.agents[desc.ID]
	r.agents[desc.ID] = entry
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("agent replaced", "agent_id", desc.ID, "name", desc.Name)
	} else {
		r.logger.Info("agent registered", "agent_id", desc.ID, "name", desc.Name)
	}
	return nil
}

// Unregister removes an agent and reports whether it was present. The
// agent's Destroy hook runs in the background; its failure is only logged.
func (r *Registry) Unregister(agentID string) bool {
	r.mu.Lock()
	entry, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.destroy(entry)
	r.logger.Info("agent removed", "agent_id", agentID)
	return true
}

func (r *Registry) destroy(entry *domain.RegisteredAgent) {
	d, ok := entry.Impl.(domain.AgentDestroyer)
	if !ok {
		return
	}
	id := entry.Descriptor.ID
	r.destroyWG.Add(1)
	go func() {
		defer r.destroyWG.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("agent destroy panicked", "agent_id", id, "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
		defer cancel()
		if err := d.Destroy(ctx); err != nil {
			r.logger.Warn("agent destroy failed", "agent_id", id, "error", err)
		}
	}()
}

// WaitDestroyed blocks until every Destroy hook started so far has returned.
func (r *Registry) WaitDestroyed() {
	r.destroyWG.Wait()
}

// Get returns a snapshot of the entry for agentID.
func (r *Registry) Get(agentID string) (domain.RegisteredAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agentID]
	if !ok {
		return domain.RegisteredAgent{}, domain.NewSubSystemError("agent", "Registry.Get", domain.ErrNotFound, agentID)
	}
	snap := *entry
	snap.Descriptor = entry.Descriptor.Clone()
	return snap, nil
}

// Descriptor returns a copy of the agent's descriptor.
func (r *Registry) Descriptor(agentID string) (domain.AgentDescriptor, error) {
	entry, err := r.Get(agentID)
	if err != nil {
		return domain.AgentDescriptor{}, err
	}
	return entry.Descriptor, nil
}

// Impl returns the agent implementation.
func (r *Registry) Impl(agentID string) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewSubSystemError("agent", "Registry.Impl", domain.ErrNotFound, agentID)
	}
	return entry.Impl, nil
}

// Has reports whether agentID is registered.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Descriptors returns every descriptor, sorted by ID.
func (r *Registry) Descriptors() []domain.AgentDescriptor {
	return r.filter(func(domain.AgentDescriptor) bool { return true })
}

// Enabled returns the descriptors of agents that accept tasks.
func (r *Registry) Enabled() []domain.AgentDescriptor {
	return r.filter(domain.AgentDescriptor.IsEnabled)
}

// ByCategory returns the agents in category. Uncategorized agents belong to
// domain.DefaultCategory.
func (r *Registry) ByCategory(category string) []domain.AgentDescriptor {
	return r.filter(func(d domain.AgentDescriptor) bool {
		return d.CategoryOrDefault() == category
	})
}

// WithCapability returns the agents declaring a capability of capType.
func (r *Registry) WithCapability(capType string) []domain.AgentDescriptor {
	return r.filter(func(d domain.AgentDescriptor) bool {
		return d.HasCapability(capType)
	})
}

func (r *Registry) filter(keep func(domain.AgentDescriptor) bool) []domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentDescriptor, 0, len(r.agents))
	for _, entry := range r.agents {
		if keep(entry.Descriptor) {
			out = append(out, entry.Descriptor.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled flips the enabled flag. Returns false if agentID is unknown.
func (r *Registry) SetEnabled(agentID string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[agentID]
	if !ok {
		return false
	}
	entry.Descriptor.Enabled = &enabled
	r.logger.Info("agent enabled flag changed", "agent_id", agentID, "enabled", enabled)
	return true
}

// UpdateConfig shallow-merges patch into the descriptor config.
// Returns false if agentID is unknown.
func (r *Registry) UpdateConfig(agentID string, patch map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[agentID]
	if !ok {
		return false
	}
	if entry.Descriptor.Config == nil {
		entry.Descriptor.Config = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		entry.Descriptor.Config[k] = v
	}
	return true
}

// Stats counts agents in total, enabled, and per category.
func (r *Registry) Stats() domain.AgentStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.AgentStats{
		Total:      len(r.agents),
		ByCategory: make(map[string]int),
	}
	for _, entry := range r.agents {
		if entry.Descriptor.IsEnabled() {
			stats.Enabled++
		}
		stats.ByCategory[entry.Descriptor.CategoryOrDefault()]++
	}
	return stats
}

// Clear destroys and removes every agent.
func (r *Registry) Clear() {
	r.mu.Lock()
	entries := make([]*domain.RegisteredAgent, 0, len(r.agents))
	for _, entry := range r.agents {
		entries = append(entries, entry)
	}
	r.agents = make(map[string]*domain.RegisteredAgent)
	r.mu.Unlock()

	for _, entry := range entries {
		r.destroy(entry)
	}
	if len(entries) > 0 {
		r.logger.Info("agent registry cleared", "count", len(entries))
	}
}
