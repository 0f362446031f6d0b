package domain

import (
	"context"
	"strconv"
	"time"
)

// DefaultCategory buckets agents that declare no category.
const DefaultCategory = "custom"

// Capability advertises one kind of work an agent accepts.
type Capability struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// AgentDescriptor is the static metadata of a registered agent.
type AgentDescriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	Version      string         `json:"version,omitempty" yaml:"version"`
	Category     string         `json:"category,omitempty" yaml:"category"`
	Capabilities []Capability   `json:"capabilities,omitempty" yaml:"capabilities"`
	Tools        []string       `json:"tools,omitempty" yaml:"tools"`
	Enabled      *bool          `json:"enabled,omitempty" yaml:"enabled"`
	Config       map[string]any `json:"config,omitempty" yaml:"config"`
}

// IsEnabled reports whether the agent accepts tasks. A nil Enabled counts as enabled.
func (d AgentDescriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// HasCapability reports whether the descriptor lists a capability of the given type.
func (d AgentDescriptor) HasCapability(capType string) bool {
	for _, c := range d.Capabilities {
		if c.Type == capType {
			return true
		}
	}
	return false
}

// CategoryOrDefault returns the category, or DefaultCategory when unset.
func (d AgentDescriptor) CategoryOrDefault() string {
	if d.Category == "" {
		return DefaultCategory
	}
	return d.Category
}

// Timeout reads config["timeout"]. Numbers are milliseconds, strings are Go
// durations. The second return is false when no usable value is set.
func (d AgentDescriptor) Timeout() (time.Duration, bool) {
	v, ok := d.Config["timeout"]
	if !ok || v == nil {
		return 0, false
	}
	var dur time.Duration
	switch t := v.(type) {
	case time.Duration:
		dur = t
	case int:
		dur = time.Duration(t) * time.Millisecond
	case int64:
		dur = time.Duration(t) * time.Millisecond
	case float64:
		dur = time.Duration(t * float64(time.Millisecond))
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			ms, convErr := strconv.ParseInt(t, 10, 64)
			if convErr != nil {
				return 0, false
			}
			parsed = time.Duration(ms) * time.Millisecond
		}
		dur = parsed
	default:
		return 0, false
	}
	if dur <= 0 {
		return 0, false
	}
	return dur, true
}

// Clone returns a copy whose slices and config map can be mutated independently.
func (d AgentDescriptor) Clone() AgentDescriptor {
	out := d
	if d.Capabilities != nil {
		out.Capabilities = append([]Capability(nil), d.Capabilities...)
	}
	if d.Tools != nil {
		out.Tools = append([]string(nil), d.Tools...)
	}
	if d.Enabled != nil {
		enabled := *d.Enabled
		out.Enabled = &enabled
	}
	if d.Config != nil {
		out.Config = make(map[string]any, len(d.Config))
		for k, v := range d.Config {
			out.Config[k] = v
		}
	}
	return out
}

// Agent is the behaviour bound to a descriptor. Every capability is an
// optional interface below; an Agent that implements none of them is served
// entirely by the inference fallback.
type Agent interface{}

// AgentExecutor is the custom "execute" hook.
type AgentExecutor interface {
	Execute(ctx context.Context, input any, ec *ExecutionContext) (any, error)
}

// AgentPlanner is the custom "plan" hook.
type AgentPlanner interface {
	Plan(ctx context.Context, input any, ec *ExecutionContext) (any, error)
}

// AgentChatter is the streaming "chat" hook. The returned channel is closed
// by the agent when the reply is complete.
type AgentChatter interface {
	Chat(ctx context.Context, input any, ec *ExecutionContext) (<-chan ChatChunk, error)
}

// AgentInitializer runs once when the agent is registered.
type AgentInitializer interface {
	Init(ctx context.Context) error
}

// AgentDestroyer releases agent resources on unregistration.
type AgentDestroyer interface {
	Destroy(ctx context.Context) error
}

// ChatChunk is one piece of a streamed chat reply. A chunk with Err set ends the stream.
type ChatChunk struct {
	Content string `json:"content,omitempty"`
	Err     error  `json:"-"`
}

// RegisteredAgent is a registry entry.
type RegisteredAgent struct {
	Descriptor   AgentDescriptor `json:"descriptor"`
	Impl         Agent           `json:"-"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// AgentStats summarises the agent registry.
type AgentStats struct {
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	ByCategory map[string]int `json:"by_category"`
}
