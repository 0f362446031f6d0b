package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTaskQueued    EventType = "task:queued"
	EventTaskStarted   EventType = "task:started"
	EventTaskProgress  EventType = "task:progress"
	EventTaskCompleted EventType = "task:completed"
	EventTaskFailed    EventType = "task:failed"
	EventTaskCancelled EventType = "task:cancelled"

	EventAgentRegistered   EventType = "agent:registered"
	EventAgentUnregistered EventType = "agent:unregistered"

	EventToolRegistered   EventType = "tool:registered"
	EventToolUnregistered EventType = "tool:unregistered"

	// Recurring submissions.
	EventRecurringFired EventType = "recurring:fired"
)

// Event is the envelope published on the event bus. Only the fields relevant
// to Type are set.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`
	Result    *Result        `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
