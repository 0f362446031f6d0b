package domain

import (
	"context"
	"time"
)

// ToolDefinition is the static metadata and input schema of a tool.
type ToolDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Category    string         `json:"category,omitempty" yaml:"category"`
	Permissions []string       `json:"permissions,omitempty" yaml:"permissions"`
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema"`
}

// ToolContext is passed to a tool implementation.
type ToolContext struct {
	TaskID           string         `json:"task_id,omitempty"`
	AgentID          string         `json:"agent_id"`
	WorkingDirectory string         `json:"working_directory,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ToolFunc implements a tool.
type ToolFunc func(ctx context.Context, input any, tc ToolContext) (any, error)

// ToolCall requests one tool invocation.
type ToolCall struct {
	ToolID string `json:"tool_id"`
	Input  any    `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool invocation. Tool errors never escape as Go errors.
type ToolResult struct {
	Success bool      `json:"success"`
	Output  any       `json:"output,omitempty"`
	Error   string    `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

// RegisteredTool is a registry entry.
type RegisteredTool struct {
	Definition   ToolDefinition `json:"definition"`
	Func         ToolFunc       `json:"-"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// ToolStats summarises the tool registry.
type ToolStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
}
