package domain

import (
	"context"
	"time"
)

// TaskKind is the closed set of work a task can request.
type TaskKind string

const (
	TaskExecute TaskKind = "execute"
	TaskPlan    TaskKind = "plan"
	TaskChat    TaskKind = "chat"
)

// Valid reports whether k is one of the known kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskExecute, TaskPlan, TaskChat:
		return true
	}
	return false
}

// DefaultPriority applies to tasks submitted without a priority. Lower runs earlier.
const DefaultPriority = 5

// TaskContext carries optional caller context into an execution.
type TaskContext struct {
	SessionID        string         `json:"session_id,omitempty"`
	WorkingDirectory string         `json:"working_directory,omitempty"`
	Messages         []Message      `json:"messages,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Task is a unit of work submitted by a caller.
type Task struct {
	ID       string        `json:"id,omitempty"`
	AgentID  string        `json:"agent_id"`
	Kind     TaskKind      `json:"type"`
	Input    any           `json:"input,omitempty"`
	Context  *TaskContext  `json:"context,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Priority *int          `json:"priority,omitempty"`
}

// EffectivePriority returns the task priority or DefaultPriority.
func (t Task) EffectivePriority() int {
	if t.Priority == nil {
		return DefaultPriority
	}
	return *t.Priority
}

// Priority returns a pointer to p for use in Task literals.
func Priority(p int) *int { return &p }

// TaskStatus is the state reported for a task or a result.
type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// TraceStepType classifies a trace step.
type TraceStepType string

const (
	TraceThought  TraceStepType = "thought"
	TraceOutput   TraceStepType = "output"
	TraceToolCall TraceStepType = "tool_call"
)

// TraceStep is one instrumentation record appended during an execution.
type TraceStep struct {
	Type      TraceStepType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Content   string        `json:"content"`
}

// Usage reports the cost of one execution.
type Usage struct {
	TokenUsage
	ToolCalls  int   `json:"tool_calls"`
	DurationMs int64 `json:"duration"`
}

// Result is the outcome of one execution.
type Result struct {
	Success   bool        `json:"success"`
	TaskID    string      `json:"task_id"`
	AgentID   string      `json:"agent_id"`
	Output    any         `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      ErrorCode   `json:"code,omitempty"`
	Status    TaskStatus  `json:"status"`
	Trace     []TraceStep `json:"trace,omitempty"`
	Usage     *Usage      `json:"usage,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PlanStep is one step of a plan.
type PlanStep struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ToolID      string   `json:"tool_id,omitempty"`
	Input       any      `json:"input,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Plan is the output of a fallback "plan" task.
type Plan struct {
	TaskID    string     `json:"task_id"`
	AgentID   string     `json:"agent_id"`
	Steps     []PlanStep `json:"steps"`
	CreatedAt time.Time  `json:"created_at"`
}

// ExecutionContext is handed to agent hooks for one execution.
type ExecutionContext struct {
	TaskID           string
	AgentID          string
	SessionID        string
	WorkingDirectory string
	Messages         []Message
	Metadata         map[string]any
	Token            *CancelToken

	// OnProgress and OnToolCall are wired by the executor. Either may be nil.
	OnProgress func(data map[string]any)
	OnToolCall func(ctx context.Context, call ToolCall) ToolResult
}

// ReportProgress publishes a task:progress event for this execution.
func (ec *ExecutionContext) ReportProgress(data map[string]any) {
	if ec == nil || ec.OnProgress == nil {
		return
	}
	ec.OnProgress(data)
}

// CallTool runs a registered tool on behalf of the agent.
func (ec *ExecutionContext) CallTool(ctx context.Context, toolID string, input any) ToolResult {
	if ec == nil || ec.OnToolCall == nil {
		return ToolResult{Success: false, Error: NewToolNotFoundError("ExecutionContext.CallTool", toolID).Error()}
	}
	return ec.OnToolCall(ctx, ToolCall{ToolID: toolID, Input: input})
}

// Cancelled reports whether the execution's token has fired.
func (ec *ExecutionContext) Cancelled() bool {
	return ec != nil && ec.Token != nil && ec.Token.IsCancelled()
}
