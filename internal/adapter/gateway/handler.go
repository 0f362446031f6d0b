package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/usecase/orchestrator"
)

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Manager *orchestrator.Manager
	Bus     domain.EventBus // Manager bus, feeds the metrics counters; can be nil
}

// declarativeAgent backs agents registered over the wire. It exposes no
// hooks, so every task kind uses the inference fallback.
type declarativeAgent struct{}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	m := deps.Manager

	s.RegisterHandler("agent.register", agentRegisterHandler(m))
	s.RegisterHandler("agent.unregister", agentUnregisterHandler(m))
	s.RegisterHandler("agent.get", agentGetHandler(m))
	s.RegisterHandler("agent.list", agentListHandler(m))
	s.RegisterHandler("agent.available", agentAvailableHandler(m))
	s.RegisterHandler("agent.enable", agentEnableHandler(m))
	s.RegisterHandler("agent.config", agentConfigHandler(m))

	s.RegisterHandler("task.execute", taskExecuteHandler(m))
	s.RegisterHandler("task.executeImmediate", taskExecuteImmediateHandler(m))
	s.RegisterHandler("task.plan", taskPlanHandler(m))
	s.RegisterHandler("task.chat", taskChatHandler(m))
	s.RegisterHandler("task.cancel", taskCancelHandler(m))
	s.RegisterHandler("task.status", taskStatusHandler(m))
	s.RegisterHandler("task.priority", taskPriorityHandler(m))

	s.RegisterHandler("tool.list", toolListHandler(m))
	s.RegisterHandler("tool.get", toolGetHandler(m))
	s.RegisterHandler("tool.execute", toolExecuteHandler(m))
	s.RegisterHandler("tool.unregister", toolUnregisterHandler(m))

	s.RegisterHandler("scheduler.concurrency", concurrencyHandler(m))
	s.RegisterHandler("stats.get", statsHandler(m))
}

// decode unmarshals payload into v. An empty payload is rejected.
func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return domain.NewDomainError("gateway.decode", domain.ErrRPCInvalidPayload, "empty payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return domain.NewDomainError("gateway.decode", domain.ErrRPCInvalidPayload, err.Error())
	}
	return nil
}

func missing(field string) error {
	return domain.NewDomainError("gateway.decode", domain.ErrRPCInvalidPayload, "missing "+field)
}

type okResponse struct {
	OK bool `json:"ok"`
}

// --- agents ---

type agentIDRequest struct {
	AgentID string `json:"agent_id"`
}

func (r agentIDRequest) validate() error {
	if r.AgentID == "" {
		return missing("agent_id")
	}
	return nil
}

func agentRegisterHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var desc domain.AgentDescriptor
		if err := decode(payload, &desc); err != nil {
			return nil, err
		}
		if desc.ID == "" {
			return nil, missing("id")
		}
		if desc.Name == "" {
			desc.Name = desc.ID
		}
		if err := m.RegisterAgent(ctx, desc, declarativeAgent{}); err != nil {
			return nil, err
		}
		return okResponse{OK: true}, nil
	}
}

func agentUnregisterHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req agentIDRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := req.validate(); err != nil {
			return nil, err
		}
		return okResponse{OK: m.UnregisterAgent(req.AgentID)}, nil
	}
}

func agentGetHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req agentIDRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := req.validate(); err != nil {
			return nil, err
		}
		return m.GetAgent(req.AgentID)
	}
}

func agentListHandler(m *orchestrator.Manager) RPCHandler {
	return func(context.Context, *Call, json.RawMessage) (any, error) {
		return m.GetAllAgents(), nil
	}
}

func agentAvailableHandler(m *orchestrator.Manager) RPCHandler {
	return func(context.Context, *Call, json.RawMessage) (any, error) {
		return m.GetAvailableAgents(), nil
	}
}

type agentEnableRequest struct {
	AgentID string `json:"agent_id"`
	Enabled bool   `json:"enabled"`
}

func agentEnableHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req agentEnableRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.AgentID == "" {
			return nil, missing("agent_id")
		}
		return okResponse{OK: m.SetAgentEnabled(req.AgentID, req.Enabled)}, nil
	}
}

type agentConfigRequest struct {
	AgentID string         `json:"agent_id"`
	Config  map[string]any `json:"config"`
}

func agentConfigHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req agentConfigRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.AgentID == "" {
			return nil, missing("agent_id")
		}
		return okResponse{OK: m.UpdateAgentConfig(req.AgentID, req.Config)}, nil
	}
}

// --- tasks ---

// taskRequest is the wire form of a task. Timeouts travel in milliseconds.
type taskRequest struct {
	ID        string              `json:"id,omitempty"`
	AgentID   string              `json:"agent_id"`
	Type      domain.TaskKind     `json:"type"`
	Input     any                 `json:"input,omitempty"`
	Context   *domain.TaskContext `json:"context,omitempty"`
	TimeoutMs int64               `json:"timeout_ms,omitempty"`
	Priority  *int                `json:"priority,omitempty"`
}

func (r taskRequest) task() domain.Task {
	return domain.Task{
		ID:       r.ID,
		AgentID:  r.AgentID,
		Kind:     r.Type,
		Input:    r.Input,
		Context:  r.Context,
		Timeout:  time.Duration(r.TimeoutMs) * time.Millisecond,
		Priority: r.Priority,
	}
}

func decodeTask(payload json.RawMessage) (domain.Task, error) {
	var req taskRequest
	if err := decode(payload, &req); err != nil {
		return domain.Task{}, err
	}
	if req.AgentID == "" {
		return domain.Task{}, missing("agent_id")
	}
	return req.task(), nil
}

type taskIDResponse struct {
	TaskID string `json:"task_id"`
}

func taskExecuteHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, _ *Call, payload json.RawMessage) (any, error) {
		task, err := decodeTask(payload)
		if err != nil {
			return nil, err
		}
		id, err := m.ExecuteTask(ctx, task)
		if err != nil {
			return nil, err
		}
		return taskIDResponse{TaskID: id}, nil
	}
}

func taskExecuteImmediateHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, _ *Call, payload json.RawMessage) (any, error) {
		task, err := decodeTask(payload)
		if err != nil {
			return nil, err
		}
		return m.ExecuteTaskImmediate(ctx, task)
	}
}

type planResponse struct {
	Plan any `json:"plan"`
}

func taskPlanHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, _ *Call, payload json.RawMessage) (any, error) {
		task, err := decodeTask(payload)
		if err != nil {
			return nil, err
		}
		plan, err := m.PlanTask(ctx, task)
		if err != nil {
			return nil, err
		}
		return planResponse{Plan: plan}, nil
	}
}

type chatRequest struct {
	AgentID string              `json:"agent_id"`
	Input   any                 `json:"input"`
	Context *domain.TaskContext `json:"context,omitempty"`
}

type chatChunk struct {
	Content string `json:"content"`
}

type chatResponse struct {
	Content string `json:"content"`
	Chunks  int    `json:"chunks"`
}

// taskChatHandler streams each reply piece as a chunk frame and answers with
// the assembled reply.
func taskChatHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, call *Call, payload json.RawMessage) (any, error) {
		var req chatRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.AgentID == "" {
			return nil, missing("agent_id")
		}

		chunks, err := m.Chat(ctx, req.AgentID, req.Input, req.Context)
		if err != nil {
			return nil, err
		}

		var full strings.Builder
		n := 0
		for chunk := range chunks {
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if err := call.Stream(ctx, chatChunk{Content: chunk.Content}); err != nil {
				return nil, err
			}
			full.WriteString(chunk.Content)
			n++
		}
		return chatResponse{Content: full.String(), Chunks: n}, nil
	}
}

type taskIDRequest struct {
	TaskID string `json:"task_id"`
}

func decodeTaskID(payload json.RawMessage) (string, error) {
	var req taskIDRequest
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	if req.TaskID == "" {
		return "", missing("task_id")
	}
	return req.TaskID, nil
}

func taskCancelHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		id, err := decodeTaskID(payload)
		if err != nil {
			return nil, err
		}
		return okResponse{OK: m.CancelTask(id)}, nil
	}
}

type taskStatusResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

func taskStatusHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		id, err := decodeTaskID(payload)
		if err != nil {
			return nil, err
		}
		return taskStatusResponse{TaskID: id, Status: m.GetTaskStatus(id)}, nil
	}
}

type taskPriorityRequest struct {
	TaskID   string `json:"task_id"`
	Priority *int   `json:"priority"`
}

func taskPriorityHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req taskPriorityRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.TaskID == "" {
			return nil, missing("task_id")
		}
		if req.Priority == nil {
			return nil, missing("priority")
		}
		return okResponse{OK: m.UpdateTaskPriority(req.TaskID, *req.Priority)}, nil
	}
}

// --- tools ---

type toolIDRequest struct {
	ToolID string `json:"tool_id"`
}

func decodeToolID(payload json.RawMessage) (string, error) {
	var req toolIDRequest
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	if req.ToolID == "" {
		return "", missing("tool_id")
	}
	return req.ToolID, nil
}

func toolListHandler(m *orchestrator.Manager) RPCHandler {
	return func(context.Context, *Call, json.RawMessage) (any, error) {
		return m.GetTools(), nil
	}
}

func toolGetHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		id, err := decodeToolID(payload)
		if err != nil {
			return nil, err
		}
		return m.GetTool(id)
	}
}

type toolExecuteRequest struct {
	ToolID  string             `json:"tool_id"`
	Input   any                `json:"input"`
	Context domain.ToolContext `json:"context"`
}

func toolExecuteHandler(m *orchestrator.Manager) RPCHandler {
	return func(ctx context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req toolExecuteRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.ToolID == "" {
			return nil, missing("tool_id")
		}
		return m.ExecuteTool(ctx, req.ToolID, req.Input, req.Context), nil
	}
}

func toolUnregisterHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		id, err := decodeToolID(payload)
		if err != nil {
			return nil, err
		}
		return okResponse{OK: m.UnregisterTool(id)}, nil
	}
}

// --- scheduler & stats ---

type concurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent"`
}

type concurrencyResponse struct {
	MaxConcurrent int `json:"max_concurrent"`
}

func concurrencyHandler(m *orchestrator.Manager) RPCHandler {
	return func(_ context.Context, _ *Call, payload json.RawMessage) (any, error) {
		var req concurrencyRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return concurrencyResponse{MaxConcurrent: m.AdjustConcurrency(req.MaxConcurrent)}, nil
	}
}

func statsHandler(m *orchestrator.Manager) RPCHandler {
	return func(context.Context, *Call, json.RawMessage) (any, error) {
		return m.GetStats(), nil
	}
}
