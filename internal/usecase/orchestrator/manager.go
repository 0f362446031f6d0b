// Package orchestrator exposes the agent registry, tool registry, executor and
// scheduler behind a single Manager.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agentcore/internal/adapter/tool"
	"agentcore/internal/domain"
	"agentcore/internal/usecase/executor"
	"agentcore/internal/usecase/multiagent"
	"agentcore/internal/usecase/scheduler"
)

// forwardedEvents are re-published from the scheduler bus on the Manager bus.
var forwardedEvents = []domain.EventType{
	domain.EventTaskQueued,
	domain.EventTaskStarted,
	domain.EventTaskProgress,
	domain.EventTaskCompleted,
	domain.EventTaskFailed,
	domain.EventTaskCancelled,
}

// Deps are the components a Manager composes. SchedulerBus is the bus the
// Scheduler publishes on; Bus is the one consumers subscribe to. Task events
// keep their per-task order on Bus only when Bus dispatches in order
// (eventbus.WithOrderedDispatch).
type Deps struct {
	Agents       *multiagent.Registry
	Tools        *tool.Registry
	Executor     *executor.Executor
	Scheduler    *scheduler.Scheduler
	SchedulerBus domain.EventBus
	Bus          domain.EventBus
}

// Stats aggregates the component counters.
type Stats struct {
	Agents    domain.AgentStats `json:"agents"`
	Scheduler scheduler.Stats   `json:"scheduler"`
	Tools     domain.ToolStats  `json:"tools"`
}

// Manager is the facade callers and transports talk to.
type Manager struct {
	agents   *multiagent.Registry
	tools    *tool.Registry
	exec     *executor.Executor
	sched    *scheduler.Scheduler
	schedBus domain.EventBus
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	initialized bool
	unsubs      []func()
}

// New creates an uninitialized Manager. Task operations fail with
// ErrManagerNotInitialized until Init is called.
func New(logger *slog.Logger, deps Deps) *Manager {
	return &Manager{
		agents:   deps.Agents,
		tools:    deps.Tools,
		exec:     deps.Executor,
		sched:    deps.Scheduler,
		schedBus: deps.SchedulerBus,
		bus:      deps.Bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Init binds the inference provider, points the scheduler at the executor
// and starts forwarding scheduler events. p may be nil, in which case only
// agents with custom hooks can succeed. Repeat calls log a warning and do
// nothing.
func (m *Manager) Init(p domain.InferenceProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.logger.Warn("manager already initialized")
		return
	}

	m.exec.SetInference(p)
	m.exec.SetProgressHandler(m.sched.ReportProgress)
	m.sched.SetAdmitFunc(m.exec.Reserve)
	m.sched.SetRunFunc(m.exec.ExecuteTask)

	if m.schedBus != nil && m.bus != nil {
		for _, kind := range forwardedEvents {
			m.unsubs = append(m.unsubs, m.schedBus.Subscribe(kind, m.forward))
		}
	}

	m.initialized = true
	m.logger.Info("manager initialized", "inference", p != nil)
}

// Shutdown drops queued tasks, empties both registries and returns the
// Manager to the uninitialized state. Active tasks keep running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := m.sched.ClearQueue()
	m.agents.Clear()
	m.tools.Clear()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.initialized = false
	m.logger.Info("manager shut down", "dropped_tasks", dropped)
}

// Initialized reports whether Init has been called since the last Shutdown.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Events returns the bus carrying task, agent and tool events.
func (m *Manager) Events() domain.EventBus {
	return m.bus
}

// RegisterAgent adds or replaces an agent.
func (m *Manager) RegisterAgent(ctx context.Context, desc domain.AgentDescriptor, impl domain.Agent) error {
	if err := m.agents.Register(ctx, desc, impl); err != nil {
		return err
	}
	m.publish(ctx, domain.Event{Type: domain.EventAgentRegistered, AgentID: desc.ID})
	return nil
}

// UnregisterAgent removes an agent and reports whether it existed.
func (m *Manager) UnregisterAgent(id string) bool {
	if !m.agents.Unregister(id) {
		return false
	}
	m.publish(context.Background(), domain.Event{Type: domain.EventAgentUnregistered, AgentID: id})
	return true
}

// GetAgent returns the descriptor of a registered agent.
func (m *Manager) GetAgent(id string) (domain.AgentDescriptor, error) {
	desc, err := m.agents.Descriptor(id)
	if err != nil {
		return domain.AgentDescriptor{}, domain.NewAgentNotFoundError("Manager.GetAgent", id)
	}
	return desc, nil
}

// GetAvailableAgents returns the enabled agents.
func (m *Manager) GetAvailableAgents() []domain.AgentDescriptor {
	return m.agents.Enabled()
}

// GetAllAgents returns every registered agent.
func (m *Manager) GetAllAgents() []domain.AgentDescriptor {
	return m.agents.Descriptors()
}

// SetAgentEnabled toggles an agent and reports whether it exists.
func (m *Manager) SetAgentEnabled(id string, enabled bool) bool {
	return m.agents.SetEnabled(id, enabled)
}

// UpdateAgentConfig merges patch into the agent's config.
func (m *Manager) UpdateAgentConfig(id string, patch map[string]any) bool {
	return m.agents.UpdateConfig(id, patch)
}

// RegisterTool adds or replaces a tool.
func (m *Manager) RegisterTool(def domain.ToolDefinition, fn domain.ToolFunc) error {
	if err := m.tools.Register(def, fn); err != nil {
		return err
	}
	m.publish(context.Background(), domain.Event{Type: domain.EventToolRegistered, ToolID: def.ID})
	return nil
}

// UnregisterTool removes a tool and reports whether it existed.
func (m *Manager) UnregisterTool(id string) bool {
	if !m.tools.Unregister(id) {
		return false
	}
	m.publish(context.Background(), domain.Event{Type: domain.EventToolUnregistered, ToolID: id})
	return true
}

// GetTools lists every tool definition.
func (m *Manager) GetTools() []domain.ToolDefinition {
	return m.tools.List()
}

// GetTool returns one tool definition.
func (m *Manager) GetTool(id string) (domain.ToolDefinition, error) {
	t, err := m.tools.Get(id)
	if err != nil {
		return domain.ToolDefinition{}, domain.NewToolNotFoundError("Manager.GetTool", id)
	}
	return t.Definition, nil
}

// ExecuteTool runs a tool directly, outside any task.
func (m *Manager) ExecuteTool(ctx context.Context, id string, input any, tc domain.ToolContext) domain.ToolResult {
	return m.tools.Execute(ctx, id, input, tc)
}

// ExecuteTask validates the agent and queues task. It returns the task ID.
func (m *Manager) ExecuteTask(ctx context.Context, task domain.Task) (string, error) {
	const op = "Manager.ExecuteTask"
	if err := m.requireInit(op); err != nil {
		return "", err
	}
	if !m.agents.Has(task.AgentID) {
		return "", domain.NewAgentNotFoundError(op, task.AgentID)
	}
	return m.sched.Enqueue(task)
}

// ExecuteTaskImmediate runs task now, bypassing the queue.
func (m *Manager) ExecuteTaskImmediate(ctx context.Context, task domain.Task) (domain.Result, error) {
	if err := m.requireInit("Manager.ExecuteTaskImmediate"); err != nil {
		return domain.Result{}, err
	}
	return m.exec.ExecuteTask(ctx, task), nil
}

// PlanTask runs task as a plan immediately and returns the plan output. An
// unsuccessful result is returned as an error.
func (m *Manager) PlanTask(ctx context.Context, task domain.Task) (any, error) {
	const op = "Manager.PlanTask"
	task.Kind = domain.TaskPlan
	res, err := m.ExecuteTaskImmediate(ctx, task)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, domain.ResultError(op, res)
	}
	return res.Output, nil
}

// Chat streams the agent's reply to input. Prior conversation goes in
// tc.Messages.
func (m *Manager) Chat(ctx context.Context, agentID string, input any, tc *domain.TaskContext) (<-chan domain.ChatChunk, error) {
	if err := m.requireInit("Manager.Chat"); err != nil {
		return nil, err
	}
	return m.exec.StreamChat(ctx, domain.Task{AgentID: agentID, Kind: domain.TaskChat, Input: input, Context: tc})
}

// CancelTask removes a queued task or cancels a running one. A task is
// cancellable from the moment it is admitted, including from a task:started
// subscriber, because admission reserves its cancel token.
func (m *Manager) CancelTask(id string) bool {
	if m.sched.CancelQueued(id) {
		return true
	}
	return m.exec.CancelTask(id)
}

// GetTaskStatus reports running, idle or completed. Immediate executions
// count as running while in flight.
func (m *Manager) GetTaskStatus(id string) domain.TaskStatus {
	if m.exec.Running(id) {
		return domain.StatusRunning
	}
	return m.sched.TaskStatus(id)
}

// UpdateTaskPriority re-ranks a queued task.
func (m *Manager) UpdateTaskPriority(id string, priority int) bool {
	return m.sched.UpdatePriority(id, priority)
}

// AdjustConcurrency changes the scheduler bound and returns the applied value.
func (m *Manager) AdjustConcurrency(n int) int {
	return m.sched.AdjustConcurrency(n)
}

// GetStats returns counters from every component.
func (m *Manager) GetStats() Stats {
	return Stats{
		Agents:    m.agents.Stats(),
		Scheduler: m.sched.Stats(),
		Tools:     m.tools.Stats(),
	}
}

func (m *Manager) requireInit(op string) error {
	if !m.Initialized() {
		return domain.NewDomainError(op, domain.ErrManagerNotInitialized, "")
	}
	return nil
}

func (m *Manager) forward(ctx context.Context, ev domain.Event) {
	m.bus.Publish(ctx, ev)
}

func (m *Manager) publish(ctx context.Context, ev domain.Event) {
	if m.bus == nil {
		return
	}
	ev.Timestamp = m.now()
	m.bus.Publish(ctx, ev)
}
