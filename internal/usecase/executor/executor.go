// Package executor runs a single task against a registered agent.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentcore/internal/domain"
	"agentcore/internal/infra/tracer"
)

// DefaultTimeout applies when neither the task nor the agent sets one.
const DefaultTimeout = 60 * time.Second

// AgentLookup resolves agents by ID.
type AgentLookup interface {
	Get(agentID string) (domain.RegisteredAgent, error)
}

// ToolRegistry runs tools and lists the ones an agent may use.
type ToolRegistry interface {
	Execute(ctx context.Context, toolID string, input any, tc domain.ToolContext) domain.ToolResult
	ForAgent(ids []string) []domain.ToolDefinition
}

// ProgressFunc receives progress reported by a running agent.
type ProgressFunc func(taskID, agentID string, data map[string]any)

// Config holds executor settings.
type Config struct {
	DefaultTimeout  time.Duration
	ModelPreference []string
	Strategy        string
}

// Executor runs tasks to completion. Every per-task failure is reported in
// the returned Result.
type Executor struct {
	agents AgentLookup
	tools  ToolRegistry
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu        sync.RWMutex
	inference domain.InferenceProvider
	progress  ProgressFunc
	tokens    map[string]*domain.CancelToken
}

// New creates an Executor. tools may be nil when no tool registry is wired.
func New(agents AgentLookup, tools ToolRegistry, logger *slog.Logger, cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.StrategyAdaptive
	}
	return &Executor{
		agents: agents,
		tools:  tools,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		tokens: make(map[string]*domain.CancelToken),
	}
}

// SetInference binds the provider used by the fallback paths.
func (e *Executor) SetInference(p domain.InferenceProvider) {
	e.mu.Lock()
	e.inference = p
	e.mu.Unlock()
}

// SetProgressHandler binds the sink for ExecutionContext.ReportProgress.
func (e *Executor) SetProgressHandler(fn ProgressFunc) {
	e.mu.Lock()
	e.progress = fn
	e.mu.Unlock()
}

// ExecuteTask runs task and returns its Result. The call blocks until the
// agent finishes, the effective timeout elapses or CancelTask fires.
func (e *Executor) ExecuteTask(ctx context.Context, task domain.Task) domain.Result {
	const op = "Executor.ExecuteTask"

	start := e.now()
	if task.ID == "" {
		task.ID = domain.NewTaskID(start)
	}
	rec := newRecorder(e.now)

	reserved := e.claim(task.ID)
	if reserved != nil {
		defer e.untrack(task.ID, reserved)
		defer reserved.Release()
	}

	ctx, span := tracer.StartSpan(ctx, "task.execute",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
			tracer.StringAttr("agent.id", task.AgentID),
			tracer.StringAttr("task.type", string(task.Kind)),
		),
	)
	defer span.End()

	entry, err := e.agents.Get(task.AgentID)
	if err != nil {
		return e.failed(span, task, start, rec, domain.NewAgentNotFoundError(op, task.AgentID))
	}
	desc := entry.Descriptor
	if !desc.IsEnabled() {
		return e.failed(span, task, start, rec, domain.NewAgentDisabledError(op, task.AgentID))
	}

	token := domain.NewCancelToken(ctx)
	e.track(task.ID, token)
	defer e.untrack(task.ID, token)
	defer token.Release()
	if reserved != nil {
		if reserved.IsCancelled() {
			e.logger.Warn("task cancelled before start", "task_id", task.ID, "reason", reserved.Reason())
			return e.cancelled(span, task, start, rec, op)
		}
		stop := context.AfterFunc(reserved.Context(), func() { token.CancelWithReason(reserved.Reason()) })
		defer stop()
	}

	timeout := e.effectiveTimeout(task, desc)
	timer := time.AfterFunc(timeout, func() { token.CancelWithReason("timeout") })
	defer timer.Stop()

	ec := e.executionContext(task, token, rec)
	rec.add(domain.TraceThought, fmt.Sprintf("Executing %s task with agent %s", task.Kind, desc.Name))
	e.logger.Debug("task executing", "task_id", task.ID, "agent_id", task.AgentID, "type", task.Kind, "timeout", timeout)

	output, err := e.guard(token, func(ctx context.Context) (any, error) {
		return e.dispatch(ctx, entry, task, ec, rec)
	})
	if err != nil {
		if token.IsCancelled() {
			e.logger.Warn("task cancelled", "task_id", task.ID, "reason", token.Reason())
			return e.cancelled(span, task, start, rec, op)
		}
		return e.failed(span, task, start, rec, err)
	}

	rec.add(domain.TraceOutput, Stringify(output))
	steps, tokens := rec.seal()
	usage := &domain.Usage{
		TokenUsage: tokens,
		ToolCalls:  countToolCalls(steps),
		DurationMs: e.now().Sub(start).Milliseconds(),
	}

	span.SetAttributes(tracer.Int64Attr("task.duration_ms", usage.DurationMs))
	tracer.SetOK(span)
	e.logger.Info("task completed", "task_id", task.ID, "agent_id", task.AgentID, "duration_ms", usage.DurationMs)

	return domain.Result{
		Success:   true,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		Output:    output,
		Status:    domain.StatusCompleted,
		Trace:     steps,
		Usage:     usage,
		Timestamp: e.now(),
	}
}

// ExecuteTool forwards a tool call to the registry with the execution's
// task and working directory. The agent ID is left empty.
func (e *Executor) ExecuteTool(ctx context.Context, call domain.ToolCall, ec *domain.ExecutionContext) domain.ToolResult {
	if e.tools == nil {
		return domain.ToolResult{
			Success: false,
			Error:   domain.NewToolNotFoundError("Executor.ExecuteTool", call.ToolID).Error(),
			Code:    domain.CodeToolNotFound,
		}
	}
	var tc domain.ToolContext
	if ec != nil {
		tc = domain.ToolContext{TaskID: ec.TaskID, WorkingDirectory: ec.WorkingDirectory, Metadata: ec.Metadata}
	}
	return e.tools.Execute(ctx, call.ToolID, call.Input, tc)
}

// CancelTask fires the token of a running task. It reports false when no
// execution with that ID is in flight. Cancellation is cooperative: an agent
// hook that ignores its context keeps running, but its result is discarded.
func (e *Executor) CancelTask(taskID string) bool {
	e.mu.RLock()
	token, ok := e.tokens[taskID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	token.CancelWithReason("cancelled by caller")
	e.logger.Info("task cancel requested", "task_id", taskID)
	return true
}

// Reserve registers a cancel token for a task that has been admitted but
// has not reached ExecuteTask yet, so CancelTask succeeds in between.
// ExecuteTask with the same ID adopts the token; a reservation that is
// already cancelled makes it return a cancelled Result without running the
// agent.
func (e *Executor) Reserve(taskID string) {
	e.mu.Lock()
	if _, ok := e.tokens[taskID]; !ok {
		e.tokens[taskID] = domain.NewCancelToken(context.Background())
	}
	e.mu.Unlock()
}

// Running reports whether taskID is currently executing.
func (e *Executor) Running(taskID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tokens[taskID]
	return ok
}

func (e *Executor) dispatch(ctx context.Context, entry domain.RegisteredAgent, task domain.Task, ec *domain.ExecutionContext, rec *recorder) (any, error) {
	switch task.Kind {
	case domain.TaskExecute:
		return e.execute(ctx, entry, task, ec, rec)
	case domain.TaskPlan:
		if p, ok := entry.Impl.(domain.AgentPlanner); ok {
			return p.Plan(ctx, task.Input, ec)
		}
		return e.planFallback(ctx, entry.Descriptor, task, ec, rec)
	case domain.TaskChat:
		if c, ok := entry.Impl.(domain.AgentChatter); ok {
			return drainChat(ctx, c, task.Input, ec)
		}
		return e.execute(ctx, entry, task, ec, rec)
	default:
		return nil, domain.NewUnknownTaskTypeError("Executor.dispatch", task.Kind)
	}
}

func (e *Executor) execute(ctx context.Context, entry domain.RegisteredAgent, task domain.Task, ec *domain.ExecutionContext, rec *recorder) (any, error) {
	if x, ok := entry.Impl.(domain.AgentExecutor); ok {
		return x.Execute(ctx, task.Input, ec)
	}
	return e.executeFallback(ctx, entry.Descriptor, task, ec, rec)
}

// guard runs fn on its own goroutine and returns when it finishes or the
// token fires, whichever is first.
func (e *Executor) guard(token *domain.CancelToken, fn func(ctx context.Context) (any, error)) (any, error) {
	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		out, err := fn(token.Context())
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-token.Done():
		return nil, domain.ErrTaskCancelled
	}
}

func (e *Executor) executionContext(task domain.Task, token *domain.CancelToken, rec *recorder) *domain.ExecutionContext {
	ec := &domain.ExecutionContext{
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Token:   token,
	}
	if tc := task.Context; tc != nil {
		ec.SessionID = tc.SessionID
		ec.WorkingDirectory = tc.WorkingDirectory
		ec.Messages = tc.Messages
		ec.Metadata = tc.Metadata
	}

	e.mu.RLock()
	progress := e.progress
	e.mu.RUnlock()
	if progress != nil {
		ec.OnProgress = func(data map[string]any) {
			progress(task.ID, task.AgentID, data)
		}
	}
	ec.OnToolCall = func(ctx context.Context, call domain.ToolCall) domain.ToolResult {
		rec.add(domain.TraceToolCall, fmt.Sprintf("Calling tool %s", call.ToolID))
		return e.ExecuteTool(ctx, call, ec)
	}
	return ec
}

func (e *Executor) effectiveTimeout(task domain.Task, desc domain.AgentDescriptor) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	if d, ok := desc.Timeout(); ok {
		return d
	}
	return e.cfg.DefaultTimeout
}

func (e *Executor) currentInference() domain.InferenceProvider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inference
}

// claim returns the token registered for taskID, if any.
func (e *Executor) claim(taskID string) *domain.CancelToken {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tokens[taskID]
}

func (e *Executor) track(taskID string, token *domain.CancelToken) {
	e.mu.Lock()
	e.tokens[taskID] = token
	e.mu.Unlock()
}

func (e *Executor) untrack(taskID string, token *domain.CancelToken) {
	e.mu.Lock()
	if e.tokens[taskID] == token {
		delete(e.tokens, taskID)
	}
	e.mu.Unlock()
}

func (e *Executor) cancelled(span trace.Span, task domain.Task, start time.Time, rec *recorder, op string) domain.Result {
	res := e.failed(span, task, start, rec, domain.NewTaskCancelledError(op, task.ID))
	res.Status = domain.StatusCancelled
	return res
}

func (e *Executor) failed(span trace.Span, task domain.Task, start time.Time, rec *recorder, err error) domain.Result {
	steps, _ := rec.seal()
	tracer.RecordError(span, err)
	if !errors.Is(err, domain.ErrTaskCancelled) {
		e.logger.Warn("task failed", "task_id", task.ID, "agent_id", task.AgentID, "error", err,
			"duration_ms", e.now().Sub(start).Milliseconds())
	}
	return domain.Result{
		Success:   false,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		Error:     err.Error(),
		Code:      domain.ErrorCodeOf(err),
		Status:    domain.StatusFailed,
		Trace:     steps,
		Timestamp: e.now(),
	}
}

func drainChat(ctx context.Context, c domain.AgentChatter, input any, ec *domain.ExecutionContext) (any, error) {
	chunks, err := c.Chat(ctx, input, ec)
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return string(out), nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			out = append(out, chunk.Content...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func countToolCalls(steps []domain.TraceStep) int {
	n := 0
	for _, s := range steps {
		if s.Type == domain.TraceToolCall {
			n++
		}
	}
	return n
}

// StreamChat runs a chat task and relays the agent's chunks as they arrive.
// Agents without a streaming hook go through ExecuteTask and yield their
// whole reply as one chunk. The returned channel is closed when the reply
// ends; callers must drain it or cancel ctx.
func (e *Executor) StreamChat(ctx context.Context, task domain.Task) (<-chan domain.ChatChunk, error) {
	const op = "Executor.StreamChat"

	task.Kind = domain.TaskChat
	entry, err := e.agents.Get(task.AgentID)
	if err != nil {
		return nil, domain.NewAgentNotFoundError(op, task.AgentID)
	}
	if !entry.Descriptor.IsEnabled() {
		return nil, domain.NewAgentDisabledError(op, task.AgentID)
	}

	chatter, ok := entry.Impl.(domain.AgentChatter)
	if !ok {
		out := make(chan domain.ChatChunk, 1)
		res := e.ExecuteTask(ctx, task)
		if res.Success {
			out <- domain.ChatChunk{Content: Stringify(res.Output)}
		} else {
			out <- domain.ChatChunk{Err: domain.ResultError(op, res)}
		}
		close(out)
		return out, nil
	}

	if task.ID == "" {
		task.ID = domain.NewTaskID(e.now())
	}
	token := domain.NewCancelToken(ctx)
	e.track(task.ID, token)
	timer := time.AfterFunc(e.effectiveTimeout(task, entry.Descriptor), func() { token.CancelWithReason("timeout") })
	cleanup := func() {
		timer.Stop()
		e.untrack(task.ID, token)
		token.Release()
	}

	ec := e.executionContext(task, token, newRecorder(e.now))
	chunks, err := chatter.Chat(token.Context(), task.Input, ec)
	if err != nil {
		cleanup()
		return nil, domain.WrapOp(op, err)
	}

	out := make(chan domain.ChatChunk)
	go func() {
		defer close(out)
		defer cleanup()
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Err != nil {
					return
				}
			case <-token.Done():
				e.logger.Warn("chat stream cancelled", "task_id", task.ID, "reason", token.Reason())
				select {
				case out <- domain.ChatChunk{Err: domain.NewTaskCancelledError(op, task.ID)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}
