package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/adapter/tool"
	"agentcore/internal/domain"
	"agentcore/internal/usecase/multiagent"
)

type hookFunc func(ctx context.Context, input any, ec *domain.ExecutionContext) (any, error)

type execAgent struct{ fn hookFunc }

func (a execAgent) Execute(ctx context.Context, input any, ec *domain.ExecutionContext) (any, error) {
	return a.fn(ctx, input, ec)
}

type planAgent struct{ steps []domain.PlanStep }

func (a planAgent) Plan(context.Context, any, *domain.ExecutionContext) (any, error) {
	return a.steps, nil
}

type chatAgent struct {
	chunks []domain.ChatChunk
}

func (a chatAgent) Chat(context.Context, any, *domain.ExecutionContext) (<-chan domain.ChatChunk, error) {
	ch := make(chan domain.ChatChunk, len(a.chunks))
	for _, c := range a.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeInference struct {
	mu    sync.Mutex
	calls []domain.InferenceParams
	opts  []domain.InvokeOptions
	resp  *domain.InferenceResponse
	err   error
}

func (f *fakeInference) Invoke(_ context.Context, capability string, params domain.InferenceParams, opts domain.InvokeOptions) (*domain.InferenceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if capability != domain.CapabilityChat {
		return nil, errors.New("unexpected capability " + capability)
	}
	f.calls = append(f.calls, params)
	f.opts = append(f.opts, opts)
	return f.resp, f.err
}

type fixture struct {
	exec   *Executor
	agents *multiagent.Registry
	tools  *tool.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	agents := multiagent.NewRegistry(slog.Default())
	tools := tool.NewRegistry(slog.Default(), tool.Options{})
	return &fixture{
		exec:   New(agents, tools, slog.Default(), cfg),
		agents: agents,
		tools:  tools,
	}
}

func (f *fixture) register(t *testing.T, d domain.AgentDescriptor, impl domain.Agent) {
	t.Helper()
	require.NoError(t, f.agents.Register(context.Background(), d, impl))
}

func descriptor(id string) domain.AgentDescriptor {
	return domain.AgentDescriptor{
		ID:          id,
		Name:        "Agent " + id,
		Description: "Summarises documents.",
		Capabilities: []domain.Capability{
			{Type: "summarize", Description: "condense text"},
			{Type: "translate"},
		},
	}
}

func traceTypes(steps []domain.TraceStep) []domain.TraceStepType {
	out := make([]domain.TraceStepType, len(steps))
	for i, s := range steps {
		out[i] = s.Type
	}
	return out
}

func TestExecuteTaskCustomHook(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("a1"), execAgent{fn: func(_ context.Context, input any, ec *domain.ExecutionContext) (any, error) {
		return map[string]any{"echo": input, "session": ec.SessionID}, nil
	}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{
		ID:      "t1",
		AgentID: "a1",
		Kind:    domain.TaskExecute,
		Input:   "hello",
		Context: &domain.TaskContext{SessionID: "s1"},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, map[string]any{"echo": "hello", "session": "s1"}, res.Output)
	assert.Equal(t, []domain.TraceStepType{domain.TraceThought, domain.TraceOutput}, traceTypes(res.Trace))
	assert.Equal(t, `{"echo":"hello","session":"s1"}`, res.Trace[1].Content)
	require.NotNil(t, res.Usage)
	assert.Zero(t, res.Usage.TotalTokens)
	assert.Zero(t, res.Usage.ToolCalls)
	assert.False(t, f.exec.Running("t1"))
}

func TestExecuteTaskGeneratesID(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("a1"), execAgent{fn: func(context.Context, any, *domain.ExecutionContext) (any, error) {
		return "ok", nil
	}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "a1", Kind: domain.TaskExecute})
	require.True(t, res.Success)
	assert.Len(t, res.TaskID, 26)
}

func TestExecuteTaskLookupFailures(t *testing.T) {
	f := newFixture(t, Config{})
	d := descriptor("off")
	d.Enabled = new(bool)
	f.register(t, d, nil)

	tests := []struct {
		name string
		task domain.Task
		err  string
		code domain.ErrorCode
	}{
		{"missing agent", domain.Task{AgentID: "ghost", Kind: domain.TaskExecute}, "Agent ghost not found", domain.CodeAgentNotFound},
		{"disabled agent", domain.Task{AgentID: "off", Kind: domain.TaskExecute}, "Agent off is disabled", domain.CodeAgentDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.exec.ExecuteTask(context.Background(), tt.task)
			assert.False(t, res.Success)
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, tt.err, res.Error)
			assert.Equal(t, tt.code, res.Code)
		})
	}
}

func TestExecuteTaskUnknownType(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("a1"), nil)

	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "a1", Kind: "dance"})
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown task type: dance", res.Error)
	assert.Equal(t, domain.CodeUnknownTaskType, res.Code)
	assert.Equal(t, []domain.TraceStepType{domain.TraceThought}, traceTypes(res.Trace))
}

func blockingAgent(release <-chan struct{}) execAgent {
	return execAgent{fn: func(context.Context, any, *domain.ExecutionContext) (any, error) {
		<-release
		return "too late", nil
	}}
}

func TestExecuteTaskTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f := newFixture(t, Config{})
	f.register(t, descriptor("slow"), blockingAgent(release))

	res := f.exec.ExecuteTask(context.Background(), domain.Task{
		AgentID: "slow",
		Kind:    domain.TaskExecute,
		Timeout: 20 * time.Millisecond,
	})
	assert.False(t, res.Success)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, domain.CancelledMessage, res.Error)
	assert.Equal(t, domain.CodeTaskCancelled, res.Code)
	assert.NotEmpty(t, res.Trace)
}

func TestExecuteTaskTimeoutPrecedence(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f := newFixture(t, Config{DefaultTimeout: time.Hour})
	d := descriptor("slow")
	d.Config = map[string]any{"timeout": 20} // milliseconds
	f.register(t, d, blockingAgent(release))

	start := time.Now()
	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "slow", Kind: domain.TaskExecute})
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)

	desc, _ := f.agents.Descriptor("slow")
	assert.Equal(t, 20*time.Millisecond, f.exec.effectiveTimeout(domain.Task{}, desc))
	assert.Equal(t, time.Second, f.exec.effectiveTimeout(domain.Task{Timeout: time.Second}, desc))
	assert.Equal(t, time.Hour, f.exec.effectiveTimeout(domain.Task{}, descriptor("x")))
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t, Config{})
	started := make(chan struct{})
	f.register(t, descriptor("coop"), execAgent{fn: func(ctx context.Context, _ any, _ *domain.ExecutionContext) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	assert.False(t, f.exec.CancelTask("nope"))

	done := make(chan domain.Result, 1)
	go func() {
		done <- f.exec.ExecuteTask(context.Background(), domain.Task{ID: "c1", AgentID: "coop", Kind: domain.TaskExecute})
	}()

	<-started
	assert.True(t, f.exec.Running("c1"))
	assert.True(t, f.exec.CancelTask("c1"))

	res := <-done
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, domain.CancelledMessage, res.Error)
	assert.False(t, f.exec.CancelTask("c1"))
}

func TestReservedTaskCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, Config{})
	var ran bool
	f.register(t, descriptor("r1"), execAgent{fn: func(context.Context, any, *domain.ExecutionContext) (any, error) {
		ran = true
		return "ran", nil
	}})

	f.exec.Reserve("queued-1")
	assert.True(t, f.exec.Running("queued-1"))
	assert.True(t, f.exec.CancelTask("queued-1"))

	res := f.exec.ExecuteTask(context.Background(), domain.Task{ID: "queued-1", AgentID: "r1", Kind: domain.TaskExecute})
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, domain.CancelledMessage, res.Error)
	assert.False(t, ran, "a cancelled reservation must not run the agent")
	assert.False(t, f.exec.Running("queued-1"))
}

func TestReservedTaskCancelledWhileRunning(t *testing.T) {
	f := newFixture(t, Config{})
	started := make(chan struct{})
	f.register(t, descriptor("r2"), execAgent{fn: func(ctx context.Context, _ any, _ *domain.ExecutionContext) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	f.exec.Reserve("queued-2")
	done := make(chan domain.Result, 1)
	go func() {
		done <- f.exec.ExecuteTask(context.Background(), domain.Task{ID: "queued-2", AgentID: "r2", Kind: domain.TaskExecute})
	}()

	<-started
	assert.True(t, f.exec.CancelTask("queued-2"))

	select {
	case res := <-done:
		assert.Equal(t, domain.StatusCancelled, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled")
	}
	assert.False(t, f.exec.Running("queued-2"))
}

func TestReservationReleasedOnLookupFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.exec.Reserve("orphan")

	res := f.exec.ExecuteTask(context.Background(), domain.Task{ID: "orphan", AgentID: "ghost", Kind: domain.TaskExecute})
	assert.False(t, res.Success)
	assert.False(t, f.exec.Running("orphan"))
	assert.False(t, f.exec.CancelTask("orphan"))
}

func TestExecuteTaskHookErrorAndPanic(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("err"), execAgent{fn: func(context.Context, any, *domain.ExecutionContext) (any, error) {
		return nil, errors.New("disk full")
	}})
	f.register(t, descriptor("panic"), execAgent{fn: func(context.Context, any, *domain.ExecutionContext) (any, error) {
		panic("boom")
	}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "err", Kind: domain.TaskExecute})
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "disk full", res.Error)

	res = f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "panic", Kind: domain.TaskExecute})
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "agent panicked: boom")
}

func TestExecuteFallbackBuildsPrompt(t *testing.T) {
	inf := &fakeInference{resp: &domain.InferenceResponse{
		Success: true,
		Data:    "summary",
		Usage:   &domain.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	}}
	f := newFixture(t, Config{ModelPreference: []string{"fast", "smart"}})
	f.exec.SetInference(inf)
	f.register(t, descriptor("llm"), nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	res := f.exec.ExecuteTask(context.Background(), domain.Task{
		AgentID: "llm",
		Kind:    domain.TaskExecute,
		Input:   map[string]any{"doc": "text"},
		Context: &domain.TaskContext{Messages: history},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "summary", res.Output)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, []domain.TraceStepType{domain.TraceThought, domain.TraceThought, domain.TraceOutput}, traceTypes(res.Trace))
	assert.Equal(t, "Invoking inference with 4 messages", res.Trace[1].Content)

	require.Len(t, inf.calls, 1)
	msgs := inf.calls[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are Agent llm. Summarises documents.")
	assert.Contains(t, msgs[0].Content, "- summarize: condense text")
	assert.Contains(t, msgs[0].Content, "- translate")
	assert.Equal(t, history, msgs[1:3])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: `{"doc":"text"}`}, msgs[3])
	assert.Equal(t, domain.InvokeOptions{Strategy: domain.StrategyAdaptive, ModelPreference: []string{"fast", "smart"}}, inf.opts[0])
}

func TestExecuteFallbackFailures(t *testing.T) {
	tests := []struct {
		name string
		inf  domain.InferenceProvider
		want string
	}{
		{"no provider", nil, "No inference provider configured"},
		{"reported error", &fakeInference{resp: &domain.InferenceResponse{Error: "quota exceeded"}}, "quota exceeded"},
		{"generic failure", &fakeInference{resp: &domain.InferenceResponse{}}, "Inference request failed"},
		{"transport error", &fakeInference{err: errors.New("connection refused")}, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			if tt.inf != nil {
				f.exec.SetInference(tt.inf)
			}
			f.register(t, descriptor("llm"), nil)

			res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "llm", Kind: domain.TaskExecute, Input: "x"})
			assert.False(t, res.Success)
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, tt.want, res.Error)
			assert.Equal(t, domain.CodeProviderInvocation, res.Code)
		})
	}
}

func TestPlanFallbackMalformedJSON(t *testing.T) {
	inf := &fakeInference{resp: &domain.InferenceResponse{Success: true, Data: "do the thing"}}
	f := newFixture(t, Config{})
	f.exec.SetInference(inf)
	d := descriptor("planner")
	d.Tools = []string{"echo", "missing"}
	f.register(t, d, nil)
	require.NoError(t, f.tools.Register(domain.ToolDefinition{ID: "echo", Description: "repeat text"},
		func(context.Context, any, domain.ToolContext) (any, error) { return nil, nil }))

	res := f.exec.ExecuteTask(context.Background(), domain.Task{ID: "p1", AgentID: "planner", Kind: domain.TaskPlan, Input: "ship it"})

	require.True(t, res.Success, res.Error)
	plan, ok := res.Output.(domain.Plan)
	require.True(t, ok, "output is %T", res.Output)
	assert.Equal(t, "p1", plan.TaskID)
	assert.Equal(t, "planner", plan.AgentID)
	assert.Equal(t, []domain.PlanStep{{ID: "1", Description: "do the thing"}}, plan.Steps)

	prompt := inf.calls[0].Messages[1].Content
	assert.Contains(t, prompt, "ship it")
	assert.Contains(t, prompt, "- echo: repeat text")
	assert.Contains(t, prompt, "Respond with only valid JSON.")
}

func TestPlanHook(t *testing.T) {
	f := newFixture(t, Config{})
	steps := []domain.PlanStep{{ID: "a", Description: "first"}}
	f.register(t, descriptor("p"), planAgent{steps: steps})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "p", Kind: domain.TaskPlan})
	require.True(t, res.Success)
	assert.Equal(t, steps, res.Output)
}

func TestChatHookIsDrained(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("c"), chatAgent{chunks: []domain.ChatChunk{{Content: "Hel"}, {Content: "lo"}}})
	f.register(t, descriptor("bad"), chatAgent{chunks: []domain.ChatChunk{{Content: "x"}, {Err: errors.New("stream reset")}}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "c", Kind: domain.TaskChat})
	require.True(t, res.Success)
	assert.Equal(t, "Hello", res.Output)

	res = f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "bad", Kind: domain.TaskChat})
	assert.False(t, res.Success)
	assert.Equal(t, "stream reset", res.Error)
}

func TestChatFallsBackToExecute(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("e"), execAgent{fn: func(_ context.Context, input any, _ *domain.ExecutionContext) (any, error) {
		return strings.ToUpper(input.(string)), nil
	}})

	chat := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "e", Kind: domain.TaskChat, Input: "hi"})
	exec := f.exec.ExecuteTask(context.Background(), domain.Task{AgentID: "e", Kind: domain.TaskExecute, Input: "hi"})
	assert.Equal(t, exec.Output, chat.Output)
	assert.Equal(t, "HI", chat.Output)
}

func TestToolCallsFromHook(t *testing.T) {
	f := newFixture(t, Config{})
	var seen domain.ToolContext
	require.NoError(t, f.tools.Register(domain.ToolDefinition{ID: "echo"},
		func(_ context.Context, input any, tc domain.ToolContext) (any, error) {
			seen = tc
			return input, nil
		}))
	f.register(t, descriptor("user"), execAgent{fn: func(ctx context.Context, _ any, ec *domain.ExecutionContext) (any, error) {
		first := ec.CallTool(ctx, "echo", "ping")
		second := ec.CallTool(ctx, "ghost", nil)
		return []any{first.Output, second.Error}, nil
	}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{
		ID:      "tc1",
		AgentID: "user",
		Kind:    domain.TaskExecute,
		Context: &domain.TaskContext{WorkingDirectory: "/work"},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []any{"ping", "Tool ghost not found"}, res.Output)
	assert.Equal(t, 2, res.Usage.ToolCalls)
	assert.Equal(t, domain.ToolContext{TaskID: "tc1", WorkingDirectory: "/work"}, seen)
}

func TestReportProgress(t *testing.T) {
	f := newFixture(t, Config{})
	var got []map[string]any
	f.exec.SetProgressHandler(func(taskID, agentID string, data map[string]any) {
		got = append(got, map[string]any{"task": taskID, "agent": agentID, "pct": data["pct"]})
	})
	f.register(t, descriptor("p"), execAgent{fn: func(_ context.Context, _ any, ec *domain.ExecutionContext) (any, error) {
		ec.ReportProgress(map[string]any{"pct": 50})
		return "done", nil
	}})

	res := f.exec.ExecuteTask(context.Background(), domain.Task{ID: "pr", AgentID: "p", Kind: domain.TaskExecute})
	require.True(t, res.Success)
	assert.Equal(t, []map[string]any{{"task": "pr", "agent": "p", "pct": 50}}, got)
}

func TestExecuteToolWithoutRegistry(t *testing.T) {
	e := New(multiagent.NewRegistry(slog.Default()), nil, slog.Default(), Config{})
	res := e.ExecuteTool(context.Background(), domain.ToolCall{ToolID: "echo"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Tool echo not found", res.Error)
}

func collect(t *testing.T, ch <-chan domain.ChatChunk) []domain.ChatChunk {
	t.Helper()
	var out []domain.ChatChunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("chat stream did not close")
		}
	}
}

func TestStreamChatRelaysChunks(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("a1"), chatAgent{chunks: []domain.ChatChunk{{Content: "hel"}, {Content: "lo"}}})

	ch, err := f.exec.StreamChat(context.Background(), domain.Task{ID: "c1", AgentID: "a1", Input: "hi"})
	require.NoError(t, err)

	chunks := collect(t, ch)
	assert.Equal(t, []domain.ChatChunk{{Content: "hel"}, {Content: "lo"}}, chunks)
	assert.Eventually(t, func() bool { return !f.exec.Running("c1") }, time.Second, 5*time.Millisecond)
}

func TestStreamChatWithoutHookYieldsOneChunk(t *testing.T) {
	inf := &fakeInference{resp: &domain.InferenceResponse{Success: true, Data: "full reply"}}
	f := newFixture(t, Config{})
	f.exec.SetInference(inf)
	f.register(t, descriptor("a1"), struct{}{})

	ch, err := f.exec.StreamChat(context.Background(), domain.Task{AgentID: "a1", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []domain.ChatChunk{{Content: "full reply"}}, collect(t, ch))
}

func TestStreamChatFallbackFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, descriptor("a1"), struct{}{})

	ch, err := f.exec.StreamChat(context.Background(), domain.Task{AgentID: "a1"})
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Err)
	assert.ErrorIs(t, chunks[0].Err, domain.ErrProviderInvocation)
	assert.Equal(t, "No inference provider configured", chunks[0].Err.Error())
}

func TestStreamChatLookupFailures(t *testing.T) {
	f := newFixture(t, Config{})
	d := descriptor("off")
	d.Enabled = new(bool)
	f.register(t, d, chatAgent{})

	_, err := f.exec.StreamChat(context.Background(), domain.Task{AgentID: "missing"})
	assert.EqualError(t, err, "Agent missing not found")

	_, err = f.exec.StreamChat(context.Background(), domain.Task{AgentID: "off"})
	assert.EqualError(t, err, "Agent off is disabled")
}

type stalledChat struct{}

func (stalledChat) Chat(context.Context, any, *domain.ExecutionContext) (<-chan domain.ChatChunk, error) {
	return make(chan domain.ChatChunk), nil
}

func TestStreamChatTimeout(t *testing.T) {
	f := newFixture(t, Config{DefaultTimeout: 20 * time.Millisecond})
	f.register(t, descriptor("a1"), stalledChat{})

	ch, err := f.exec.StreamChat(context.Background(), domain.Task{AgentID: "a1"})
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	assert.ErrorIs(t, chunks[0].Err, domain.ErrTaskCancelled)
	assert.Equal(t, domain.CancelledMessage, chunks[0].Err.Error())
}
