package main

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
)

type blockingAgent struct{}

func (blockingAgent) Execute(ctx context.Context, _ any, _ *domain.ExecutionContext) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// eventLog records the event types of each task seen on the Manager bus.
type eventLog struct {
	mu   sync.Mutex
	seq  map[string][]domain.EventType
	done map[string]domain.Event
}

func newEventLog() *eventLog {
	return &eventLog{seq: make(map[string][]domain.EventType), done: make(map[string]domain.Event)}
}

func (l *eventLog) record(_ context.Context, ev domain.Event) {
	if ev.TaskID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[ev.TaskID] = append(l.seq[ev.TaskID], ev.Type)
	switch ev.Type {
	case domain.EventTaskCompleted, domain.EventTaskFailed, domain.EventTaskCancelled:
		l.done[ev.TaskID] = ev
	}
}

func (l *eventLog) waitFinished(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	got := 0
	for time.Now().Before(deadline) {
		l.mu.Lock()
		got = len(l.done)
		l.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("only %d of %d tasks finished", got, n)
}

func TestRuntimeTaskEventOrder(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Agents = []domain.AgentDescriptor{{ID: "writer", Name: "Writer"}}
	cfg.Scheduler.MaxConcurrent = 4

	rt, err := initRuntime(ctx, cfg, &LLMComponents{}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(ctx)

	log := newEventLog()
	rt.Manager.Events().SubscribeAll(log.record)

	// Without an inference provider every task fails quickly, which is the
	// load that exposes reordering between a task's events.
	const tasks = 500
	for i := 0; i < tasks; i++ {
		if _, err := rt.Manager.ExecuteTask(ctx, domain.Task{AgentID: "writer", Kind: domain.TaskExecute, Input: i}); err != nil {
			t.Fatal(err)
		}
	}
	log.waitFinished(t, tasks)

	want := []domain.EventType{domain.EventTaskQueued, domain.EventTaskStarted, domain.EventTaskFailed}
	log.mu.Lock()
	defer log.mu.Unlock()
	for id, got := range log.seq {
		if !slices.Equal(got, want) {
			t.Errorf("task %s: events %v, want %v", id, got, want)
		}
	}
}

func TestRuntimeCancelFromStartedSubscriber(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Scheduler.MaxConcurrent = 3

	rt, err := initRuntime(ctx, cfg, &LLMComponents{}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(ctx)

	if err := rt.Manager.RegisterAgent(ctx, domain.AgentDescriptor{ID: "slow", Name: "Slow"}, blockingAgent{}); err != nil {
		t.Fatal(err)
	}

	log := newEventLog()
	rt.Manager.Events().SubscribeAll(log.record)

	var (
		mu      sync.Mutex
		refused int
	)
	rt.Manager.Events().Subscribe(domain.EventTaskStarted, func(_ context.Context, ev domain.Event) {
		if !rt.Manager.CancelTask(ev.TaskID) {
			mu.Lock()
			refused++
			mu.Unlock()
		}
	})

	const tasks = 10
	for i := 0; i < tasks; i++ {
		if _, err := rt.Manager.ExecuteTask(ctx, domain.Task{AgentID: "slow", Kind: domain.TaskExecute}); err != nil {
			t.Fatal(err)
		}
	}
	log.waitFinished(t, tasks)

	mu.Lock()
	if refused != 0 {
		t.Errorf("CancelTask refused %d of %d started tasks", refused, tasks)
	}
	mu.Unlock()

	log.mu.Lock()
	defer log.mu.Unlock()
	for id, ev := range log.done {
		if ev.Result == nil || ev.Result.Status != domain.StatusCancelled {
			t.Errorf("task %s: terminal event %s, want cancelled result", id, ev.Type)
		}
	}
}
