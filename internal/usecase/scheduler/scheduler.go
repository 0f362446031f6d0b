// Package scheduler admits queued tasks by priority under a concurrency bound.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentcore/internal/domain"
)

// Concurrency bounds. Values outside the range are clamped.
const (
	MinConcurrent     = 1
	MaxConcurrent     = 10
	DefaultConcurrent = 3
)

// RunFunc executes one admitted task. Failures are reported in the Result.
type RunFunc func(ctx context.Context, task domain.Task) domain.Result

// AdmitFunc is called for each task as it leaves the queue, with the
// scheduler lock held and before task:started is published. It must not
// call back into the Scheduler.
type AdmitFunc func(taskID string)

// Stats is a snapshot of scheduler counters. Averages are in milliseconds
// over finished tasks and zero until one finishes.
type Stats struct {
	QueueLength          int     `json:"queue_length"`
	ActiveTasks          int     `json:"active_tasks"`
	MaxConcurrent        int     `json:"max_concurrent"`
	CompletedTasks       int     `json:"completed_tasks"`
	FailedTasks          int     `json:"failed_tasks"`
	AverageWaitTime      float64 `json:"average_wait_time"`
	AverageExecutionTime float64 `json:"average_execution_time"`
}

type queueNode struct {
	task       domain.Task
	priority   int
	enqueuedAt time.Time
}

type activeTask struct {
	task      domain.Task
	startedAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent sets the initial concurrency bound.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) { s.maxConcurrent = clamp(n) }
}

// WithClock replaces time.Now for wait and execution accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithAdmitFunc binds the admission hook at construction.
func WithAdmitFunc(fn AdmitFunc) Option {
	return func(s *Scheduler) { s.admit = fn }
}

// WithRunFunc binds the run function at construction.
func WithRunFunc(fn RunFunc) Option {
	return func(s *Scheduler) { s.run = fn }
}

// Scheduler keeps a priority-ordered wait list and admits tasks while fewer
// than maxConcurrent are active. Lower priority values are admitted first;
// equal priorities keep enqueue order.
//
// Events are recorded under the lock in the order the state changes happen
// and delivered by a single flusher at a time, so bus subscribers see
// queued, started, progress and the terminal event of every task in that
// order.
type Scheduler struct {
	logger *slog.Logger
	bus    domain.EventBus
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	queue         []*queueNode
	active        map[string]*activeTask
	maxConcurrent int
	run           RunFunc
	admit         AdmitFunc
	outbox        []domain.Event
	flushing      bool
	completed     int
	failed        int
	totalWait     time.Duration
	totalExec     time.Duration
}

// New creates a Scheduler publishing lifecycle events on bus.
func New(logger *slog.Logger, bus domain.EventBus, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:        logger,
		bus:           bus,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		active:        make(map[string]*activeTask),
		maxConcurrent: DefaultConcurrent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAdmitFunc binds the admission hook.
func (s *Scheduler) SetAdmitFunc(fn AdmitFunc) {
	s.mu.Lock()
	s.admit = fn
	s.mu.Unlock()
}

// SetRunFunc binds the function that executes admitted tasks.
func (s *Scheduler) SetRunFunc(fn RunFunc) {
	s.mu.Lock()
	s.run = fn
	s.mu.Unlock()
	s.processQueue()
}

// Enqueue inserts task by priority and returns its ID. A missing ID is
// generated.
func (s *Scheduler) Enqueue(task domain.Task) (string, error) {
	s.mu.Lock()
	if s.run == nil {
		s.mu.Unlock()
		return "", domain.NewDomainError("Scheduler.Enqueue", domain.ErrSchedulerNotConfigured, "")
	}
	now := s.now()
	if task.ID == "" {
		task.ID = domain.NewTaskID(now)
	}
	node := &queueNode{task: task, priority: task.EffectivePriority(), enqueuedAt: now}
	s.insert(node)
	s.record(domain.Event{
		Type:    domain.EventTaskQueued,
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Data:    map[string]any{"priority": node.priority},
	})
	s.mu.Unlock()

	s.logger.Debug("task queued", "task_id", task.ID, "agent_id", task.AgentID, "priority", node.priority)
	s.processQueue()
	return task.ID, nil
}

// UpdatePriority re-ranks a waiting task. It reports false once the task
// has been admitted or when the ID is unknown.
func (s *Scheduler) UpdatePriority(taskID string, priority int) bool {
	s.mu.Lock()
	i := s.indexOf(taskID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	node := s.queue[i]
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	node.priority = priority
	s.insert(node)
	s.mu.Unlock()

	s.logger.Debug("task priority updated", "task_id", taskID, "priority", priority)
	s.processQueue()
	return true
}

// CancelQueued removes a waiting task. Active tasks are not affected.
func (s *Scheduler) CancelQueued(taskID string) bool {
	s.mu.Lock()
	i := s.indexOf(taskID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	node := s.queue[i]
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	s.record(domain.Event{Type: domain.EventTaskCancelled, TaskID: taskID, AgentID: node.task.AgentID})
	s.mu.Unlock()

	s.logger.Info("queued task cancelled", "task_id", taskID)
	s.flush()
	return true
}

// AdjustConcurrency sets the bound, clamped to [MinConcurrent, MaxConcurrent],
// and returns the value applied.
func (s *Scheduler) AdjustConcurrency(n int) int {
	n = clamp(n)
	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()

	s.logger.Info("scheduler concurrency adjusted", "max_concurrent", n)
	s.processQueue()
	return n
}

// TaskStatus reports running for active tasks, idle for waiting tasks and
// completed for everything else, including IDs never seen.
func (s *Scheduler) TaskStatus(taskID string) domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[taskID]; ok {
		return domain.StatusRunning
	}
	if s.indexOf(taskID) >= 0 {
		return domain.StatusIdle
	}
	return domain.StatusCompleted
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		QueueLength:    len(s.queue),
		ActiveTasks:    len(s.active),
		MaxConcurrent:  s.maxConcurrent,
		CompletedTasks: s.completed,
		FailedTasks:    s.failed,
	}
	if finished := s.completed + s.failed; finished > 0 {
		st.AverageWaitTime = millis(s.totalWait) / float64(finished)
		st.AverageExecutionTime = millis(s.totalExec) / float64(finished)
	}
	return st
}

// QueuedIDs returns waiting task IDs in admission order.
func (s *Scheduler) QueuedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.queue))
	for i, n := range s.queue {
		ids[i] = n.task.ID
	}
	return ids
}

// ClearQueue drops every waiting task without emitting events and returns
// how many were dropped.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	n := len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	if n > 0 {
		s.logger.Info("scheduler queue cleared", "dropped", n)
	}
	return n
}

// ReportProgress publishes a task:progress event.
func (s *Scheduler) ReportProgress(taskID, agentID string, data map[string]any) {
	s.mu.Lock()
	s.record(domain.Event{Type: domain.EventTaskProgress, TaskID: taskID, AgentID: agentID, Data: data})
	s.mu.Unlock()
	s.flush()
}

// Wait blocks until every admitted task has finished and its events have
// been handed to the bus.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.flush()
}

// Close drops the queue, cancels the context of active tasks and waits
// for them to return.
func (s *Scheduler) Close() {
	s.ClearQueue()
	s.cancel()
	s.wg.Wait()
}

// processQueue admits waiting tasks while capacity allows. Tasks run on
// their own goroutines; the call returns without waiting for them.
func (s *Scheduler) processQueue() {
	s.mu.Lock()
	if s.run == nil {
		s.mu.Unlock()
		s.flush()
		return
	}
	run := s.run
	var admitted []*activeTask
	for len(s.queue) > 0 && len(s.active) < s.maxConcurrent {
		node := s.queue[0]
		s.queue = s.queue[1:]

		now := s.now()
		s.totalWait += now.Sub(node.enqueuedAt)
		at := &activeTask{task: node.task, startedAt: now}
		s.active[node.task.ID] = at
		if s.admit != nil {
			s.admit(node.task.ID)
		}
		s.record(domain.Event{Type: domain.EventTaskStarted, TaskID: node.task.ID, AgentID: node.task.AgentID})
		admitted = append(admitted, at)
	}
	s.wg.Add(len(admitted))
	s.mu.Unlock()

	for _, at := range admitted {
		go s.execute(run, at)
	}
	s.flush()
}

func (s *Scheduler) execute(run RunFunc, at *activeTask) {
	defer s.wg.Done()

	res := s.runSafely(run, at.task)

	ev := domain.Event{TaskID: at.task.ID, AgentID: at.task.AgentID, Result: &res}
	if res.Success {
		ev.Type = domain.EventTaskCompleted
	} else {
		ev.Type = domain.EventTaskFailed
		ev.Error = res.Error
		s.logger.Warn("task failed", "task_id", at.task.ID, "status", res.Status, "error", res.Error)
	}

	// The terminal event is recorded in the same critical section that frees
	// the slot, so it is delivered before the started event of any task
	// admitted into that slot.
	s.mu.Lock()
	delete(s.active, at.task.ID)
	s.totalExec += s.now().Sub(at.startedAt)
	if res.Success {
		s.completed++
	} else {
		s.failed++
	}
	s.record(ev)
	s.mu.Unlock()

	s.processQueue()
}

func (s *Scheduler) runSafely(run RunFunc, task domain.Task) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run function panicked", "task_id", task.ID, "panic", r)
			res = domain.Result{
				Success:   false,
				TaskID:    task.ID,
				AgentID:   task.AgentID,
				Error:     fmt.Sprintf("task panicked: %v", r),
				Status:    domain.StatusFailed,
				Timestamp: s.now(),
			}
		}
	}()
	return run(s.ctx, task)
}

// insert places node before the first node with a strictly greater
// priority. Caller holds s.mu.
func (s *Scheduler) insert(node *queueNode) {
	for i, n := range s.queue {
		if n.priority > node.priority {
			s.queue = append(s.queue, nil)
			copy(s.queue[i+1:], s.queue[i:])
			s.queue[i] = node
			return
		}
	}
	s.queue = append(s.queue, node)
}

// indexOf returns the queue position of taskID or -1. Caller holds s.mu.
func (s *Scheduler) indexOf(taskID string) int {
	for i, n := range s.queue {
		if n.task.ID == taskID {
			return i
		}
	}
	return -1
}

// record appends ev to the outbox. Caller holds s.mu.
func (s *Scheduler) record(ev domain.Event) {
	if s.bus == nil {
		return
	}
	ev.Timestamp = s.now()
	s.outbox = append(s.outbox, ev)
}

// flush publishes the outbox in order. Only one goroutine flushes at a time;
// a call made while another flush is running, including one from a bus
// handler, leaves its events to that flusher and returns at once.
func (s *Scheduler) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()
		for _, ev := range batch {
			s.bus.Publish(s.ctx, ev)
		}
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}

func clamp(n int) int {
	return max(MinConcurrent, min(MaxConcurrent, n))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

