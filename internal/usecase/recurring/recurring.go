// Package recurring submits task templates on cron or fixed-interval schedules.
package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agentcore/internal/domain"
)

// MetadataKey is set in the submitted task's context metadata to the job name.
const MetadataKey = "recurring_job"

// Submitter queues a task and returns its ID.
type Submitter interface {
	ExecuteTask(ctx context.Context, task domain.Task) (string, error)
}

// Job is a named task template and the schedule it is submitted on.
type Job struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Task     domain.Task
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	AgentID  string     `json:"agent_id"`
	Fired    int        `json:"fired"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastTask string     `json:"last_task_id,omitempty"`
}

type jobEntry struct {
	job      Job
	entryID  cron.EntryID
	fired    int
	lastTask string
}

// Runner fires registered jobs into a Submitter.
type Runner struct {
	cron      *cron.Cron
	submitter Submitter
	bus       domain.EventBus
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped Runner. bus may be nil.
func New(submitter Submitter, bus domain.EventBus, logger *slog.Logger) *Runner {
	return &Runner{
		cron:      cron.New(),
		submitter: submitter,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		jobs:      make(map[string]*jobEntry),
	}
}

// Add registers a job. Jobs added before Start fire once the Runner starts.
func (r *Runner) Add(job Job) error {
	if job.Name == "" {
		return domain.NewSubSystemError("recurring", "Runner.Add", domain.ErrInvalidInput, "job name is required")
	}
	if job.Task.AgentID == "" {
		return domain.NewSubSystemError("recurring", "Runner.Add", domain.ErrInvalidInput,
			fmt.Sprintf("job %q: agent id is required", job.Name))
	}
	if !job.Task.Kind.Valid() {
		return domain.NewSubSystemError("recurring", "Runner.Add", domain.ErrInvalidInput,
			fmt.Sprintf("job %q: unknown task type %q", job.Name, job.Task.Kind))
	}
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		return domain.NewSubSystemError("recurring", "Runner.Add", domain.ErrInvalidInput,
			fmt.Sprintf("job %q: %v", job.Name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Name]; exists {
		return domain.NewSubSystemError("recurring", "Runner.Add", domain.ErrDuplicate, job.Name)
	}
	name := job.Name
	entry := &jobEntry{job: job}
	entry.entryID = r.cron.Schedule(schedule, cron.FuncJob(func() { r.fire(name) }))
	r.jobs[name] = entry

	r.logger.Info("recurring job added", "name", name, "schedule", job.Schedule, "agent_id", job.Task.AgentID)
	return nil
}

// Remove unregisters a job.
func (r *Runner) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[name]
	if !ok {
		return domain.NewSubSystemError("recurring", "Runner.Remove", domain.ErrNotFound, name)
	}
	r.cron.Remove(entry.entryID)
	delete(r.jobs, name)
	r.logger.Info("recurring job removed", "name", name)
	return nil
}

// Jobs lists registered jobs sorted by name.
func (r *Runner) Jobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobInfo, 0, len(r.jobs))
	for name, e := range r.jobs {
		info := JobInfo{
			Name:     name,
			Schedule: e.job.Schedule,
			AgentID:  e.job.Task.AgentID,
			Fired:    e.fired,
			LastTask: e.lastTask,
		}
		if next := r.cron.Entry(e.entryID).Next; !next.IsZero() {
			info.NextRun = &next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing jobs. ctx bounds every submission.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.started = true
	r.logger.Info("recurring runner started", "jobs", len(r.jobs))
}

// Stop halts firing and waits for in-flight submissions.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.started = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.logger.Info("recurring runner stopped")
}

func (r *Runner) fire(name string) {
	r.mu.Lock()
	entry, ok := r.jobs[name]
	ctx := r.ctx
	if !ok || ctx == nil || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	task := instantiate(entry.job)
	r.mu.Unlock()

	id, err := r.submitter.ExecuteTask(ctx, task)
	if err != nil {
		r.logger.Warn("recurring submission failed", "name", name, "agent_id", task.AgentID, "error", err)
		return
	}

	r.mu.Lock()
	if e, ok := r.jobs[name]; ok {
		e.fired++
		e.lastTask = id
	}
	r.mu.Unlock()

	r.logger.Debug("recurring job fired", "name", name, "task_id", id)
	if r.bus != nil {
		r.bus.Publish(ctx, domain.Event{
			Type:      domain.EventRecurringFired,
			Timestamp: r.now(),
			TaskID:    id,
			AgentID:   task.AgentID,
			Data:      map[string]any{"name": name},
		})
	}
}

// instantiate copies the template so submissions never share maps.
func instantiate(job Job) domain.Task {
	task := job.Task
	task.ID = ""
	tc := domain.TaskContext{}
	if job.Task.Context != nil {
		tc = *job.Task.Context
		tc.Messages = append([]domain.Message(nil), job.Task.Context.Messages...)
	}
	meta := make(map[string]any, len(tc.Metadata)+1)
	maps.Copy(meta, tc.Metadata)
	meta[MetadataKey] = job.Name
	tc.Metadata = meta
	task.Context = &tc
	return task
}

// ParseSchedule parses a cron expression, falling back to a positive
// duration for fixed-interval jobs.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
