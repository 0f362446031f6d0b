package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentcore/internal/adapter/gateway"
	"agentcore/internal/adapter/tool"
	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
	"agentcore/internal/infra/logger"
	"agentcore/internal/infra/middleware"
	"agentcore/internal/usecase/eventbus"
	"agentcore/internal/usecase/executor"
	"agentcore/internal/usecase/multiagent"
	"agentcore/internal/usecase/orchestrator"
	"agentcore/internal/usecase/recurring"
	"agentcore/internal/usecase/scheduler"
)

// RuntimeComponents holds the orchestration core and the surfaces around it.
type RuntimeComponents struct {
	Manager   *orchestrator.Manager
	Scheduler *scheduler.Scheduler
	Agents    *multiagent.Registry
	Recurring *recurring.Runner
	Gateway   *gateway.Server
	Metrics   *gateway.Metrics

	schedBus *eventbus.Bus
	bus      *eventbus.Bus
}

// configAgent backs agents declared in the config file. It exposes no hooks,
// so every task kind uses the inference fallback.
type configAgent struct{}

// initRuntime builds the registries, executor, scheduler and Manager, loads
// config-declared agents, tools and recurring jobs, and prepares the gateway.
func initRuntime(ctx context.Context, cfg *config.Config, llmc *LLMComponents, log *slog.Logger) (*RuntimeComponents, error) {
	// 1. Event buses. Both dispatch in order so subscribers of the Manager
	// bus see each task's events in the order the scheduler recorded them.
	// Subscribers must not block: the gateway drops frames for slow clients.
	schedBus := eventbus.New(logger.Component(log, "scheduler"), eventbus.WithOrderedDispatch())
	bus := eventbus.New(log, eventbus.WithOrderedDispatch())

	// 2. Registries
	tools := tool.NewRegistry(logger.Component(log, "tools"), toolOptions(cfg.Tools))
	if err := tool.RegisterBuiltins(tools, cfg.Tools.Builtin, cfg.Tools.SandboxRoot); err != nil {
		return nil, fmt.Errorf("builtin tools: %w", err)
	}
	agents := multiagent.NewRegistry(logger.Component(log, "agents"))

	// 3. Executor and scheduler
	exec := executor.New(agents, tools, logger.Component(log, "executor"), executor.Config{
		DefaultTimeout:  cfg.Executor.DefaultTimeout,
		ModelPreference: cfg.Executor.ModelPreference,
		Strategy:        cfg.Executor.Strategy,
	})
	sched := scheduler.New(logger.Component(log, "scheduler"), schedBus,
		scheduler.WithMaxConcurrent(config.ClampConcurrency(cfg.Scheduler.MaxConcurrent)))

	// 4. Manager
	mgr := orchestrator.New(logger.Component(log, "manager"), orchestrator.Deps{
		Agents:       agents,
		Tools:        tools,
		Executor:     exec,
		Scheduler:    sched,
		SchedulerBus: schedBus,
		Bus:          bus,
	})
	var inference domain.InferenceProvider
	if llmc != nil && llmc.Invoker != nil {
		inference = llmc.Invoker
	}
	mgr.Init(inference)

	for _, desc := range cfg.Agents {
		if err := mgr.RegisterAgent(ctx, desc, configAgent{}); err != nil {
			return nil, fmt.Errorf("agent %s: %w", desc.ID, err)
		}
	}

	// 5. Recurring jobs
	runner := recurring.New(mgr, bus, logger.Component(log, "recurring"))
	for _, job := range recurringJobs(cfg) {
		if err := runner.Add(job); err != nil {
			return nil, fmt.Errorf("recurring %s: %w", job.Name, err)
		}
	}

	comp := &RuntimeComponents{
		Manager:   mgr,
		Scheduler: sched,
		Agents:    agents,
		Recurring: runner,
		schedBus:  schedBus,
		bus:       bus,
	}

	// 6. Init gateway (if enabled)
	if cfg.Gateway.Enabled {
		gwLog := logger.Component(log, "gateway")
		gwServer := gateway.NewServer(bus, cfg.Gateway.Addr, cfg.Gateway.MaxMessageBytes, gwLog)
		gwServer.Use(
			middleware.RateLimit(ctx, cfg.Gateway.RateLimit, gwLog),
			middleware.SecurityHeaders,
		)
		gwDeps := gateway.HandlerDeps{Manager: mgr, Bus: bus}
		gateway.RegisterDefaultHandlers(gwServer, gwDeps)
		comp.Metrics = gateway.RegisterRESTHandlers(gwServer, gwDeps, version)
		comp.Gateway = gwServer
		log.Info("gateway enabled", "addr", cfg.Gateway.Addr)
	}

	return comp, nil
}

// Close stops the gateway, drops queued work, cancels active tasks and
// drains both buses.
func (c *RuntimeComponents) Close(ctx context.Context) error {
	var errs []error
	if c.Gateway != nil {
		if err := c.Gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
	}
	c.Recurring.Stop()
	c.Manager.Shutdown()
	c.Scheduler.Close()
	c.Agents.WaitDestroyed()
	c.schedBus.Close()
	c.bus.Close()
	return errors.Join(errs...)
}

func toolOptions(cfg config.ToolsConfig) tool.Options {
	opts := tool.Options{Strict: cfg.StrictSchema}
	if len(cfg.RateLimit) > 0 {
		opts.RateLimits = make(map[string]tool.RateLimit, len(cfg.RateLimit))
		for id, rl := range cfg.RateLimit {
			opts.RateLimits[id] = tool.RateLimit{PerSecond: rl.PerSecond, Burst: rl.Burst}
		}
	}
	return opts
}

// recurringJobs converts the recurring config section into task templates.
// An empty type means execute; a missing priority takes the scheduler default.
func recurringJobs(cfg *config.Config) []recurring.Job {
	jobs := make([]recurring.Job, 0, len(cfg.Recurring))
	for _, rc := range cfg.Recurring {
		kind := domain.TaskKind(rc.Type)
		if kind == "" {
			kind = domain.TaskExecute
		}
		priority := rc.Priority
		if priority == nil {
			priority = domain.Priority(cfg.Scheduler.DefaultPriority)
		}
		task := domain.Task{
			AgentID:  rc.AgentID,
			Kind:     kind,
			Input:    rc.Input,
			Timeout:  rc.Timeout,
			Priority: priority,
		}
		if len(rc.Metadata) > 0 {
			task.Context = &domain.TaskContext{Metadata: rc.Metadata}
		}
		jobs = append(jobs, recurring.Job{Name: rc.Name, Schedule: rc.Schedule, Task: task})
	}
	return jobs
}
