package tool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"agentcore/internal/domain"
)

// Options configures a Registry.
type Options struct {
	// Strict adds full JSON Schema validation after the shallow check.
	Strict bool
	// RateLimits are per-tool limits keyed by tool ID.
	RateLimits map[string]RateLimit
}

type entry struct {
	tool     domain.RegisteredTool
	compiled *jsonschema.Schema
	limiter  *rate.Limiter
}

// Registry holds callable tools keyed by ID and guards every invocation with
// input validation and error wrapping.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts Options) *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Register adds a tool. An existing tool with the same ID is replaced and a
// warning is logged. In strict mode a schema that fails to compile is logged
// and the tool falls back to shallow validation only.
func (r *Registry) Register(def domain.ToolDefinition, fn domain.ToolFunc) error {
	if def.ID == "" {
		return domain.NewSubSystemError("tool", "Registry.Register", domain.ErrInvalidInput, "tool id is required")
	}
	if fn == nil {
		return domain.NewSubSystemError("tool", "Registry.Register", domain.ErrInvalidInput, "tool function is required")
	}

	e := &entry{
		tool: domain.RegisteredTool{
			Definition:   def,
			Func:         fn,
			RegisteredAt: r.now(),
		},
		limiter: newLimiter(r.opts.RateLimits[def.ID]),
	}
	if r.opts.Strict {
		compiled, err := compileSchema(def.ID, def.InputSchema)
		if err != nil {
			r.logger.Warn("strict schema validation disabled for tool", "tool", def.ID, "error", err)
		} else {
			e.compiled = compiled
		}
	}

	r.mu.Lock()
	_, replaced := r.tools[def.ID]
	r.tools[def.ID] = e
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("tool replaced", "tool", def.ID)
	} else {
		r.logger.Info("tool registered", "tool", def.ID, "category", def.Category)
	}
	return nil
}

// Unregister removes a tool and reports whether it was present.
func (r *Registry) Unregister(toolID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[toolID]; !ok {
		return false
	}
	delete(r.tools, toolID)
	r.logger.Info("tool removed", "tool", toolID)
	return true
}

// Get retrieves a tool by ID.
func (r *Registry) Get(toolID string) (domain.RegisteredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[toolID]
	if !ok {
		return domain.RegisteredTool{}, domain.NewSubSystemError("tool", "Registry.Get", domain.ErrNotFound, toolID)
	}
	return e.tool, nil
}

// Has reports whether toolID is registered.
func (r *Registry) Has(toolID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[toolID]
	return ok
}

// List returns every tool definition, sorted by ID.
func (r *Registry) List() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.tool.Definition)
	}
	sortDefs(defs)
	return defs
}

// ByCategory returns the tools in category.
func (r *Registry) ByCategory(category string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []domain.ToolDefinition
	for _, e := range r.tools {
		if e.tool.Definition.Category == category {
			defs = append(defs, e.tool.Definition)
		}
	}
	sortDefs(defs)
	return defs
}

// ForAgent returns the definitions for ids in the given order. Unknown IDs
// are skipped.
func (r *Registry) ForAgent(ids []string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.tools[id]; ok {
			defs = append(defs, e.tool.Definition)
		}
	}
	return defs
}

// Clear removes every tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]*entry)
}

// Stats counts tools in total and per category. Uncategorized tools are
// counted under domain.DefaultCategory.
func (r *Registry) Stats() domain.ToolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.ToolStats{Total: len(r.tools), ByCategory: make(map[string]int)}
	for _, e := range r.tools {
		cat := e.tool.Definition.Category
		if cat == "" {
			cat = domain.DefaultCategory
		}
		stats.ByCategory[cat]++
	}
	return stats
}

// Execute validates input and runs the tool. Every failure, including a
// panicking tool, is reported in the result and never returned as an error.
func (r *Registry) Execute(ctx context.Context, toolID string, input any, tc domain.ToolContext) domain.ToolResult {
	r.mu.RLock()
	e, ok := r.tools[toolID]
	r.mu.RUnlock()

	if !ok {
		return failure(domain.NewToolNotFoundError("Registry.Execute", toolID))
	}

	if err := ValidateShallow(e.tool.Definition.InputSchema, input); err != nil {
		return failure(domain.NewInputValidationError("Registry.Execute", err.Error()))
	}
	if err := validateDeep(e.compiled, input); err != nil {
		return failure(domain.NewInputValidationError("Registry.Execute", err.Error()))
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return failure(domain.NewSubSystemError("tool", "Registry.Execute", domain.ErrRateLimit, toolID))
	}

	return invoke(ctx, r.logger, e.tool, input, tc)
}

func failure(err error) domain.ToolResult {
	return domain.ToolResult{Success: false, Error: err.Error(), Code: domain.ErrorCodeOf(err)}
}

func sortDefs(defs []domain.ToolDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}
