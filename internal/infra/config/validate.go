package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"agentcore/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateScheduler(cfg, ve)
	validateExecutor(cfg, ve)
	validateTools(cfg, ve)
	validateLLM(cfg, ve)
	validateAgents(cfg, ve)
	validateRecurring(cfg, ve)
	validateGateway(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ClampConcurrency bounds n to [MinConcurrent, MaxConcurrent].
func ClampConcurrency(n int) int {
	return max(MinConcurrent, min(MaxConcurrent, n))
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	// Out-of-range values are clamped by the scheduler, not rejected.
	if cfg.Scheduler.DefaultPriority < 0 {
		ve.Add("scheduler.default_priority must be >= 0")
	}
}

func validateExecutor(cfg *Config, ve *ValidationError) {
	if cfg.Executor.DefaultTimeout <= 0 {
		ve.Add("executor.default_timeout must be > 0")
	}
	if cfg.Executor.Strategy == "" {
		ve.Add("executor.strategy must not be empty")
	}
}

var validBuiltinTools = map[string]bool{
	"echo":      true,
	"read_file": true,
	"list_dir":  true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	for _, name := range cfg.Tools.Builtin {
		if !validBuiltinTools[name] {
			ve.Add("tools.builtin %q is unknown (want: echo, read_file, list_dir)", name)
		}
	}
	if len(cfg.Tools.Builtin) > 0 && cfg.Tools.SandboxRoot == "" {
		ve.Add("tools.sandbox_root is required when builtin tools are enabled")
	}
	for id, rl := range cfg.Tools.RateLimit {
		if rl.PerSecond <= 0 {
			ve.Add("tools.rate_limit[%s].rps must be > 0", id)
		}
		if rl.Burst < 0 {
			ve.Add("tools.rate_limit[%s].burst must be >= 0", id)
		}
	}
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if len(cfg.LLM.Providers) == 0 {
		if cfg.LLM.DefaultProvider != "" {
			ve.Add("llm.default_provider %q set but no providers configured", cfg.LLM.DefaultProvider)
		}
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && p.Type != "bedrock" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via AGENTCORE_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	for _, fb := range cfg.LLM.Failover.Fallbacks {
		if !seen[fb] {
			ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
		}
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.ID == "" {
			ve.Add("agents[%d].id must not be empty", i)
			continue
		}
		if seen[a.ID] {
			ve.Add("agents[%d]: duplicate agent ID %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.Name == "" {
			ve.Add("agents[%d] (%s): name must not be empty", i, a.ID)
		}
	}
}

var recurringParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func validateRecurring(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, r := range cfg.Recurring {
		if r.Name == "" {
			ve.Add("recurring[%d].name is required", i)
		} else if seen[r.Name] {
			ve.Add("recurring[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true

		if r.AgentID == "" {
			ve.Add("recurring[%d].agent_id is required", i)
		}
		if r.Type != "" && !domain.TaskKind(r.Type).Valid() {
			ve.Add("recurring[%d].type %q is invalid (want: execute, plan, chat)", i, r.Type)
		}
		if r.Schedule == "" {
			ve.Add("recurring[%d].schedule is required", i)
			continue
		}
		if d, err := time.ParseDuration(r.Schedule); err == nil {
			if d <= 0 {
				ve.Add("recurring[%d].schedule duration must be > 0", i)
			}
			continue
		}
		if _, err := recurringParser.Parse(r.Schedule); err != nil {
			ve.Add("recurring[%d].schedule %q is neither a duration nor a cron expression", i, r.Schedule)
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.MaxMessageBytes < 0 {
		ve.Add("gateway.max_message_bytes must be >= 0")
	}
	if cfg.Gateway.RateLimit.RequestsPerMin < 0 || cfg.Gateway.RateLimit.Burst < 0 {
		ve.Add("gateway.rate_limit values must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
