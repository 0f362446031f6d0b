package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"agentcore/internal/adapter/tool"
	"agentcore/internal/infra/config"
	"agentcore/internal/usecase/recurring"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runValidateConfig loads the config, then runs every check against it.
func runValidateConfig() error {
	cfgPath := configPath()

	// Some checks still report something useful without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Agents", Fn: checkAgents},
		{Name: "Built-in tools", Fn: checkBuiltinTools},
		{Name: "Recurring jobs", Fn: checkRecurring},
		{Name: "Gateway", Fn: checkGateway},
	}

	fmt.Println("agentcore validate-config")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
	}

	pass, warn, fail := summarize(results)
	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func summarize(results []CheckResult) (pass, warn, fail int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the listed problems in " + cfgPath,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies every key-based provider has an API key.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no LLM providers configured; only agents with custom hooks can run",
			Fix:     "Add a provider under llm.providers",
		}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		switch {
		case p.Type == "bedrock":
			// AWS credentials come from the default chain.
			withKey = append(withKey, p.Name)
		case p.APIKey != "":
			withKey = append(withKey, p.Name)
		default:
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("missing API keys for: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set keys via AGENTCORE_LLM_PROVIDER_<NAME>_API_KEY or an enc: value",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("credentials configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkLLMConnectivity tests if the default LLM provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{Status: StatusPass, Message: "no providers, skipped"}
	}

	provider := &cfg.LLM.Providers[0]
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for provider type %q, skipping connectivity test", provider.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check base_url, network access and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a health/ping URL for the given provider.
func providerEndpoint(p *config.ProviderConfig) string {
	switch p.Type {
	case "openai", "":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/") + "/models"
		}
		return "https://api.openai.com/v1/models"
	case "bedrock":
		if p.Region == "" {
			return ""
		}
		return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/", p.Region)
	default:
		return ""
	}
}

// checkAgents reports the config-declared agents.
func checkAgents(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.Agents) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no agents declared; register them over the gateway",
		}
	}
	var disabled int
	for _, a := range cfg.Agents {
		if !a.IsEnabled() {
			disabled++
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agent(s) declared, %d disabled", len(cfg.Agents), disabled),
	}
}

// checkBuiltinTools registers the configured built-ins into a scratch registry.
func checkBuiltinTools(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.Tools.Builtin) == 0 {
		return CheckResult{Status: StatusPass, Message: "no built-in tools enabled"}
	}
	r := tool.NewRegistry(discardLogger(), tool.Options{})
	if err := tool.RegisterBuiltins(r, cfg.Tools.Builtin, cfg.Tools.SandboxRoot); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check tools.builtin names (echo, read_file, list_dir) and tools.sandbox_root",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("registered: %s", strings.Join(cfg.Tools.Builtin, ", ")),
	}
}

// checkRecurring loads the recurring jobs into a runner that is never started.
func checkRecurring(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.Recurring) == 0 {
		return CheckResult{Status: StatusPass, Message: "no recurring jobs"}
	}
	agents := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a.ID] = true
	}

	runner := recurring.New(nil, nil, discardLogger())
	var unknown []string
	for _, job := range recurringJobs(cfg) {
		if err := runner.Add(job); err != nil {
			return CheckResult{Status: StatusFail, Message: err.Error()}
		}
		if !agents[job.Task.AgentID] {
			unknown = append(unknown, job.Name)
		}
	}
	if len(unknown) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("jobs target agents not declared in config: %s", strings.Join(unknown, ", ")),
			Fix:     "Declare the agents under agents[] or register them before the first run",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d job(s) scheduled", len(cfg.Recurring)),
	}
}

// checkGateway verifies the gateway address can be bound.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot bind %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process holding the port or change gateway.addr",
		}
	}
	ln.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s available", cfg.Gateway.Addr),
	}
}
