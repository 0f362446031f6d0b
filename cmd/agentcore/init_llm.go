package main

import (
	"fmt"
	"log/slog"

	"agentcore/internal/adapter/llm"
	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
)

// LLMComponents holds all LLM-related components
type LLMComponents struct {
	DefaultLLM domain.LLMProvider
	// Invoker is nil when no provider is configured.
	Invoker *llm.Invoker
}

// initLLM builds the configured providers, guards each with a circuit
// breaker when enabled, wires failover into the default and hands the
// result to the inference invoker used by the Manager.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	if len(cfg.LLM.Providers) == 0 {
		log.Warn("no llm providers configured; only agents with custom hooks can run")
		return &LLMComponents{}, nil
	}

	// 1. Register all configured providers
	invoker := llm.NewInvoker(log)
	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if cbCfg.Enabled {
			provider = llm.Guard(provider, cbCfg, log)
		}
		if err := invoker.AddProvider(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	// 2. Resolve the default provider; the first configured one when unset
	defaultName := cfg.LLM.DefaultProvider
	if defaultName == "" {
		defaultName = cfg.LLM.Providers[0].Name
	}
	defaultLLM, err := invoker.Provider(defaultName)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	// 3. Wrap with failover if enabled
	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		var fallbacks []domain.LLMProvider
		for _, name := range cfg.LLM.Failover.Fallbacks {
			fb, err := invoker.Provider(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		defaultLLM = llm.NewFailoverProvider(defaultLLM, fallbacks, log)
		log.Info("model failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
	}
	invoker.SetDefault(defaultLLM)

	return &LLMComponents{
		DefaultLLM: defaultLLM,
		Invoker:    invoker,
	}, nil
}

// createLLMProvider creates an LLM provider based on the type field.
func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}
