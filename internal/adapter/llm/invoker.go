package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"agentcore/internal/domain"
)

// StrategyDefault pins every call to the default provider.
const StrategyDefault = "default"

var _ domain.InferenceProvider = (*Invoker)(nil)

// Invoker serves the inference contract from a table of named providers.
// With the adaptive strategy the providers named in the model preference are
// tried in order, followed by the default provider. Providers whose circuit
// is open are tried last.
type Invoker struct {
	mu         sync.RWMutex
	providers  map[string]domain.LLMProvider
	defaultLLM domain.LLMProvider
	logger     *slog.Logger
}

// NewInvoker creates an Invoker with no providers.
func NewInvoker(logger *slog.Logger) *Invoker {
	return &Invoker{providers: make(map[string]domain.LLMProvider), logger: logger}
}

// AddProvider makes p selectable by name through a model preference.
func (inv *Invoker) AddProvider(p domain.LLMProvider) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, exists := inv.providers[p.Name()]; exists {
		return domain.NewDomainError("Invoker.AddProvider", domain.ErrDuplicate, p.Name())
	}
	inv.providers[p.Name()] = p
	return nil
}

// Provider returns the provider registered under name.
func (inv *Invoker) Provider(name string) (domain.LLMProvider, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	p, ok := inv.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Invoker.Provider", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// ProviderNames lists registered providers in sorted order.
func (inv *Invoker) ProviderNames() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	names := make([]string, 0, len(inv.providers))
	for name := range inv.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the provider used when no preference matches. It need not
// be registered; a FailoverProvider usually is not.
func (inv *Invoker) SetDefault(p domain.LLMProvider) {
	inv.mu.Lock()
	inv.defaultLLM = p
	inv.mu.Unlock()
}

// Invoke implements domain.InferenceProvider. Provider failures are reported
// in the response; the error return is reserved for cancellation.
func (inv *Invoker) Invoke(ctx context.Context, capability string, params domain.InferenceParams, opts domain.InvokeOptions) (*domain.InferenceResponse, error) {
	if capability != domain.CapabilityChat {
		return &domain.InferenceResponse{Success: false, Error: fmt.Sprintf("unsupported capability %q", capability)}, nil
	}

	candidates := inv.candidates(opts)
	if len(candidates) == 0 {
		return &domain.InferenceResponse{Success: false, Error: "no inference provider available"}, nil
	}

	resp, err := chatInOrder(ctx, inv.logger, candidates, domain.ChatRequest{
		Messages:    params.Messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &domain.InferenceResponse{Success: false, Error: err.Error()}, nil
	}

	usage := resp.Usage
	return &domain.InferenceResponse{
		Success: true,
		Data:    resp.Message.Content,
		Model:   resp.Model,
		Usage:   &usage,
	}, nil
}

// candidates resolves the ordered provider list for one call. Unknown
// preference names are skipped, duplicates collapse and providers with an
// open circuit move behind the healthy ones.
func (inv *Invoker) candidates(opts domain.InvokeOptions) []domain.LLMProvider {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var healthy, tripped []domain.LLMProvider
	seen := make(map[string]bool)
	add := func(p domain.LLMProvider) {
		if p == nil || seen[p.Name()] {
			return
		}
		seen[p.Name()] = true
		if g, ok := p.(interface{ Available() bool }); ok && !g.Available() {
			tripped = append(tripped, p)
			return
		}
		healthy = append(healthy, p)
	}

	if opts.Strategy != StrategyDefault {
		for _, name := range opts.ModelPreference {
			p, ok := inv.providers[name]
			if !ok {
				inv.logger.Debug("model preference not registered", "provider", name)
				continue
			}
			add(p)
		}
	}
	add(inv.defaultLLM)
	return append(healthy, tripped...)
}
