package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentcore/internal/domain"
)

var _ domain.LLMProvider = (*FailoverProvider)(nil)

// FailoverProvider wraps a primary LLM provider with fallback providers.
// If the primary fails, it tries each fallback in order.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Chat tries the primary provider first, then each fallback on failure. A
// cancelled context stops the walk.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return chatInOrder(ctx, f.logger, append([]domain.LLMProvider{f.primary}, f.fallbacks...), req)
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}

// chatInOrder returns the first successful reply. Every failure is kept for
// the aggregated error.
func chatInOrder(ctx context.Context, logger *slog.Logger, providers []domain.LLMProvider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(providers) == 0 {
		return nil, domain.NewDomainError("llm.chatInOrder", domain.ErrProviderNotFound, "no providers")
	}

	failures := make([]string, 0, len(providers))
	var last error
	for i, p := range providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				logger.Info("failover succeeded", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		last = err
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		if i < len(providers)-1 {
			logger.Warn("llm provider failed, trying next", "provider", p.Name(), "error", err)
		}
	}
	if len(failures) == 1 {
		return nil, last
	}
	return nil, fmt.Errorf("all providers failed: [%s]: %w", strings.Join(failures, "; "), last)
}
