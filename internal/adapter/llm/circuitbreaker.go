package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
)

const (
	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

var _ domain.LLMProvider = (*GuardedProvider)(nil)

// GuardedProvider puts a circuit breaker in front of one inference provider.
// Only provider-side failures trip it: a cancelled task, a prompt that is
// too large or a request the provider rejected as malformed leave it closed.
// While open, calls fail fast and the Invoker moves the provider to the back
// of each candidate list.
type GuardedProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// Guard wraps inner. Zero settings in cfg take the package defaults.
func Guard(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *GuardedProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	provider := inner.Name()
	return &GuardedProvider{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
			Name:        "inference:" + provider,
			MaxRequests: 1,
			Interval:    orDefault(cfg.Interval, defaultCBInterval),
			Timeout:     orDefault(cfg.Timeout, defaultCBTimeout),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return !providerAtFault(err)
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				level := slog.LevelInfo
				if to == gobreaker.StateOpen {
					level = slog.LevelWarn
				}
				logger.Log(context.Background(), level, "inference provider circuit changed",
					"provider", provider, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// providerAtFault reports whether err says something about the provider's
// health rather than about the caller or the request.
func providerAtFault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrContextOverflow):
		return false
	}
	return true
}

// Chat implements domain.LLMProvider.
func (p *GuardedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: provider %q unavailable (circuit %s): %w",
			domain.ErrProviderError, p.inner.Name(), p.breaker.State(), err)
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *GuardedProvider) Name() string { return p.inner.Name() }

// Available is false while the circuit is open.
func (p *GuardedProvider) Available() bool {
	return p.breaker.State() != gobreaker.StateOpen
}

// State returns the breaker state, for doctor output and tests.
func (p *GuardedProvider) State() gobreaker.State {
	return p.breaker.State()
}
