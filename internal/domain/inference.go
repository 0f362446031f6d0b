package domain

import "context"

// CapabilityChat is the inference capability used by every fallback path.
const CapabilityChat = "chat"

// StrategyAdaptive lets the provider pick a model from the preference list.
const StrategyAdaptive = "adaptive"

// InferenceParams are the capability parameters of an Invoke call.
type InferenceParams struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// InvokeOptions steer provider selection.
type InvokeOptions struct {
	Strategy        string   `json:"strategy,omitempty"`
	ModelPreference []string `json:"model_preference,omitempty"`
}

// InferenceResponse is the outcome of an Invoke call. Data holds the reply
// text for the chat capability.
type InferenceResponse struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Model   string      `json:"model,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// InferenceProvider is the external collaborator behind every fallback path.
type InferenceProvider interface {
	Invoke(ctx context.Context, capability string, params InferenceParams, opts InvokeOptions) (*InferenceResponse, error)
}
