//go:build bedrock

package main

import (
	"log/slog"

	"agentcore/internal/adapter/llm"
	"agentcore/internal/domain"
	"agentcore/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
