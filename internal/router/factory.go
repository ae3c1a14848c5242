package router

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/providers/anthropic"
	"github.com/relaykit/llm-relay/internal/providers/gemini"
	"github.com/relaykit/llm-relay/internal/providers/ollama"
	"github.com/relaykit/llm-relay/internal/providers/openai"
	"github.com/relaykit/llm-relay/internal/providers/textgen"
)

// buildProvider constructs the adapter variant named by the config's type.
func buildProvider(ctx context.Context, cfg config.ProviderConfig, logger *logrus.Logger) (providers.Provider, error) {
	switch cfg.Type {
	case config.TypeOpenAI:
		return openai.New(&cfg, logger)
	case config.TypeAnthropic:
		return anthropic.New(&cfg, logger)
	case config.TypeGemini:
		return gemini.New(ctx, &cfg, logger)
	case config.TypeOllama:
		return ollama.New(&cfg, logger)
	case config.TypeTextgen:
		return textgen.New(&cfg, logger)
	default:
		return nil, llmerr.New(llmerr.ClassConfiguration, cfg.Name,
			fmt.Sprintf("unknown provider type %q", cfg.Type))
	}
}
