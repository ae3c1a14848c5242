package providers

import (
	"context"
	"strings"
	"time"

	"github.com/relaykit/llm-relay/internal/types"
)

// Provider is the contract every backend adapter implements. An adapter
// translates the normalized request into its backend's wire format,
// performs the network call under the caller-supplied context, and
// normalizes the reply. Adapters never retry; retry and fallback policy
// belongs to the coordinator.
type Provider interface {
	Name() string
	Capabilities() types.Capabilities
	Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error)
	TestConnection(ctx context.Context) (time.Duration, error)
}

// EstimateTokens approximates the token count of a text when the backend
// does not report usage: word count scaled by 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}

// EstimateUsage builds an estimated TokenUsage from prompt and completion
// text.
func EstimateUsage(prompt, completion string) types.TokenUsage {
	in := EstimateTokens(prompt)
	out := EstimateTokens(completion)
	return types.TokenUsage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		Estimated:    true,
	}
}

// ResolveModel picks the request's model override when present, otherwise
// the provider's default.
func ResolveModel(req *types.GenerationRequest, defaultModel string) string {
	if req.Model != "" {
		return req.Model
	}
	return defaultModel
}
