package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/llm-relay/internal/types"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hello"))
	// 10 words * 1.3
	assert.Equal(t, 13, EstimateTokens("one two three four five six seven eight nine ten"))
}

func TestEstimateUsage(t *testing.T) {
	usage := EstimateUsage("one two three four", "five six")
	assert.Equal(t, 5, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)
	assert.Equal(t, 7, usage.TotalTokens)
	assert.True(t, usage.Estimated)
}

func TestResolveModel(t *testing.T) {
	req := &types.GenerationRequest{}
	assert.Equal(t, "default", ResolveModel(req, "default"))

	req.Model = "override"
	assert.Equal(t, "override", ResolveModel(req, "default"))
}
