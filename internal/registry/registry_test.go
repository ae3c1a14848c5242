package registry

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Capabilities() types.Capabilities {
	return types.Capabilities{ProviderName: s.name}
}

func (s *stubProvider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	return &types.GenerationResponse{Provider: s.name, Success: true}, nil
}

func (s *stubProvider) TestConnection(ctx context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

var _ providers.Provider = (*stubProvider)(nil)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(nil, logger)
}

func register(r *Registry, name string, priority int, tags ...string) {
	r.Register(config.ProviderConfig{
		Name:     name,
		Priority: priority,
		Tags:     tags,
	}, &stubProvider{name: name})
}

func TestRegistry_EntriesSortedByPriority(t *testing.T) {
	r := testRegistry(t)
	register(r, "slow", 10)
	register(r, "fast", 1)
	register(r, "mid", 5)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "fast", entries[0].Config.Name)
	assert.Equal(t, "mid", entries[1].Config.Name)
	assert.Equal(t, "slow", entries[2].Config.Name)
}

func TestRegistry_Get(t *testing.T) {
	r := testRegistry(t)
	register(r, "openai", 1)

	entry, ok := r.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "openai", entry.Config.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestSelect_ExplicitPreference(t *testing.T) {
	r := testRegistry(t)
	register(r, "primary", 1)
	register(r, "secondary", 2)

	entry, err := r.Select(&types.GenerationRequest{Provider: "secondary"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", entry.Config.Name)
}

func TestSelect_UnknownPreferenceFallsBackToPolicy(t *testing.T) {
	r := testRegistry(t)
	register(r, "primary", 1)

	entry, err := r.Select(&types.GenerationRequest{Provider: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "primary", entry.Config.Name)
}

func TestSelect_AnalysisClassMatchesTag(t *testing.T) {
	r := testRegistry(t)
	register(r, "premium", 1, "high-quality")
	register(r, "budget", 2, "low-cost")

	entry, err := r.Select(&types.GenerationRequest{AnalysisClass: "simple"})
	require.NoError(t, err)
	assert.Equal(t, "budget", entry.Config.Name)

	entry, err = r.Select(&types.GenerationRequest{AnalysisClass: "comprehensive"})
	require.NoError(t, err)
	assert.Equal(t, "premium", entry.Config.Name)
}

func TestSelect_ClassTagPrefersBestPriority(t *testing.T) {
	r := testRegistry(t)
	register(r, "budget-b", 5, "low-cost")
	register(r, "budget-a", 2, "low-cost")

	entry, err := r.Select(&types.GenerationRequest{AnalysisClass: "sentiment"})
	require.NoError(t, err)
	assert.Equal(t, "budget-a", entry.Config.Name)
}

func TestSelect_UnmappedClassFallsBackToPriority(t *testing.T) {
	r := testRegistry(t)
	register(r, "first", 1)
	register(r, "second", 2)

	entry, err := r.Select(&types.GenerationRequest{AnalysisClass: "unknown-class"})
	require.NoError(t, err)
	assert.Equal(t, "first", entry.Config.Name)
}

func TestSelect_NoTaggedProviderFallsBackToPriority(t *testing.T) {
	r := testRegistry(t)
	register(r, "untagged", 1)

	entry, err := r.Select(&types.GenerationRequest{AnalysisClass: "simple"})
	require.NoError(t, err)
	assert.Equal(t, "untagged", entry.Config.Name)
}

func TestSelect_EmptyRegistry(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Select(&types.GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, llmerr.ClassNoProvider, llmerr.ClassOf(err))
}

func TestNextCandidate_WalksPriorityOrderSkippingTried(t *testing.T) {
	r := testRegistry(t)
	register(r, "a", 1)
	register(r, "b", 2)
	register(r, "c", 3)

	tried := map[string]bool{"a": true}
	next := r.NextCandidate(tried)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.Config.Name)

	tried["b"] = true
	next = r.NextCandidate(tried)
	require.NotNil(t, next)
	assert.Equal(t, "c", next.Config.Name)

	tried["c"] = true
	assert.Nil(t, r.NextCandidate(tried))
}
