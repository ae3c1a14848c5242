package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/types"
)

func TestGenerate_RejectsEmptyMessages(t *testing.T) {
	p := &fakeProvider{name: "a"}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	_, err := r.Generate(context.Background(), &types.GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no messages")
	assert.Zero(t, p.callCount())
}

func TestGenerate_AssignsRequestID(t *testing.T) {
	p := &fakeProvider{name: "a"}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	req := userRequest("hi")
	resp, err := r.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, req.ID, resp.ID)
}

func TestGenerate_SecondIdenticalRequestHitsCache(t *testing.T) {
	p := &fakeProvider{name: "a"}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	first, err := r.Generate(context.Background(), userRequest("same prompt"))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Generate(context.Background(), userRequest("same prompt"))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Latency, second.Latency)

	assert.Equal(t, 1, p.callCount(), "cache hit must not reach the adapter")

	stats := r.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGenerate_CacheHitProducesNoLedgerRecord(t *testing.T) {
	p := &fakeProvider{name: "a"}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	_, err := r.Generate(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	_, err = r.Generate(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Ledger().Len())
}

func TestGenerate_DifferentPromptsMissCache(t *testing.T) {
	p := &fakeProvider{name: "a"}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	_, err := r.Generate(context.Background(), userRequest("one"))
	require.NoError(t, err)
	_, err = r.Generate(context.Background(), userRequest("two"))
	require.NoError(t, err)

	assert.Equal(t, 2, p.callCount())
}

func TestGenerate_ProviderPreferencePartitionsCache(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	r, _ := newTestRouter(t, entryFor(a, 1, 0), entryFor(b, 2, 0))

	_, err := r.Generate(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	req := userRequest("hi")
	req.Provider = "b"
	resp, err := r.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, resp.Cached, "a preference change must bypass the earlier entry")
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, b.callCount())
}

func TestGenerate_FailuresAreNotCached(t *testing.T) {
	p := &fakeProvider{name: "a", script: []error{fatalErr("a")}}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	_, err := r.Generate(context.Background(), userRequest("hi"))
	require.Error(t, err)

	resp, err := r.Generate(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, p.callCount())
}

func TestGenerate_EmptyPoolIsTerminal(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Generate(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, llmerr.ClassNoProvider, llmerr.ClassOf(err))
	assert.True(t, llmerr.IsTerminal(err))
}

type slowProvider struct {
	fakeProvider
	delay time.Duration
}

func (s *slowProvider) TestConnection(ctx context.Context) (time.Duration, error) {
	select {
	case <-time.After(s.delay):
		return s.delay, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestTestAll_ReportsEveryProvider(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	r, _ := newTestRouter(t, entryFor(a, 1, 0), entryFor(b, 2, 0))

	results := r.TestAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Provider)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, "b", results[1].Provider)
	assert.True(t, results[1].Healthy)
}

func TestTestAll_OneFailureDoesNotHideOthers(t *testing.T) {
	healthy := &fakeProvider{name: "up"}
	slow := &slowProvider{fakeProvider: fakeProvider{name: "down"}, delay: time.Minute}

	he := entryFor(healthy, 1, 0)
	se := routerEntry{
		cfg:      entryFor(&slow.fakeProvider, 2, 0).cfg,
		provider: slow,
	}
	se.cfg.Timeout = 20 * time.Millisecond

	r, _ := newTestRouter(t, he, se)

	start := time.Now()
	results := r.TestAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 2)
	assert.True(t, results[0].Healthy)
	assert.False(t, results[1].Healthy)
	assert.NotEmpty(t, results[1].Error)
}

func TestUsageReport_WindowedAggregation(t *testing.T) {
	p := &fakeProvider{
		name:  "a",
		usage: types.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
	r, _ := newTestRouter(t, entryFor(p, 1, 0))

	_, err := r.Generate(context.Background(), userRequest("one"))
	require.NoError(t, err)
	_, err = r.Generate(context.Background(), userRequest("two"))
	require.NoError(t, err)

	report, err := r.UsageReport("24h")
	require.NoError(t, err)
	require.Contains(t, report, "a")
	assert.Equal(t, 2, report["a"].Requests)
	assert.Equal(t, 30, report["a"].TotalTokens)
	assert.InDelta(t, 1.0, report["a"].SuccessRate, 1e-9)

	_, err = r.UsageReport("bogus")
	require.Error(t, err)
}

func TestProviders_PriorityOrder(t *testing.T) {
	a := &fakeProvider{name: "low"}
	b := &fakeProvider{name: "high"}
	r, _ := newTestRouter(t, entryFor(a, 9, 0), entryFor(b, 1, 0))

	assert.Equal(t, []string{"high", "low"}, r.Providers())
}
