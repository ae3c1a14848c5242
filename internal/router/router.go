// Package router composes the provider registry, rate limiter, response
// cache, usage ledger and retry/fallback coordinator behind the three
// operations the application layer consumes: Generate, TestAll and
// UsageReport.
package router

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/cache"
	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/ledger"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/ratelimit"
	"github.com/relaykit/llm-relay/internal/registry"
	"github.com/relaykit/llm-relay/internal/types"
)

// Router is the request-routing facade. Construct with New (or
// NewWithRegistry for pre-built providers) and release with Close.
type Router struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	ledger   *ledger.Ledger
	coord    *coordinator
	logger   *logrus.Logger
}

// New builds a router from configuration, constructing one adapter per
// enabled provider. Providers that fail to construct (missing credential,
// unknown type) are excluded from the pool and logged, not fatal — unless
// nothing remains.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Router, error) {
	reg := registry.New(cfg.Router.RoutingPolicy, logger)

	for _, pc := range cfg.EnabledProviders() {
		provider, err := buildProvider(ctx, pc, logger)
		if err != nil {
			logger.WithError(err).WithField("provider", pc.Name).
				Warn("Provider excluded from pool")
			continue
		}
		reg.Register(pc, provider)
	}

	if reg.Len() == 0 {
		return nil, llmerr.New(llmerr.ClassNoProvider, "", "no provider could be initialized")
	}

	return NewWithRegistry(cfg.Router, reg, logger), nil
}

// NewWithRegistry builds a router around an already-populated registry.
func NewWithRegistry(rcfg config.RouterConfig, reg *registry.Registry, logger *logrus.Logger) *Router {
	limiter := ratelimit.New(logger)
	for _, entry := range reg.Entries() {
		limiter.Register(entry.Config.Name, entry.Config.RequestsPerMinute)
	}

	ttl := rcfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	led := ledger.New(rcfg.LedgerCapacity)

	return &Router{
		registry: reg,
		limiter:  limiter,
		cache:    cache.New(ttl),
		ledger:   led,
		coord:    newCoordinator(reg, limiter, led, rcfg.BackoffBase, logger),
		logger:   logger,
	}
}

// Generate routes one normalized request to a backend, consulting the
// cache first and retrying or falling back per policy. The caller receives
// either a populated response or one terminal error; intermediate attempts
// are visible only through the ledger.
func (r *Router) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	key := cacheKey(req)
	if resp, ok := r.cache.Get(key); ok {
		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"provider":   resp.Provider,
		}).Debug("Cache hit")
		return resp, nil
	}

	resp, err := r.coord.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	r.cache.Put(key, resp)

	r.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"provider":   resp.Provider,
		"model":      resp.Model,
		"tokens":     resp.Usage.TotalTokens,
		"cost":       resp.Cost,
		"latency_ms": resp.Latency.Milliseconds(),
	}).Info("Request completed")

	return resp, nil
}

// cacheKey includes every request field that can change the output: the
// message sequence, the model override, the temperature, the analysis
// class, and the explicit provider preference.
func cacheKey(req *types.GenerationRequest) string {
	model := req.Model
	if req.Provider != "" {
		model = req.Provider + "/" + model
	}
	return cache.Key(req, model)
}

// TestAll health-checks every registered provider concurrently. Results
// are collected independently; one slow or failing provider never delays
// or fails the report for the others. No retries apply.
func (r *Router) TestAll(ctx context.Context) []types.HealthResult {
	entries := r.registry.Entries()
	results := make([]types.HealthResult, len(entries))

	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry *registry.Entry) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, entry.Config.Timeout)
			defer cancel()

			latency, err := entry.Provider.TestConnection(checkCtx)
			result := types.HealthResult{
				Provider:  entry.Config.Name,
				Healthy:   err == nil,
				LatencyMs: latency.Milliseconds(),
			}
			if err != nil {
				result.Error = err.Error()
			}
			results[i] = result
		}(i, entry)
	}
	wg.Wait()

	return results
}

// UsageReport aggregates ledger entries per provider within a window
// ("24h", "week" or "month").
func (r *Router) UsageReport(window string) (map[string]types.ProviderMetrics, error) {
	return r.ledger.Report(window)
}

// Ledger exposes the underlying attempt ledger.
func (r *Router) Ledger() *ledger.Ledger {
	return r.ledger
}

// CacheStats exposes response cache counters.
func (r *Router) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Providers returns the registered provider names in priority order.
func (r *Router) Providers() []string {
	entries := r.registry.Entries()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Config.Name
	}
	return names
}

// Close releases any adapters holding connections.
func (r *Router) Close() error {
	var firstErr error
	for _, entry := range r.registry.Entries() {
		if closer, ok := entry.Provider.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
