package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/ledger"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/ratelimit"
	"github.com/relaykit/llm-relay/internal/registry"
	"github.com/relaykit/llm-relay/internal/types"
)

// coordinator drives one logical request through one or more providers
// until success or exhaustion. Attempts are strictly sequential; fallback
// walks candidates in ascending priority and never revisits a provider.
type coordinator struct {
	registry    *registry.Registry
	limiter     *ratelimit.Limiter
	ledger      *ledger.Ledger
	backoffBase float64
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *logrus.Logger
}

func newCoordinator(reg *registry.Registry, limiter *ratelimit.Limiter, led *ledger.Ledger, backoffBase float64, logger *logrus.Logger) *coordinator {
	if backoffBase < 1 {
		backoffBase = 2
	}
	return &coordinator{
		registry:    reg,
		limiter:     limiter,
		ledger:      led,
		backoffBase: backoffBase,
		sleep:       sleepContext,
		logger:      logger,
	}
}

// execute runs the retry/fallback state machine for one logical request.
func (c *coordinator) execute(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	entry, err := c.registry.Select(req)
	if err != nil {
		return nil, err
	}

	tried := make(map[string]bool)
	var failures []*llmerr.Error

	for entry != nil {
		tried[entry.Config.Name] = true

		resp, attemptFailures, err := c.attemptProvider(ctx, entry, req)
		failures = append(failures, attemptFailures...)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}

		next := c.registry.NextCandidate(tried)
		if next != nil {
			c.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"from":       entry.Config.Name,
				"to":         next.Config.Name,
			}).Info("Falling back to next provider")
		}
		entry = next
	}

	return nil, &llmerr.ExhaustedError{Failures: failures}
}

// attemptProvider runs up to max_retries+1 attempts on one provider. It
// returns a response on success, the collected failures when the provider
// is exhausted or hit a fallback-eligible error, or a non-nil error only
// when the caller cancelled the request.
func (c *coordinator) attemptProvider(ctx context.Context, entry *registry.Entry, req *types.GenerationRequest) (*types.GenerationResponse, []*llmerr.Error, error) {
	cfg := entry.Config
	model := providers.ResolveModel(req, cfg.DefaultModel)
	var failures []*llmerr.Error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"provider":   cfg.Name,
				"attempt":    attempt + 1,
				"delay_ms":   delay.Milliseconds(),
			}).Debug("Retrying after backoff")

			if err := c.sleep(ctx, delay); err != nil {
				return nil, failures, fmt.Errorf("request cancelled during retry backoff: %w", err)
			}
		}

		if err := c.limiter.Wait(ctx, cfg.Name); err != nil {
			return nil, failures, fmt.Errorf("request cancelled while rate limited: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		start := time.Now()
		resp, err := entry.Provider.Generate(callCtx, req)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			resp.Cost = attemptCost(&cfg, resp.Model, resp.Usage)
			c.ledger.Append(types.AttemptRecord{
				Provider:     cfg.Name,
				Model:        resp.Model,
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
				TotalTokens:  resp.Usage.TotalTokens,
				Cost:         resp.Cost,
				Latency:      elapsed,
				Success:      true,
				Timestamp:    time.Now(),
			})
			return resp, failures, nil
		}

		failure := classify(cfg.Name, err)
		failures = append(failures, failure)
		c.ledger.Append(types.AttemptRecord{
			Provider:   cfg.Name,
			Model:      model,
			Latency:    elapsed,
			Success:    false,
			ErrorClass: string(failure.Class),
			Timestamp:  time.Now(),
		})

		c.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": req.ID,
			"provider":   cfg.Name,
			"attempt":    attempt + 1,
			"class":      string(failure.Class),
		}).Warn("Provider attempt failed")

		if ctx.Err() != nil {
			return nil, failures, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		if !failure.Retryable() {
			break
		}
	}

	return nil, failures, nil
}

// backoffDelay computes base^attempt seconds.
func (c *coordinator) backoffDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(c.backoffBase, float64(attempt)) * float64(time.Second))
}

// attemptCost prices a successful attempt from the provider's pricing
// table; models with no entry cost 0.
func attemptCost(cfg *config.ProviderConfig, model string, usage types.TokenUsage) float64 {
	pricing, ok := cfg.PriceFor(model)
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000*pricing.InputCostPer1K +
		float64(usage.OutputTokens)/1000*pricing.OutputCostPer1K
}

// classify normalizes any adapter error into the shared taxonomy.
func classify(provider string, err error) *llmerr.Error {
	var le *llmerr.Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.Wrap(llmerr.ClassTimeout, provider, err)
	}
	return llmerr.Wrap(llmerr.ClassUpstream, provider, err)
}

// sleepContext sleeps for d unless the context is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
