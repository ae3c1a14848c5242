// Package ratelimit throttles outbound calls per provider. This is
// advisory backpressure against the upstream's own limits, not a queue:
// callers block until their slot opens, in arrival order at the mutex.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// gate tracks the timestamp of the last permitted call for one provider.
type gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// Limiter is a per-provider call throttle. A call is permitted only when
// 60s/requests_per_minute has elapsed since the previous permitted call.
type Limiter struct {
	mu     sync.RWMutex
	gates  map[string]*gate
	logger *logrus.Logger
}

// New creates an empty limiter.
func New(logger *logrus.Logger) *Limiter {
	return &Limiter{
		gates:  make(map[string]*gate),
		logger: logger,
	}
}

// Register configures the throttle interval for a provider. Must be called
// before Wait; unknown providers pass unthrottled.
func (l *Limiter) Register(provider string, requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gates[provider] = &gate{
		interval: time.Minute / time.Duration(requestsPerMinute),
	}
}

// Wait blocks until the provider's next slot opens or the context is
// cancelled. The slot is reserved before sleeping, so concurrent callers
// space out rather than stampede when the sleep completes.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	l.mu.RLock()
	g, ok := l.gates[provider]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	next := g.last.Add(g.interval)
	if !next.After(now) {
		g.last = now
		g.mu.Unlock()
		return nil
	}
	g.last = next
	delay := next.Sub(now)
	g.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"provider": provider,
		"delay_ms": delay.Milliseconds(),
	}).Debug("Throttling outbound call")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
