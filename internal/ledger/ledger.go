// Package ledger keeps a bounded, append-only record of every generation
// attempt for usage and cost reporting.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/relaykit/llm-relay/internal/types"
)

// Reporting windows accepted by Report.
const (
	Window24h   = "24h"
	WindowWeek  = "week"
	WindowMonth = "month"
)

// Ledger is a mutex-guarded FIFO of attempt records. On overflow the
// oldest records are discarded first, trading long-horizon accuracy for
// bounded memory.
type Ledger struct {
	mu       sync.Mutex
	records  []types.AttemptRecord
	capacity int
}

// New creates a ledger retaining at most capacity records.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ledger{
		records:  make([]types.AttemptRecord, 0, capacity),
		capacity: capacity,
	}
}

// Append records one attempt. Records are immutable once written.
func (l *Ledger) Append(record types.AttemptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) >= l.capacity {
		overflow := len(l.records) - l.capacity + 1
		l.records = l.records[overflow:]
	}
	l.records = append(l.records, record)
}

// Len returns the number of stored records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of all stored records, oldest first.
func (l *Ledger) Records() []types.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AttemptRecord, len(l.records))
	copy(out, l.records)
	return out
}

// windowDuration translates a window name into a lookback duration.
func windowDuration(window string) (time.Duration, error) {
	switch window {
	case Window24h:
		return 24 * time.Hour, nil
	case WindowWeek:
		return 7 * 24 * time.Hour, nil
	case WindowMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown report window %q", window)
	}
}

// Report aggregates in-window records per provider.
func (l *Ledger) Report(window string) (map[string]types.ProviderMetrics, error) {
	lookback, err := windowDuration(window)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-lookback)

	l.mu.Lock()
	defer l.mu.Unlock()

	type accumulator struct {
		metrics   types.ProviderMetrics
		latencies time.Duration
		successes int
	}
	acc := make(map[string]*accumulator)

	for _, rec := range l.records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		a, ok := acc[rec.Provider]
		if !ok {
			a = &accumulator{metrics: types.ProviderMetrics{Provider: rec.Provider}}
			acc[rec.Provider] = a
		}

		a.metrics.Requests++
		a.metrics.TotalTokens += rec.TotalTokens
		a.metrics.TotalCost += rec.Cost
		a.latencies += rec.Latency
		if rec.Success {
			a.successes++
		} else {
			a.metrics.ErrorCount++
		}
		if rec.Timestamp.After(a.metrics.LastUsed) {
			a.metrics.LastUsed = rec.Timestamp
		}
	}

	report := make(map[string]types.ProviderMetrics, len(acc))
	for provider, a := range acc {
		if a.metrics.Requests > 0 {
			a.metrics.AvgLatency = a.latencies / time.Duration(a.metrics.Requests)
			a.metrics.SuccessRate = float64(a.successes) / float64(a.metrics.Requests)
		}
		report[provider] = a.metrics
	}
	return report, nil
}
