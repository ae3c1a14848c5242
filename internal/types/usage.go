package types

import (
	"time"
)

// AttemptRecord is one ledger entry describing a single adapter call,
// successful or not. Immutable once written.
type AttemptRecord struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	Success      bool          `json:"success"`
	ErrorClass   string        `json:"error_class,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ProviderMetrics aggregates ledger entries for one provider within a
// reporting window.
type ProviderMetrics struct {
	Provider    string        `json:"provider"`
	Requests    int           `json:"requests"`
	TotalTokens int           `json:"total_tokens"`
	TotalCost   float64       `json:"total_cost"`
	AvgLatency  time.Duration `json:"avg_latency"`
	ErrorCount  int           `json:"error_count"`
	SuccessRate float64       `json:"success_rate"`
	LastUsed    time.Time     `json:"last_used"`
}
