package types

import (
	"time"
)

// TokenUsage holds token counts for one generation. Estimated is set when
// the backend did not report counts and a word-count estimate was used.
type TokenUsage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

// GenerationResponse is the normalized reply returned by the router.
type GenerationResponse struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model"`
	Usage     TokenUsage             `json:"usage"`
	Cost      float64                `json:"cost"`
	Latency   time.Duration          `json:"latency"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cached    bool                   `json:"cached,omitempty"`
	Success   bool                   `json:"success"`
}

// HealthResult is one provider's outcome from a health-check fan-out.
type HealthResult struct {
	Provider  string `json:"provider"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
