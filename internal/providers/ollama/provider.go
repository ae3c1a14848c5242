package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

const defaultBaseURL = "http://localhost:11434"

// Provider adapts a locally-hosted Ollama backend: no auth, chat messages
// in, content under message.content, token counts in eval fields.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	cfg        *config.ProviderConfig
	logger     *logrus.Logger
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []types.Message        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string        `json:"model"`
	Message         types.Message `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// New creates an Ollama provider from its configuration.
func New(cfg *config.ProviderConfig, logger *logrus.Logger) (*Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Name returns the configured provider name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Capabilities returns the static capabilities of this provider variant.
func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{
		ProviderName:            p.cfg.Name,
		SupportsFunctionCalling: false,
		SupportsVision:          false,
		SupportsStreaming:       true,
		SupportsSystemPrompt:    true,
		SupportsJSONMode:        false,
		MaxContextWindow:        8192,
	}
}

// Generate performs one chat call against /api/chat.
func (p *Provider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	model := providers.ResolveModel(req, p.cfg.DefaultModel)

	options := make(map[string]interface{})
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	for k, v := range req.Extra {
		options[k] = v
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, llmerr.Wrap(llmerr.ClassParse, p.cfg.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, llmerr.Wrap(llmerr.ClassConfiguration, p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llmerr.New(llmerr.ClassUpstream, p.cfg.Name,
			fmt.Sprintf("unexpected status: %s", bytes.TrimSpace(payload))).WithStatus(httpResp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, llmerr.Wrap(llmerr.ClassParse, p.cfg.Name, err)
	}
	if parsed.Message.Content == "" {
		return nil, llmerr.New(llmerr.ClassParse, p.cfg.Name, "response contained no message content")
	}

	usage := types.TokenUsage{
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
		TotalTokens:  parsed.PromptEvalCount + parsed.EvalCount,
	}
	if usage.TotalTokens == 0 {
		usage = providers.EstimateUsage(req.Prompt(), parsed.Message.Content)
	}

	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}

	return &types.GenerationResponse{
		ID:        req.ID,
		Content:   parsed.Message.Content,
		Provider:  p.cfg.Name,
		Model:     respModel,
		Usage:     usage,
		Latency:   latency,
		Timestamp: time.Now(),
		Success:   true,
	}, nil
}

// TestConnection checks the local daemon via /api/tags.
func (p *Provider) TestConnection(ctx context.Context) (time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return 0, llmerr.Wrap(llmerr.ClassConfiguration, p.cfg.Name, err)
	}

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		p.logger.WithError(err).WithField("provider", p.cfg.Name).Debug("Health check failed")
		return latency, p.classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return latency, llmerr.New(llmerr.ClassUpstream, p.cfg.Name, "tags endpoint unavailable").
			WithStatus(httpResp.StatusCode)
	}
	return latency, nil
}

func (p *Provider) classifyTransportError(err error) *llmerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.Wrap(llmerr.ClassTimeout, p.cfg.Name, err)
	}
	return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err)
}

var _ providers.Provider = (*Provider)(nil)
