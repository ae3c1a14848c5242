package openai

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

// Provider adapts OpenAI-compatible backends: bearer-token auth, a chat
// messages array, and content under choices[0].message.content.
type Provider struct {
	client *openai.Client
	cfg    *config.ProviderConfig
	logger *logrus.Logger
}

// New creates an OpenAI provider from its configuration.
func New(cfg *config.ProviderConfig, logger *logrus.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.New(llmerr.ClassConfiguration, cfg.Name, "missing API key")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
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
		SupportsFunctionCalling: true,
		SupportsVision:          true,
		SupportsStreaming:       true,
		SupportsSystemPrompt:    true,
		SupportsJSONMode:        true,
		MaxContextWindow:        128000,
	}
}

// Generate performs one chat completion call.
func (p *Provider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	model := providers.ResolveModel(req, p.cfg.DefaultModel)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	latency := time.Since(start)

	if err != nil {
		return nil, p.classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, llmerr.New(llmerr.ClassParse, p.cfg.Name, "response contained no choices")
	}
	content := resp.Choices[0].Message.Content

	usage := types.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = providers.EstimateUsage(req.Prompt(), content)
	}

	return &types.GenerationResponse{
		ID:        req.ID,
		Content:   content,
		Provider:  p.cfg.Name,
		Model:     resp.Model,
		Usage:     usage,
		Latency:   latency,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"finish_reason": string(resp.Choices[0].FinishReason),
			"response_id":   resp.ID,
		},
		Success: true,
	}, nil
}

// TestConnection verifies the backend is reachable via the models endpoint.
func (p *Provider) TestConnection(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := p.client.ListModels(ctx)
	latency := time.Since(start)

	if err != nil {
		p.logger.WithError(err).WithField("provider", p.cfg.Name).Debug("Health check failed")
		return latency, p.classifyError(err)
	}
	return latency, nil
}

// classifyError maps go-openai errors into the shared taxonomy.
func (p *Provider) classifyError(err error) *llmerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.Wrap(llmerr.ClassTimeout, p.cfg.Name, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return llmerr.Wrap(llmerr.ClassRateLimited, p.cfg.Name, err).WithStatus(429)
		}
		return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err).WithStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err)
}

var _ providers.Provider = (*Provider)(nil)
