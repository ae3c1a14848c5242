package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

// Anthropic requires max_tokens on every request.
const defaultMaxTokens = 1024

// Provider adapts the Anthropic protocol family: custom API-key header
// plus a version header, content returned under content[0].text.
type Provider struct {
	client *anthropic.Client
	cfg    *config.ProviderConfig
	logger *logrus.Logger
}

// New creates an Anthropic provider from its configuration.
func New(cfg *config.ProviderConfig, logger *logrus.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.New(llmerr.ClassConfiguration, cfg.Name, "missing API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &Provider{
		client: &client,
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
		SupportsJSONMode:        false,
		MaxContextWindow:        200000,
	}
}

// Generate performs one messages call.
func (p *Provider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	model := providers.ResolveModel(req, p.cfg.DefaultModel)

	// System turns are carried separately from the messages array.
	var system string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system, Type: "text"},
		}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)

	if err != nil {
		return nil, p.classifyError(err)
	}

	if len(resp.Content) == 0 {
		return nil, llmerr.New(llmerr.ClassParse, p.cfg.Name, "response contained no content blocks")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	usage := types.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	if usage.TotalTokens == 0 {
		usage = providers.EstimateUsage(req.Prompt(), content.String())
	}

	return &types.GenerationResponse{
		ID:        req.ID,
		Content:   content.String(),
		Provider:  p.cfg.Name,
		Model:     string(resp.Model),
		Usage:     usage,
		Latency:   latency,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"stop_reason": string(resp.StopReason),
			"response_id": resp.ID,
		},
		Success: true,
	}, nil
}

// TestConnection issues a minimal one-token message on the default model.
func (p *Provider) TestConnection(ctx context.Context) (time.Duration, error) {
	params := anthropic.MessageNewParams{
		Model: anthropic.Model(p.cfg.DefaultModel),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
		MaxTokens: 1,
	}

	start := time.Now()
	_, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)

	if err != nil {
		p.logger.WithError(err).WithField("provider", p.cfg.Name).Debug("Health check failed")
		return latency, p.classifyError(err)
	}
	return latency, nil
}

// classifyError maps anthropic-sdk-go errors into the shared taxonomy.
func (p *Provider) classifyError(err error) *llmerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.Wrap(llmerr.ClassTimeout, p.cfg.Name, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return llmerr.Wrap(llmerr.ClassRateLimited, p.cfg.Name, err).WithStatus(429)
		}
		return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err).WithStatus(apiErr.StatusCode)
	}

	return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err)
}

var _ providers.Provider = (*Provider)(nil)
