package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

// Provider adapts Google Gemini backends via the generative-ai SDK.
type Provider struct {
	client *genai.Client
	cfg    *config.ProviderConfig
	logger *logrus.Logger
}

// New creates a Gemini provider from its configuration.
func New(ctx context.Context, cfg *config.ProviderConfig, logger *logrus.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.New(llmerr.ClassConfiguration, cfg.Name, "missing API key")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, llmerr.Wrap(llmerr.ClassConfiguration, cfg.Name, err)
	}

	return &Provider{
		client: client,
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
		MaxContextWindow:        1000000,
	}
}

// Generate performs one content-generation call. The message sequence maps
// onto a chat session: prior turns become history, the final user turn is
// sent as the message.
func (p *Provider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	modelName := providers.ResolveModel(req, p.cfg.DefaultModel)
	model := p.client.GenerativeModel(modelName)

	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	if req.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*req.MaxTokens))
	}

	var history []*genai.Content
	var last string
	for i, msg := range req.Messages {
		switch {
		case msg.Role == "system":
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(msg.Content)},
			}
		case i == len(req.Messages)-1:
			last = msg.Content
		default:
			role := "user"
			if msg.Role == "assistant" {
				role = "model"
			}
			history = append(history, &genai.Content{
				Role:  role,
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}

	session := model.StartChat()
	session.History = history

	start := time.Now()
	resp, err := session.SendMessage(ctx, genai.Text(last))
	latency := time.Since(start)

	if err != nil {
		return nil, p.classifyError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llmerr.New(llmerr.ClassParse, p.cfg.Name, "response contained no candidates")
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			content.WriteString(string(text))
		}
	}

	var usage types.TokenUsage
	if resp.UsageMetadata != nil {
		usage = types.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if usage.TotalTokens == 0 {
		usage = providers.EstimateUsage(req.Prompt(), content.String())
	}

	return &types.GenerationResponse{
		ID:        req.ID,
		Content:   content.String(),
		Provider:  p.cfg.Name,
		Model:     modelName,
		Usage:     usage,
		Latency:   latency,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"finish_reason": fmt.Sprintf("%d", resp.Candidates[0].FinishReason),
		},
		Success: true,
	}, nil
}

// TestConnection verifies the backend is reachable with a token count, the
// cheapest call the API offers.
func (p *Provider) TestConnection(ctx context.Context) (time.Duration, error) {
	model := p.client.GenerativeModel(p.cfg.DefaultModel)

	start := time.Now()
	_, err := model.CountTokens(ctx, genai.Text("ping"))
	latency := time.Since(start)

	if err != nil {
		p.logger.WithError(err).WithField("provider", p.cfg.Name).Debug("Health check failed")
		return latency, p.classifyError(err)
	}
	return latency, nil
}

// Close releases the underlying gRPC client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// classifyError maps SDK errors into the shared taxonomy.
func (p *Provider) classifyError(err error) *llmerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.Wrap(llmerr.ClassTimeout, p.cfg.Name, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return llmerr.Wrap(llmerr.ClassRateLimited, p.cfg.Name, err).WithStatus(429)
		}
		return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err).WithStatus(apiErr.Code)
	}

	return llmerr.Wrap(llmerr.ClassUpstream, p.cfg.Name, err)
}

var _ providers.Provider = (*Provider)(nil)
