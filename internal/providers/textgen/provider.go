package textgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/providers"
	"github.com/relaykit/llm-relay/internal/types"
)

// Provider adapts backends that accept a single prompt string and return
// bare generated text as the response body. Auth is an optional bearer
// token; token counts are always estimated.
type Provider struct {
	httpClient *http.Client
	cfg        *config.ProviderConfig
	logger     *logrus.Logger
}

// New creates a text-generation provider from its configuration.
func New(cfg *config.ProviderConfig, logger *logrus.Logger) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, llmerr.New(llmerr.ClassConfiguration, cfg.Name, "missing base URL")
	}

	return &Provider{
		httpClient: &http.Client{},
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
		SupportsStreaming:       false,
		SupportsSystemPrompt:    false,
		SupportsJSONMode:        false,
		MaxContextWindow:        4096,
	}
}

// Generate posts the flattened prompt and reads the body as the completion.
func (p *Provider) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResponse, error) {
	prompt := req.Prompt()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, strings.NewReader(prompt))
	if err != nil {
		return nil, llmerr.Wrap(llmerr.ClassConfiguration, p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "text/plain")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		return nil, p.classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, llmerr.New(llmerr.ClassUpstream, p.cfg.Name,
			fmt.Sprintf("unexpected status %d", httpResp.StatusCode)).WithStatus(httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, llmerr.Wrap(llmerr.ClassParse, p.cfg.Name, err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return nil, llmerr.New(llmerr.ClassParse, p.cfg.Name, "response body was empty")
	}

	return &types.GenerationResponse{
		ID:        req.ID,
		Content:   content,
		Provider:  p.cfg.Name,
		Model:     providers.ResolveModel(req, p.cfg.DefaultModel),
		Usage:     providers.EstimateUsage(prompt, content),
		Latency:   latency,
		Timestamp: time.Now(),
		Success:   true,
	}, nil
}

// TestConnection probes the endpoint with a HEAD request.
func (p *Provider) TestConnection(ctx context.Context) (time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.BaseURL, nil)
	if err != nil {
		return 0, llmerr.Wrap(llmerr.ClassConfiguration, p.cfg.Name, err)
	}
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		p.logger.WithError(err).WithField("provider", p.cfg.Name).Debug("Health check failed")
		return latency, p.classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return latency, llmerr.New(llmerr.ClassUpstream, p.cfg.Name, "endpoint unavailable").
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
