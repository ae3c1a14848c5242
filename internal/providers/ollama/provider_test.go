package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/types"
)

func testProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	p, err := New(&config.ProviderConfig{
		Name:         "local",
		Type:         config.TypeOllama,
		BaseURL:      baseURL,
		DefaultModel: "llama3.1",
	}, logger)
	require.NoError(t, err)
	return p
}

func TestGenerate_Success(t *testing.T) {
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(chatResponse{
			Model:           "llama3.1",
			Message:         types.Message{Role: "assistant", Content: "hello there"},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       8,
		})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	temp := float32(0.4)
	maxTokens := 256

	resp, err := p.Generate(context.Background(), &types.GenerationRequest{
		ID:          "req-1",
		Messages:    []types.Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "local", resp.Provider)
	assert.Equal(t, "llama3.1", resp.Model)
	assert.True(t, resp.Success)

	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 8, resp.Usage.OutputTokens)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
	assert.False(t, resp.Usage.Estimated)

	assert.Equal(t, "llama3.1", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.InDelta(t, 0.4, gotReq.Options["temperature"].(float64), 1e-6)
	assert.InDelta(t, 256, gotReq.Options["num_predict"].(float64), 1e-6)
}

func TestGenerate_EstimatesUsageWhenCountsMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Message: types.Message{Role: "assistant", Content: "four words of reply"},
			Done:    true,
		})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	resp, err := p.Generate(context.Background(), &types.GenerationRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestGenerate_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	_, err := p.Generate(context.Background(), &types.GenerationRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var le *llmerr.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llmerr.ClassUpstream, le.Class)
	assert.Equal(t, http.StatusInternalServerError, le.Status)
	assert.True(t, le.Retryable())
}

func TestGenerate_EmptyContentIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Done: true})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	_, err := p.Generate(context.Background(), &types.GenerationRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, llmerr.ClassParse, llmerr.ClassOf(err))
}

func TestGenerate_ConnectionRefused(t *testing.T) {
	p := testProvider(t, "http://127.0.0.1:1")

	_, err := p.Generate(context.Background(), &types.GenerationRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var le *llmerr.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llmerr.ClassUpstream, le.Class)
	assert.Zero(t, le.Status)
	assert.True(t, le.Retryable())
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	latency, err := p.TestConnection(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestTestConnection_Unavailable(t *testing.T) {
	p := testProvider(t, "http://127.0.0.1:1")
	_, err := p.TestConnection(context.Background())
	require.Error(t, err)
}
