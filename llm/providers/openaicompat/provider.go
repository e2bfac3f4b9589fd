// =============================================================================
// OpenAI-Compatible Backend Base
// =============================================================================
// Shared Chat Completions implementation. The OpenAI and OpenRouter backends
// embed this and only override what differs (base URL, headers, pricing).
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/behole/institutionalized/internal/tlsutil"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/pricing"
	"github.com/behole/institutionalized/llm/providers"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible backend.
type Config struct {
	// Backend is the id reported by ID() and stamped on errors.
	Backend llm.BackendID

	// APIKey is the authentication key. Required.
	APIKey string

	// BaseURL is the base URL of the API (e.g., "https://api.openai.com").
	BaseURL string

	// Timeout is the HTTP client timeout. Defaults to 120s if zero.
	// Per-call deadlines come from the caller's context.
	Timeout time.Duration

	// EndpointPath is the chat completions path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, only "Authorization: Bearer <apiKey>" is set.
	BuildHeaders func(req *http.Request, apiKey string)

	// Pricing is the backend's price table. Required.
	Pricing *pricing.Table
}

// Provider is the base implementation for OpenAI-compatible backends.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates an OpenAI-compatible backend. An empty API key is a
// *llm.ConfigurationError.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if err := providers.RequireAPIKey(cfg.APIKey, cfg.Backend); err != nil {
		return nil, err
	}
	if cfg.Pricing == nil {
		return nil, &llm.ConfigurationError{Field: string(cfg.Backend) + ".pricing", Reason: "price table required"}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(timeout),
		Logger: logger.With(zap.String("backend", string(cfg.Backend))),
	}, nil
}

// ID returns the backend id.
func (p *Provider) ID() llm.BackendID { return p.Cfg.Backend }

// EstimateCost prices a call from the backend's table.
func (p *Provider) EstimateCost(inputTokens, outputTokens int, model string) float64 {
	return p.Cfg.Pricing.Estimate(inputTokens, outputTokens, model)
}

// Pricing exposes the price table for overrides.
func (p *Provider) Pricing() *pricing.Table { return p.Cfg.Pricing }

// SetBuildHeaders sets a custom header builder.
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
	}
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + p.Cfg.EndpointPath
}

// Call performs one non-streaming chat completion.
func (p *Provider) Call(ctx context.Context, spec llm.AgentSpec) (*llm.RawReply, error) {
	body := ChatRequest{
		Model:       spec.Model,
		Messages:    BuildMessages(spec),
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxOutputTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, p.ID())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.Logger.Debug("chat completion rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("model", spec.Model))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.ID())
	}

	var oaResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.MalformedReply(resp.StatusCode, "decode response: "+err.Error(), p.ID())
	}
	if len(oaResp.Choices) == 0 {
		return nil, providers.MalformedReply(resp.StatusCode, "response has no choices", p.ID())
	}

	reply := ToRawReply(oaResp)
	if reply.ModelEcho == "" {
		reply.ModelEcho = spec.Model
	}
	providers.FillUsage(reply, spec)
	return reply, nil
}
