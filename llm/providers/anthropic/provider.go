package anthropic

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

const (
	// DefaultBaseURL Anthropic API 地址
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultAPIVersion anthropic-version 请求头
	DefaultAPIVersion = "2023-06-01"
)

// ClaudeProvider 实现 Anthropic Messages API 后端。
// 与 OpenAI 格式的差异：
// 1. 认证使用 x-api-key 请求头而非 Bearer Token
// 2. system 提示单独传递，不在 messages 中
// 3. 回复内容是内容块数组，取第一个 text 块
type ClaudeProvider struct {
	cfg     providers.AnthropicConfig
	client  *http.Client
	logger  *zap.Logger
	pricing *pricing.Table
}

// NewClaudeProvider 创建 Anthropic 后端；缺少 API key 返回 *llm.ConfigurationError
func NewClaudeProvider(cfg providers.AnthropicConfig, logger *zap.Logger) (*ClaudeProvider, error) {
	if err := providers.RequireAPIKey(cfg.APIKey, llm.BackendAnthropic); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second // 长输出响应较慢
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table := NewPriceTable()
	if len(cfg.Pricing) > 0 {
		table.UpdatePrices(cfg.Pricing)
	}

	return &ClaudeProvider{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("backend", string(llm.BackendAnthropic))),
		pricing: table,
	}, nil
}

// NewPriceTable 返回 Anthropic 默认价格表（美元 / 百万 token），未知模型按 claude-3-5-sonnet 计价
func NewPriceTable() *pricing.Table {
	return pricing.NewTable(map[string]llm.Rate{
		"claude-3-7-sonnet-20250219": {Input: 3.00, Output: 15.00},
		"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
		"claude-3-opus-20240229":     {Input: 15.00, Output: 75.00},
		"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
	}, llm.Rate{Input: 3.00, Output: 15.00})
}

func (p *ClaudeProvider) ID() llm.BackendID { return llm.BackendAnthropic }

func (p *ClaudeProvider) EstimateCost(inputTokens, outputTokens int, model string) float64 {
	return p.pricing.Estimate(inputTokens, outputTokens, model)
}

// Pricing 返回价格表，用于覆盖
func (p *ClaudeProvider) Pricing() *pricing.Table { return p.pricing }

type claudeMessage struct {
	Role    string          `json:"role"` // user 或 assistant
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"` // text, tool_use, thinking
	Text string `json:"text,omitempty"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"` // system 提示单独传递
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

func (p *ClaudeProvider) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", p.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// Call 发起一次 Messages API 调用
func (p *ClaudeProvider) Call(ctx context.Context, spec llm.AgentSpec) (*llm.RawReply, error) {
	body := claudeRequest{
		Model: spec.Model,
		Messages: []claudeMessage{{
			Role:    "user",
			Content: []claudeContent{{Type: "text", Text: spec.Prompt}},
		}},
		System:      spec.SystemPrompt,
		MaxTokens:   spec.MaxOutputTokens,
		Temperature: spec.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, p.ID())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Debug("messages request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("model", spec.Model))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.ID())
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, providers.MalformedReply(resp.StatusCode, "decode response: "+err.Error(), p.ID())
	}

	text, ok := firstText(claudeResp.Content)
	if !ok {
		return nil, providers.MalformedReply(resp.StatusCode, "response has no text content block", p.ID())
	}

	reply := &llm.RawReply{
		Text:      text,
		ModelEcho: claudeResp.Model,
		ProviderMetadata: map[string]string{
			llm.MetaResponseID:   claudeResp.ID,
			llm.MetaFinishReason: claudeResp.StopReason,
		},
	}
	if reply.ModelEcho == "" {
		reply.ModelEcho = spec.Model
	}
	if claudeResp.Usage != nil {
		reply.InputTokens = claudeResp.Usage.InputTokens
		reply.OutputTokens = claudeResp.Usage.OutputTokens
	}
	providers.FillUsage(reply, spec)
	return reply, nil
}

// firstText 返回第一个 text 内容块
func firstText(blocks []claudeContent) (string, bool) {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text, true
		}
	}
	return "", false
}

func init() {
	llm.RegisterFactory(llm.BackendAnthropic, func(cfg llm.BackendConfig, logger *zap.Logger) (llm.ModelBackend, error) {
		p, err := NewClaudeProvider(providers.AnthropicConfig{
			BaseProviderConfig: providers.FromBackendConfig(cfg),
			APIVersion:         cfg.Extra["api_version"],
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
