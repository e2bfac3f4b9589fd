package openrouter

import (
	"net/http"

	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/pricing"
	"github.com/behole/institutionalized/llm/providers"
	"github.com/behole/institutionalized/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL OpenRouter API 地址（端点路径 /v1/chat/completions）
	DefaultBaseURL = "https://openrouter.ai/api"
	// DefaultSiteURL 默认 HTTP-Referer
	DefaultSiteURL = "https://github.com/behole/institutionalized"
	// DefaultAppName 默认 X-Title
	DefaultAppName = "Institutionalized"
)

// OpenRouterProvider 实现 OpenRouter 后端。
// 请求格式与 OpenAI 兼容，额外发送 HTTP-Referer 与 X-Title 归因请求头。
type OpenRouterProvider struct {
	*openaicompat.Provider
	routerCfg providers.OpenRouterConfig
}

// NewOpenRouterProvider 创建 OpenRouter 后端；缺少 API key 返回 *llm.ConfigurationError
func NewOpenRouterProvider(cfg providers.OpenRouterConfig, logger *zap.Logger) (*OpenRouterProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	table := NewPriceTable()
	if len(cfg.Pricing) > 0 {
		table.UpdatePrices(cfg.Pricing)
	}

	base, err := openaicompat.New(openaicompat.Config{
		Backend: llm.BackendOpenRouter,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Pricing: table,
		BuildHeaders: func(req *http.Request, _ string) {
			req.Header.Set("HTTP-Referer", cfg.SiteURL)
			req.Header.Set("X-Title", cfg.AppName)
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return &OpenRouterProvider{Provider: base, routerCfg: cfg}, nil
}

// NewPriceTable 返回 OpenRouter 默认价格表（美元 / 百万 token），未知模型按通用估算计价
func NewPriceTable() *pricing.Table {
	return pricing.NewTable(map[string]llm.Rate{
		"anthropic/claude-3.5-sonnet": {Input: 3.00, Output: 15.00},
		"openai/gpt-4o":               {Input: 2.50, Output: 10.00},
		"google/gemini-pro-1.5":       {Input: 1.25, Output: 5.00},
		"meta-llama/llama-3.1-70b":    {Input: 0.50, Output: 0.80},
	}, llm.Rate{Input: 1.00, Output: 3.00})
}

func init() {
	llm.RegisterFactory(llm.BackendOpenRouter, func(cfg llm.BackendConfig, logger *zap.Logger) (llm.ModelBackend, error) {
		p, err := NewOpenRouterProvider(providers.OpenRouterConfig{
			BaseProviderConfig: providers.FromBackendConfig(cfg),
			SiteURL:            cfg.Extra["site_url"],
			AppName:            cfg.Extra["app_name"],
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
