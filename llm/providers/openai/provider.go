package openai

import (
	"net/http"

	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/pricing"
	"github.com/behole/institutionalized/llm/providers"
	"github.com/behole/institutionalized/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// DefaultBaseURL OpenAI API 地址
const DefaultBaseURL = "https://api.openai.com"

// OpenAIProvider 实现 OpenAI 模型后端。
// Chat Completions 请求由嵌入的 openaicompat.Provider 处理。
type OpenAIProvider struct {
	*openaicompat.Provider
	openaiCfg providers.OpenAIConfig
}

// NewOpenAIProvider 创建 OpenAI 后端；缺少 API key 返回 *llm.ConfigurationError
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	table := NewPriceTable()
	if len(cfg.Pricing) > 0 {
		table.UpdatePrices(cfg.Pricing)
	}

	base, err := openaicompat.New(openaicompat.Config{
		Backend: llm.BackendOpenAI,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Pricing: table,
	}, logger)
	if err != nil {
		return nil, err
	}

	p := &OpenAIProvider{Provider: base, openaiCfg: cfg}

	// 组织 ID 请求头
	if cfg.Organization != "" {
		p.SetBuildHeaders(func(req *http.Request, _ string) {
			req.Header.Set("OpenAI-Organization", cfg.Organization)
		})
	}
	return p, nil
}

// NewPriceTable 返回 OpenAI 默认价格表（美元 / 百万 token），未知模型按 gpt-4o 计价
func NewPriceTable() *pricing.Table {
	return pricing.NewTable(map[string]llm.Rate{
		"gpt-5":       {Input: 3.00, Output: 15.00},
		"gpt-5-pro":   {Input: 5.00, Output: 25.00},
		"gpt-4o":      {Input: 2.50, Output: 10.00},
		"gpt-4o-mini": {Input: 0.15, Output: 0.60},
		"gpt-4-turbo": {Input: 10.00, Output: 30.00},
		"o1":          {Input: 15.00, Output: 60.00},
		"o1-mini":     {Input: 3.00, Output: 12.00},
	}, llm.Rate{Input: 2.50, Output: 10.00})
}

func init() {
	llm.RegisterFactory(llm.BackendOpenAI, func(cfg llm.BackendConfig, logger *zap.Logger) (llm.ModelBackend, error) {
		p, err := NewOpenAIProvider(providers.OpenAIConfig{
			BaseProviderConfig: providers.FromBackendConfig(cfg),
			Organization:       cfg.Extra["organization"],
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
