package providers

import (
	"time"

	"github.com/behole/institutionalized/llm"
)

// BaseProviderConfig 所有后端共享的基础配置字段。
// 各后端 Config 通过嵌入获得 APIKey、BaseURL、Timeout 与价格覆盖。
type BaseProviderConfig struct {
	APIKey  string              `json:"api_key" yaml:"api_key"`
	BaseURL string              `json:"base_url" yaml:"base_url"`
	Timeout time.Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Pricing map[string]llm.Rate `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// FromBackendConfig 由工厂配置构造基础配置
func FromBackendConfig(cfg llm.BackendConfig) BaseProviderConfig {
	return BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Pricing: cfg.Pricing,
	}
}

// OpenAIConfig OpenAI 后端配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// AnthropicConfig Anthropic 后端配置
type AnthropicConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// APIVersion anthropic-version 请求头，默认 2023-06-01
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// OpenRouterConfig OpenRouter 后端配置
type OpenRouterConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// SiteURL 作为 HTTP-Referer 发送，用于 OpenRouter 归因
	SiteURL string `json:"site_url,omitempty" yaml:"site_url,omitempty"`
	// AppName 作为 X-Title 发送
	AppName string `json:"app_name,omitempty" yaml:"app_name,omitempty"`
}
