package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BackendID 标识一个模型服务后端，取代按字符串分派的 provider 名称。
type BackendID string

const (
	BackendOpenAI     BackendID = "openai"
	BackendAnthropic  BackendID = "anthropic"
	BackendOpenRouter BackendID = "openrouter"
)

// String 实现 fmt.Stringer
func (b BackendID) String() string { return string(b) }

// ParseBackendID 解析后端名称（大小写不敏感）
func ParseBackendID(s string) (BackendID, error) {
	id := BackendID(strings.ToLower(strings.TrimSpace(s)))
	switch id {
	case BackendOpenAI, BackendAnthropic, BackendOpenRouter:
		return id, nil
	}
	return "", &ConfigurationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", s)}
}

// 统一的后端错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "LLM_INVALID_REQUEST"   // 参数/格式错误
	ErrUnauthorized     ErrorCode = "LLM_UNAUTHORIZED"      // 未授权或密钥失效
	ErrForbidden        ErrorCode = "LLM_FORBIDDEN"         // 权限或内容策略拒绝
	ErrRateLimited      ErrorCode = "LLM_RATE_LIMITED"      // 上游限流
	ErrQuotaExceeded    ErrorCode = "LLM_QUOTA_EXCEEDED"    // 额度/配额用尽
	ErrModelOverloaded  ErrorCode = "LLM_MODEL_OVERLOADED"  // 模型过载
	ErrUpstreamTimeout  ErrorCode = "LLM_UPSTREAM_TIMEOUT"  // 单次调用超时
	ErrUpstreamError    ErrorCode = "LLM_UPSTREAM_ERROR"    // 上游 5xx/网络错误
	ErrMalformedReply   ErrorCode = "LLM_MALFORMED_REPLY"   // 响应信封缺字段或无法解析
)

// BackendError 后端调用失败：非 2xx 响应、网络错误或响应信封格式错误。
type BackendError struct {
	Code      ErrorCode `json:"code"`
	Status    int       `json:"status"`
	Body      string    `json:"body"`
	Retryable bool      `json:"retryable"`
	Backend   BackendID `json:"backend,omitempty"`
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend error (status %d, %s): %s", e.Backend, e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("%s backend error (%s): %s", e.Backend, e.Code, e.Body)
}

// ConfigurationError 配置错误，在任何网络调用之前快速失败。
type ConfigurationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// AgentSpec 描述一次 agent 调用。由调用方按拓扑步骤构造，引擎不会修改它。
type AgentSpec struct {
	// Label 在审计日志中标识该 agent
	Label           string        `json:"label" yaml:"label"`
	Backend         BackendID     `json:"backend" yaml:"backend"`
	Model           string        `json:"model" yaml:"model"`
	Prompt          string        `json:"prompt" yaml:"prompt"`
	SystemPrompt    string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature     float64       `json:"temperature" yaml:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens" yaml:"max_output_tokens"`
	// Timeout 覆盖本次调用的截止时间，0 表示使用运行级默认值
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// 调用参数默认值
const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 4096
)

// NewAgentSpec 以默认温度和输出上限构造 AgentSpec
func NewAgentSpec(label string, backend BackendID, model, prompt string) AgentSpec {
	return AgentSpec{
		Label:           label,
		Backend:         backend,
		Model:           model,
		Prompt:          prompt,
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// Validate 校验调用参数，失败返回 *ConfigurationError
func (s AgentSpec) Validate() error {
	switch {
	case s.Backend == "":
		return &ConfigurationError{Field: "backend", Reason: "required"}
	case strings.TrimSpace(s.Model) == "":
		return &ConfigurationError{Field: "model", Reason: "required"}
	case strings.TrimSpace(s.Prompt) == "":
		return &ConfigurationError{Field: "prompt", Reason: "required"}
	case s.Temperature < 0 || s.Temperature > 2:
		return &ConfigurationError{Field: "temperature", Reason: fmt.Sprintf("%.2f out of range [0, 2]", s.Temperature)}
	case s.MaxOutputTokens <= 0:
		return &ConfigurationError{Field: "max_output_tokens", Reason: "must be positive"}
	case s.Timeout < 0:
		return &ConfigurationError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// RawReply 后端返回的原始结果，尚未抽取结构化数据。
type RawReply struct {
	Text             string            `json:"text"`
	ModelEcho        string            `json:"model"`
	InputTokens      int               `json:"input_tokens"`
	OutputTokens     int               `json:"output_tokens"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`
}

// 常用 ProviderMetadata 键
const (
	MetaResponseID     = "response_id"
	MetaFinishReason   = "finish_reason"
	MetaUsageEstimated = "usage_estimated"
)

// ModelBackend 定义了统一的模型后端接口。
// 每次 Call 恰好发起一次出站请求，后端内部不做重试。
type ModelBackend interface {
	// Call 发起一次同步调用
	Call(ctx context.Context, spec AgentSpec) (*RawReply, error)

	// EstimateCost 按后端价格表估算美元成本；未知模型使用兜底价格，不会失败
	EstimateCost(inputTokens, outputTokens int, model string) float64

	// ID 返回后端标识
	ID() BackendID
}
