package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/tokenizer"
)

// maxErrorBody 错误响应体读取上限
const maxErrorBody = 64 << 10

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.BackendError
// 这是所有后端使用的通用错误映射函数
func MapHTTPError(status int, body string, backend llm.BackendID) *llm.BackendError {
	e := &llm.BackendError{Status: status, Body: body, Backend: backend}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		lower := strings.ToLower(body)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case http.StatusRequestTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	case 529: // 模型过载（Anthropic 使用）
		e.Code = llm.ErrModelOverloaded
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// TransportError 网络层失败（连接、超时、取消），视为可重试
func TransportError(err error, backend llm.BackendID) *llm.BackendError {
	code := llm.ErrUpstreamError
	if strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "Client.Timeout") {
		code = llm.ErrUpstreamTimeout
	}
	return &llm.BackendError{
		Code:      code,
		Status:    0,
		Body:      err.Error(),
		Retryable: true,
		Backend:   backend,
	}
}

// MalformedReply 响应信封缺少必要字段或无法解析
func MalformedReply(status int, reason string, backend llm.BackendID) *llm.BackendError {
	return &llm.BackendError{
		Code:      llm.ErrMalformedReply,
		Status:    status,
		Body:      reason,
		Retryable: true,
		Backend:   backend,
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	// OpenAI 与 Anthropic 均使用 {"error":{"message","type"}} 结构
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	// 回退到原始文本
	return string(data)
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
		_ = body.Close()
	}
}

// FillUsage 当响应缺少 usage 字段时估算 token 数，并在元数据中标记
func FillUsage(reply *llm.RawReply, spec llm.AgentSpec) {
	if reply.InputTokens > 0 || reply.OutputTokens > 0 {
		return
	}
	model := reply.ModelEcho
	if model == "" {
		model = spec.Model
	}
	reply.InputTokens = tokenizer.Estimate(model, spec.SystemPrompt+"\n"+spec.Prompt)
	reply.OutputTokens = tokenizer.Estimate(model, reply.Text)
	if reply.ProviderMetadata == nil {
		reply.ProviderMetadata = make(map[string]string)
	}
	reply.ProviderMetadata[llm.MetaUsageEstimated] = "true"
}

// RequireAPIKey 构造期校验 API key
func RequireAPIKey(apiKey string, backend llm.BackendID) error {
	if strings.TrimSpace(apiKey) == "" {
		return &llm.ConfigurationError{
			Field:  string(backend) + ".api_key",
			Reason: "missing API key",
		}
	}
	return nil
}
