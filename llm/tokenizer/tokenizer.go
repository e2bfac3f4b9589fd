package tokenizer

import (
	"strings"
	"sync"
)

// Counter 统一的 token 计数接口
type Counter interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// Name 返回计数器名称
	Name() string
}

// 计数器缓存，按模型复用 tiktoken 编码
var (
	counters   = make(map[string]Counter)
	countersMu sync.RWMutex
)

// Register 为模型注册计数器
func Register(model string, c Counter) {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters[model] = c
}

// ForModel 返回模型对应的计数器。
// OpenAI 系列模型使用 tiktoken，其他模型使用字符估算器。
func ForModel(model string) Counter {
	countersMu.RLock()
	c, ok := counters[model]
	countersMu.RUnlock()
	if ok {
		return c
	}

	if isOpenAIFamily(model) {
		c = NewTiktokenCounter(model)
	} else {
		c = NewEstimator()
	}
	Register(model, c)
	return c
}

// Estimate 估算文本的 token 数，计数器失败时回退到估算器。
// 用于后端响应缺少 usage 字段的情况。
func Estimate(model, text string) int {
	n, err := ForModel(model).CountTokens(text)
	if err != nil {
		n, _ = NewEstimator().CountTokens(text)
	}
	return n
}

// isOpenAIFamily 判断是否为 OpenAI 模型（含 OpenRouter 的 openai/ 前缀）
func isOpenAIFamily(model string) bool {
	m := strings.TrimPrefix(strings.ToLower(model), "openai/")
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding-"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
