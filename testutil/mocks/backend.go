// MockBackend 的模型后端测试模拟实现。
//
// 支持脚本化回复、错误注入、延迟与按 prompt 路由。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/behole/institutionalized/llm"
)

// --- MockBackend 结构 ---

// Reply 是一条脚本化结果；Err 非空时返回错误
type Reply struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Delay        time.Duration
	Err          error
}

// MockBackend 是 llm.ModelBackend 的模拟实现
type MockBackend struct {
	mu sync.Mutex

	id llm.BackendID

	// 响应配置：脚本按顺序消费，耗尽后使用 fallback
	script   []Reply
	fallback Reply
	respond  func(ctx context.Context, spec llm.AgentSpec) (*llm.RawReply, error)

	// 价格（美元 / 百万 token）
	inputRate  float64
	outputRate float64

	// 调用记录
	calls []llm.AgentSpec
}

// NewMockBackend 创建新的 MockBackend，默认回复 "{}"
func NewMockBackend(id llm.BackendID) *MockBackend {
	return &MockBackend{
		id:       id,
		fallback: Reply{Text: "{}", InputTokens: 10, OutputTokens: 20},
	}
}

// --- Builder 方法 ---

// WithReplies 追加脚本化回复
func (m *MockBackend) WithReplies(replies ...Reply) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
	return m
}

// WithText 追加若干纯文本回复
func (m *MockBackend) WithText(texts ...string) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.script = append(m.script, Reply{Text: t, InputTokens: 10, OutputTokens: 20})
	}
	return m
}

// WithDefault 设置脚本耗尽后的回复
func (m *MockBackend) WithDefault(r Reply) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = r
	return m
}

// WithError 设置脚本耗尽后始终返回的错误
func (m *MockBackend) WithError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = Reply{Err: err}
	return m
}

// WithRespondFunc 设置自定义响应函数，优先于脚本
func (m *MockBackend) WithRespondFunc(fn func(ctx context.Context, spec llm.AgentSpec) (*llm.RawReply, error)) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
	return m
}

// WithPricing 设置每百万 token 的价格
func (m *MockBackend) WithPricing(input, output float64) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputRate = input
	m.outputRate = output
	return m
}

// --- llm.ModelBackend 接口实现 ---

// ID 返回后端标识
func (m *MockBackend) ID() llm.BackendID { return m.id }

// EstimateCost 按配置的价格估算成本
func (m *MockBackend) EstimateCost(inputTokens, outputTokens int, _ string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(inputTokens)/1e6*m.inputRate + float64(outputTokens)/1e6*m.outputRate
}

// Call 返回下一条脚本化结果
func (m *MockBackend) Call(ctx context.Context, spec llm.AgentSpec) (*llm.RawReply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, spec)
	if m.respond != nil {
		fn := m.respond
		m.mu.Unlock()
		return fn(ctx, spec)
	}
	r := m.fallback
	if len(m.script) > 0 {
		r = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.RawReply{
		Text:         r.Text,
		ModelEcho:    spec.Model,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
	}, nil
}

// --- 调用记录 ---

// CallCount 返回调用次数
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回所有调用参数的副本
func (m *MockBackend) Calls() []llm.AgentSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.AgentSpec(nil), m.calls...)
}

// LastCall 返回最后一次调用参数
func (m *MockBackend) LastCall() (llm.AgentSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return llm.AgentSpec{}, errors.New("mock backend: no calls recorded")
	}
	return m.calls[len(m.calls)-1], nil
}

// Reset 清空脚本和调用记录
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.calls = nil
}

// --- 常用错误 ---

// RetryableError 返回可重试的后端错误（429）
func RetryableError(id llm.BackendID) error {
	return &llm.BackendError{Code: llm.ErrRateLimited, Status: 429, Body: "rate limited", Retryable: true, Backend: id}
}

// FatalError 返回不可重试的后端错误（401）
func FatalError(id llm.BackendID) error {
	return &llm.BackendError{Code: llm.ErrUnauthorized, Status: 401, Body: "invalid api key", Retryable: false, Backend: id}
}
