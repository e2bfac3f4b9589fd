package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/behole/institutionalized/llm"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`     // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"` // 初始延迟时间
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`         // 最大延迟时间
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`       // 延迟时间倍增因子（指数退避）
	Jitter       bool          `json:"jitter" yaml:"jitter"`               // 是否添加随机抖动
	// ShouldRetry 判断错误是否可重试，为空时使用 IsTransient
	ShouldRetry func(err error) bool `json:"-" yaml:"-"`
	// OnRetry 重试回调
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-" yaml:"-"`
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NoRetry 只执行一次
func NoRetry() *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = 0
	return p
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试；attempt 从 1 开始
	Do(ctx context.Context, fn func(attempt int) error) error
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy

	// 参数校验
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{
		policy: p,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
// 核心重试逻辑：指数退避 + 随机抖动 + 错误分类
func (r *backoffRetryer) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("重试被取消: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		lastErr = fn(attempt + 1)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}

		// 不可重试的错误原样返回
		if !r.policy.ShouldRetry(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return lastErr
		}

		// 上下文已取消时不再重试
		if ctx.Err() != nil {
			return fmt.Errorf("重试被取消: %w", errors.Join(ctx.Err(), lastErr))
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	if r.policy.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("重试 %d 次后仍失败: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间
// 使用指数退避算法 + 可选的随机抖动（±25%）
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	// 指数退避：delay = initial * multiplier^(attempt-1)
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 确保延迟不小于初始延迟
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// Transient 由可重试的错误类型实现（如抽取失败）
type Transient interface {
	Transient() bool
}

// IsTransient 判断错误是否属于可重试类别：
// 标记为 Retryable 的 *llm.BackendError，或实现 Transient 且返回 true 的错误。
// 配置错误、校验错误与上下文取消均不重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var be *llm.BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}

	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
