// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertLedgerConsistent(t, log)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/behole/institutionalized/audit"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertLedgerConsistent 断言审计日志自洽：
// 序号连续、时间戳单调不减、总成本等于各步成本之和
func AssertLedgerConsistent(t *testing.T, log *audit.Log) {
	t.Helper()

	if log == nil {
		t.Fatal("audit log is nil")
	}
	var sum float64
	for i, s := range log.Steps {
		if s.Seq != i+1 {
			t.Errorf("step[%d] seq = %d, want %d", i, s.Seq, i+1)
		}
		if i > 0 && s.TimestampUTC.Before(log.Steps[i-1].TimestampUTC) {
			t.Errorf("step[%d] timestamp %s before step[%d] %s", i, s.TimestampUTC, i-1, log.Steps[i-1].TimestampUTC)
		}
		sum += s.CostUSD
	}
	if math.Abs(sum-log.TotalCost) > 1e-9 {
		t.Errorf("total cost %.9f != sum of steps %.9f", log.TotalCost, sum)
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}
	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition not met within %s", timeout)
	}
}

// =============================================================================
// ⏳ 等待辅助
// =============================================================================

// WaitFor 轮询等待条件满足，超时返回 false
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 📦 数据辅助
// =============================================================================

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 反序列化 JSON，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

// FencedJSON 把值包装成模型常见的回复格式：说明文字加 ```json 代码块
func FencedJSON(v any) string {
	return "Here is my assessment.\n\n```json\n" + MustJSON(v) + "\n```\n"
}

// =============================================================================
// 🕐 时钟辅助
// =============================================================================

// SteppingClock 返回每次调用前进 step 的确定性时钟
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}
