// Package pricing 提供按模型计价的价格表（美元 / 百万 token）。
package pricing

import (
	"sort"
	"sync"

	"github.com/behole/institutionalized/llm"
)

// perMillion 价格表单位
const perMillion = 1_000_000.0

// Table 单个后端的价格表
// 未知模型使用兜底价格，估算永远不会失败
type Table struct {
	mu       sync.RWMutex
	rates    map[string]llm.Rate // key: model id
	fallback llm.Rate
}

// NewTable 创建价格表
func NewTable(rates map[string]llm.Rate, fallback llm.Rate) *Table {
	t := &Table{
		rates:    make(map[string]llm.Rate, len(rates)),
		fallback: fallback,
	}
	for model, r := range rates {
		t.rates[model] = r
	}
	return t
}

// SetPrice 设置模型价格
func (t *Table) SetPrice(model string, rate llm.Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[model] = rate
}

// UpdatePrices 批量覆盖价格（来自配置）
func (t *Table) UpdatePrices(rates map[string]llm.Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for model, r := range rates {
		t.rates[model] = r
	}
}

// Rate 获取模型价格，第二个返回值表示是否命中价格表
func (t *Table) Rate(model string) (llm.Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[model]
	if !ok {
		return t.fallback, false
	}
	return r, true
}

// Estimate 计算成本（美元）
func (t *Table) Estimate(inputTokens, outputTokens int, model string) float64 {
	r, _ := t.Rate(model)
	return Cost(r, inputTokens, outputTokens)
}

// Models 返回价格表中的模型（已排序）
func (t *Table) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models := make([]string, 0, len(t.rates))
	for m := range t.rates {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Cost 按百万 token 单价计算成本
func Cost(r llm.Rate, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/perMillion*r.Input + float64(outputTokens)/perMillion*r.Output
}
