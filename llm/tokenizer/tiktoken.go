package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter 为 OpenAI 系列模型提供精确计数
type TiktokenCounter struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 模型名前缀到 tiktoken 编码的映射（按前缀长度从长到短匹配）
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{prefix: "gpt-4o-mini", encoding: "o200k_base"},
	{prefix: "gpt-4o", encoding: "o200k_base"},
	{prefix: "gpt-5", encoding: "o200k_base"},
	{prefix: "o1", encoding: "o200k_base"},
	{prefix: "o3", encoding: "o200k_base"},
	{prefix: "o4", encoding: "o200k_base"},
	{prefix: "gpt-4-turbo", encoding: "cl100k_base"},
	{prefix: "gpt-4", encoding: "cl100k_base"},
	{prefix: "gpt-3.5-turbo", encoding: "cl100k_base"},
	{prefix: "text-embedding-3", encoding: "cl100k_base"},
}

// NewTiktokenCounter 创建 tiktoken 计数器，未知模型默认 cl100k_base
func NewTiktokenCounter(model string) *TiktokenCounter {
	m := strings.TrimPrefix(strings.ToLower(model), "openai/")
	encoding := "cl100k_base"
	for _, e := range modelEncodings {
		if strings.HasPrefix(m, e.prefix) {
			encoding = e.encoding
			break
		}
	}
	return &TiktokenCounter{model: model, encoding: encoding}
}

// init 懒加载编码（首次使用时可能下载数据）
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// Encoding 返回所用编码名称
func (t *TiktokenCounter) Encoding() string { return t.encoding }
