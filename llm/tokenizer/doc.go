// Package tokenizer 提供 token 计数，
// 在后端响应缺少 usage 字段时用于估算输入/输出 token 数。
package tokenizer
