// Package openrouter 提供 OpenRouter 后端。OpenRouter 使用 OpenAI 兼容的
// Chat Completions 格式，模型 id 带厂商前缀（如 anthropic/claude-3.5-sonnet）。
package openrouter
