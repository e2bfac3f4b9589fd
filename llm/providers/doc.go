// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是各模型后端实现的公共基础层。服务商子包（openai、
anthropic、openrouter）依赖本包完成配置转换、HTTP 错误映射与用量补全。

# 核心类型

  - BaseProviderConfig：所有后端共享的基础配置（APIKey、BaseURL、Timeout、Pricing）
  - OpenAIConfig / AnthropicConfig / OpenRouterConfig：各后端特有字段

# 核心函数

  - FromBackendConfig：由 llm.BackendConfig 构造基础配置
  - MapHTTPError：将 HTTP 状态码映射为 *llm.BackendError（含 Retryable 标记）
  - TransportError / MalformedReply：网络错误与响应信封错误
  - FillUsage：服务端未返回用量时用 tokenizer 估算
  - RequireAPIKey：构造期校验 API Key

# 错误语义

  - 400 / 401 / 403 及其他 4xx 不重试
  - 408 / 429 / 5xx / 529 可重试
  - 网络错误与超时可重试
*/
package providers
