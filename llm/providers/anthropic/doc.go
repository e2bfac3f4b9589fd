// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 anthropic 提供 Anthropic Claude 系列模型后端。Claude API 与 OpenAI
格式有显著差异，本包负责将 llm.AgentSpec 映射到 Messages API
（/v1/messages），并处理认证与响应信封解析。

# 核心结构体

  - ClaudeProvider：实现 llm.ModelBackend

# 协议要点

  - 认证：x-api-key 请求头，anthropic-version 默认 2023-06-01
  - system 提示通过顶层 system 字段传递
  - 回复取第一个 text 内容块；没有 text 块视为信封格式错误

# 价格

NewPriceTable 返回按百万 token 计价的默认价格表，未知模型按
claude-3-5-sonnet 的价格估算。
*/
package anthropic
